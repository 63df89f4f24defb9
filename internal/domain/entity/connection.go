package entity

import "time"

type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionError        ConnectionStatus = "error"
)

type ConnectionState struct {
	Status  ConnectionStatus `json:"status"`
	Attempt int              `json:"attempt,omitempty"`
	Error   string           `json:"error,omitempty"`
	// AuthFailed is set when the server rejected the token; no reconnect follows.
	AuthFailed bool      `json:"auth_failed,omitempty"`
	Since      time.Time `json:"since"`
}
