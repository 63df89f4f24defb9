package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/internal/usecase"
	"gigchat/pkg/errors"
	"gigchat/pkg/logger"
	"gigchat/pkg/response"
)

// StateFrame is what UI clients receive on the state stream.
type StateFrame struct {
	Type   string           `json:"type"`
	Change *usecase.Change  `json:"change,omitempty"`
	Data   usecase.Snapshot `json:"data"`
}

type WebSocketHandler struct {
	wsManager   *ws.Manager
	chatUseCase *usecase.ChatUseCase
	hub         *usecase.StateHub
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The bridge listens on loopback and is guarded by the access key.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, chatUseCase *usecase.ChatUseCase, hub *usecase.StateHub) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:   wsManager,
		chatUseCase: chatUseCase,
		hub:         hub,
	}
}

// GetState returns the current snapshot.
func (h *WebSocketHandler) GetState(c echo.Context) error {
	return response.Success(c, h.chatUseCase.Snapshot())
}

// HandleWebSocket upgrades to the state stream. The client gets the current
// snapshot first and a fresh one after every change.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	initial, err := json.Marshal(StateFrame{Type: "snapshot", Data: h.chatUseCase.Snapshot()})
	if err != nil {
		return errors.Internal("Failed to encode state", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := &ws.Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, 64),
	}
	client.Send <- initial

	if !h.wsManager.Add(client) {
		conn.Close()
		return nil
	}

	go client.ReadPump(h.wsManager)
	go client.WritePump()

	return nil
}

// Stream pushes a snapshot to the UI clients after each state change until
// ctx ends. Bursts of changes collapse into one frame.
func (h *WebSocketHandler) Stream(ctx context.Context) {
	changes, cancel := h.hub.Subscribe(128)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				for drained := false; !drained; {
					select {
					case next := <-changes:
						change = next
					default:
						drained = true
					}
				}
				if h.wsManager.ClientCount() == 0 {
					continue
				}
				frame, err := json.Marshal(StateFrame{Type: "change", Change: &change, Data: h.chatUseCase.Snapshot()})
				if err != nil {
					logger.Error("StateStream Error: Failed to encode snapshot: %v", err)
					continue
				}
				h.wsManager.Broadcast(frame)
			}
		}
	}()
}
