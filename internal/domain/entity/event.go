package entity

import "time"

// EventHandler receives every push event kind. Adding a kind adds a method here,
// so every handler has to be updated before the module builds again.
type EventHandler interface {
	HandleNewMessage(NewMessageEvent)
	HandleMessageAck(MessageAckEvent)
	HandleTyping(TypingEvent)
	HandleReadReceipt(ReadReceiptEvent)
	HandlePresence(PresenceEvent)
	HandleConversationUpdate(ConversationUpdateEvent)
	HandleError(ErrorEvent)
	HandleConnection(ConnectionEvent)
}

// Event is a closed set; only types in this package implement it.
type Event interface {
	Accept(h EventHandler)
	event()
}

type NewMessageEvent struct {
	Message    Message
	SenderName string
}

// MessageAckEvent confirms a send (message_sent) or reports delivery (delivery_receipt).
type MessageAckEvent struct {
	ConversationID string
	MessageID      string
	TempID         string
	Status         MessageStatus
	CreatedAt      time.Time
}

type TypingEvent struct {
	ConversationID string
	UserID         string
	UserName       string
	Typing         bool
	ExpiresAt      time.Time
}

type ReadReceiptEvent struct {
	ConversationID string
	MessageID      string
	ReaderID       string
	ReadAt         time.Time
}

type PresenceEvent struct {
	UserID      string
	DisplayName string
	Online      bool
	LastSeen    time.Time
}

// ConversationUpdateEvent is the list-level notification sent to participants
// that do not have the conversation open.
type ConversationUpdateEvent struct {
	ConversationID string
	LastMessage    *LastMessage
	SenderName     string
}

type ErrorEvent struct {
	Message string
}

type ConnectionEvent struct {
	State     ConnectionState
	CloseCode int
}

func (e NewMessageEvent) Accept(h EventHandler)         { h.HandleNewMessage(e) }
func (e MessageAckEvent) Accept(h EventHandler)         { h.HandleMessageAck(e) }
func (e TypingEvent) Accept(h EventHandler)             { h.HandleTyping(e) }
func (e ReadReceiptEvent) Accept(h EventHandler)        { h.HandleReadReceipt(e) }
func (e PresenceEvent) Accept(h EventHandler)           { h.HandlePresence(e) }
func (e ConversationUpdateEvent) Accept(h EventHandler) { h.HandleConversationUpdate(e) }
func (e ErrorEvent) Accept(h EventHandler)              { h.HandleError(e) }
func (e ConnectionEvent) Accept(h EventHandler)         { h.HandleConnection(e) }

func (NewMessageEvent) event()         {}
func (MessageAckEvent) event()         {}
func (TypingEvent) event()             {}
func (ReadReceiptEvent) event()        {}
func (PresenceEvent) event()           {}
func (ConversationUpdateEvent) event() {}
func (ErrorEvent) event()              {}
func (ConnectionEvent) event()         {}
