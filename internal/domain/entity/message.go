package entity

import "time"

type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDelivered MessageStatus = "delivered"
)

// DeletedMessageContent replaces the content of a tombstoned message.
const DeletedMessageContent = "This message was deleted"

type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Message struct {
	ID             string        `json:"id,omitempty"`
	TempID         string        `json:"temp_id,omitempty"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Sender         *Profile      `json:"sender,omitempty"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status"`
	// Sending is the UI affordance for an unacknowledged transport send.
	Sending   bool          `json:"sending,omitempty"`
	IsEdited  bool          `json:"is_edited"`
	IsDeleted bool          `json:"is_deleted"`
	ReplyTo   string        `json:"reply_to,omitempty"`
	ReadBy    []ReadReceipt `json:"read_by,omitempty"`
}

// Key is the live identity of the message: the server id once known, the temp id before.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

func (m *Message) IsPending() bool {
	return m.Status == MessageStatusPending
}

func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MarkReadBy records a reader once. It reports whether ReadBy changed.
func (m *Message) MarkReadBy(userID string, at time.Time) bool {
	if userID == "" || m.IsReadBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	return true
}

// Tombstone keeps the row and its position, dropping the content.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Content = DeletedMessageContent
}

func (m Message) Clone() Message {
	m.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	if m.Sender != nil {
		p := *m.Sender
		m.Sender = &p
	}
	return m
}
