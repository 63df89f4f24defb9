package entity

import "time"

type TypingEntry struct {
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (t TypingEntry) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
