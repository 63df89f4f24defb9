package entity

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const MaxMessageLength = 4000

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationInactive = errors.New("conversation is not active")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyMessage         = errors.New("message text cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrNotOwner             = errors.New("only the sender can change this message")
	ErrMessageDeleted       = errors.New("message was deleted")
	ErrNotFailed            = errors.New("message is not in failed state")
	ErrInvalidParticipants  = errors.New("invalid participant set")
	ErrNoActiveConversation = errors.New("no active conversation")
)

// ValidateMessageText trims text and checks it against the length bounds.
func ValidateMessageText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}
