package usecase

import (
	"sync"
	"time"

	"gigchat/internal/domain/entity"
)

type ChangeKind string

const (
	ChangeConversations ChangeKind = "conversations"
	ChangeActive        ChangeKind = "active"
	ChangeMessages      ChangeKind = "messages"
	ChangeTyping        ChangeKind = "typing"
	ChangeProfiles      ChangeKind = "profiles"
	ChangeConnection    ChangeKind = "connection"
)

// Change tells subscribers which slice of the state moved. ConversationID is
// empty for changes that are not scoped to one conversation.
type Change struct {
	Kind           ChangeKind `json:"kind"`
	ConversationID string     `json:"conversation_id,omitempty"`
}

// StateHub fans change notifications out to observers. A slow subscriber
// misses notifications instead of stalling the event loop.
type StateHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

func NewStateHub() *StateHub {
	return &StateHub{subs: make(map[int]chan Change)}
}

// Subscribe returns a change stream and the function that ends it.
func (h *StateHub) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *StateHub) Publish(change Change) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

type ConversationView struct {
	*entity.Conversation
	DisplayTitle string `json:"display_title"`
	// Presence is the other participant's status in direct conversations.
	Presence string `json:"presence,omitempty"`
}

type TypingView struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Snapshot is everything a view needs to render, copied out of the engine.
type Snapshot struct {
	CurrentUserID        string                 `json:"current_user_id"`
	Conversations        []ConversationView     `json:"conversations"`
	TotalUnread          int                    `json:"total_unread"`
	ActiveConversationID string                 `json:"active_conversation_id,omitempty"`
	Messages             []entity.Message       `json:"messages"`
	Typing               []TypingView           `json:"typing"`
	Connection           entity.ConnectionState `json:"connection"`
	LastError            string                 `json:"last_error,omitempty"`
	GeneratedAt          time.Time              `json:"generated_at"`
}
