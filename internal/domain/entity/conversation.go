package entity

import (
	"sort"
	"time"
)

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationJob     ConversationType = "job"
	ConversationProject ConversationType = "project"
	ConversationGroup   ConversationType = "group"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationJob, ConversationProject, ConversationGroup:
		return true
	}
	return false
}

// LastMessage is the list preview. It is never used to build a timeline.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Participants []string         `json:"participants"`
	Title        string           `json:"title,omitempty"`
	JobID        string           `json:"job_id,omitempty"`
	BidID        string           `json:"bid_id,omitempty"`
	ProjectID    string           `json:"project_id,omitempty"`
	LastMessage  *LastMessage     `json:"last_message,omitempty"`
	UnreadCount  int              `json:"unread_count"`
	IsActive     bool             `json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the first participant that is not self.
func (c *Conversation) OtherParticipant(self string) string {
	for _, p := range c.Participants {
		if p != self {
			return p
		}
	}
	return ""
}

// LastActivity is the time the conversation list is ordered by.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// NormalizeParticipants drops empty and repeated ids and sorts the rest.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SameParticipants compares two participant lists as sets.
func SameParticipants(a, b []string) bool {
	na, nb := NormalizeParticipants(a), NormalizeParticipants(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}
