package repository

import (
	"bytes"
	"encoding/json"
	"time"

	"gigchat/internal/domain/entity"
)

// conversationDTO accepts both the current wire shape and the older one where
// last_message is a plain string and unread_count is keyed by user id.
type conversationDTO struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Participants  []string        `json:"participants"`
	Title         string          `json:"title"`
	JobID         string          `json:"job_id"`
	BidID         string          `json:"bid_id"`
	ProjectID     string          `json:"project_id"`
	LastMessage   json.RawMessage `json:"last_message"`
	LastMessageAt time.Time       `json:"last_message_at"`
	LastSenderID  string          `json:"last_sender_id"`
	UnreadCount   json.RawMessage `json:"unread_count"`
	IsActive      *bool           `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (d *conversationDTO) toEntity(currentUserID string) *entity.Conversation {
	conv := &entity.Conversation{
		ID:           d.ID,
		Type:         entity.ConversationType(d.Type),
		Participants: entity.NormalizeParticipants(d.Participants),
		Title:        d.Title,
		JobID:        d.JobID,
		BidID:        d.BidID,
		ProjectID:    d.ProjectID,
		UnreadCount:  parseUnread(d.UnreadCount, currentUserID),
		IsActive:     d.IsActive == nil || *d.IsActive,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if !conv.Type.Valid() {
		if len(conv.Participants) == 2 {
			conv.Type = entity.ConversationDirect
		} else {
			conv.Type = entity.ConversationGroup
		}
	}
	conv.LastMessage = parseLastMessage(d.LastMessage, d.LastMessageAt, d.LastSenderID)
	return conv
}

func parseLastMessage(raw json.RawMessage, at time.Time, senderID string) *entity.LastMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] == '"' {
		var content string
		if err := json.Unmarshal(raw, &content); err != nil || content == "" {
			return nil
		}
		return &entity.LastMessage{Content: content, SenderID: senderID, CreatedAt: at}
	}
	var lm entity.LastMessage
	if err := json.Unmarshal(raw, &lm); err != nil {
		return nil
	}
	if lm.CreatedAt.IsZero() {
		lm.CreatedAt = at
	}
	return &lm
}

func parseUnread(raw json.RawMessage, currentUserID string) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	var perUser map[string]int
	if err := json.Unmarshal(raw, &perUser); err == nil {
		if v := perUser[currentUserID]; v > 0 {
			return v
		}
	}
	return 0
}

type readByList []entity.ReadReceipt

// UnmarshalJSON takes either a list of user ids or a list of {user_id, read_at}.
func (r *readByList) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err == nil {
		out := make(readByList, 0, len(ids))
		for _, id := range ids {
			out = append(out, entity.ReadReceipt{UserID: id})
		}
		*r = out
		return nil
	}
	var receipts []entity.ReadReceipt
	if err := json.Unmarshal(data, &receipts); err != nil {
		return err
	}
	*r = receipts
	return nil
}

type messageDTO struct {
	ID             string     `json:"id"`
	TempID         string     `json:"temp_id"`
	ConversationID string     `json:"conversation_id"`
	ChatID         string     `json:"chat_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	Status         string     `json:"status"`
	IsEdited       bool       `json:"is_edited"`
	IsDeleted      bool       `json:"is_deleted"`
	ReplyTo        string     `json:"reply_to"`
	ReadBy         readByList `json:"read_by"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (d *messageDTO) toEntity() *entity.Message {
	msg := &entity.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		CreatedAt:      d.CreatedAt,
		Status:         entity.MessageStatus(d.Status),
		IsEdited:       d.IsEdited,
		IsDeleted:      d.IsDeleted,
		ReplyTo:        d.ReplyTo,
	}
	if msg.ConversationID == "" {
		msg.ConversationID = d.ChatID
	}
	switch msg.Status {
	case entity.MessageStatusSent, entity.MessageStatusDelivered:
	default:
		msg.Status = entity.MessageStatusSent
	}
	seen := make(map[string]struct{}, len(d.ReadBy))
	for _, r := range d.ReadBy {
		if _, dup := seen[r.UserID]; dup || r.UserID == "" {
			continue
		}
		seen[r.UserID] = struct{}{}
		msg.ReadBy = append(msg.ReadBy, r)
	}
	if msg.IsDeleted {
		msg.Tombstone()
	}
	return msg
}

type profileDTO struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	AvatarURL    string    `json:"avatar_url"`
	PhotoURL     string    `json:"photo_url"`
	Online       *bool     `json:"online"`
	OnlineStatus string    `json:"online_status"`
	LastSeen     time.Time `json:"last_seen"`
}

func (d *profileDTO) toEntity(id string) *entity.Profile {
	p := &entity.Profile{
		ID:        d.ID,
		AvatarURL: d.AvatarURL,
		LastSeen:  d.LastSeen,
	}
	if p.ID == "" {
		p.ID = id
	}
	switch {
	case d.DisplayName != "":
		p.DisplayName = d.DisplayName
	case d.Username != "":
		p.DisplayName = d.Username
	case d.FullName != "":
		p.DisplayName = d.FullName
	default:
		p.DisplayName = entity.FallbackDisplayName(p.ID)
	}
	if p.AvatarURL == "" {
		p.AvatarURL = d.PhotoURL
	}
	if d.Online != nil {
		p.Online = *d.Online
	} else {
		p.Online = d.OnlineStatus == "online"
	}
	return p
}
