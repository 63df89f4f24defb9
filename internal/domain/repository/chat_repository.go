package repository

import (
	"context"

	"gigchat/internal/domain/entity"
)

type CreateConversationParams struct {
	Type         entity.ConversationType `json:"type"`
	Participants []string                `json:"participants"`
	Title        string                  `json:"title,omitempty"`
	JobID        string                  `json:"job_id,omitempty"`
	BidID        string                  `json:"bid_id,omitempty"`
	ProjectID    string                  `json:"project_id,omitempty"`
}

type SendMessageParams struct {
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"`
	// TempID is forwarded so the server can echo it on the push channel.
	TempID string `json:"temp_id,omitempty"`
}

// ChatRepository is the marketplace REST API as seen by the sync client.
type ChatRepository interface {
	ListConversations(ctx context.Context) ([]*entity.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error)
	SendMessage(ctx context.Context, conversationID string, params SendMessageParams) (*entity.Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, content string) (*entity.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	MarkRead(ctx context.Context, conversationID string) error
	CreateOrGetConversation(ctx context.Context, params CreateConversationParams) (*entity.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}
