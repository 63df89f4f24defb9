package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"gigchat/internal/domain/entity"
	"gigchat/internal/domain/repository"
	"gigchat/pkg/errors"
)

type restChatRepository struct {
	client *Client
}

func NewRestChatRepository(client *Client) repository.ChatRepository {
	return &restChatRepository{client: client}
}

func chatPath(conversationID string, rest ...string) string {
	p := "/v1/chats/" + url.PathEscape(conversationID)
	for _, seg := range rest {
		p += "/" + url.PathEscape(seg)
	}
	return p
}

// listPayload is either a bare array or the paginated {items: [...]} object.
type listPayload[T any] struct {
	Items []T
}

func (l *listPayload[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &l.Items)
	}
	var page struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return err
	}
	l.Items = page.Items
	return nil
}

func (r *restChatRepository) ListConversations(ctx context.Context) ([]*entity.Conversation, error) {
	var payload listPayload[conversationDTO]
	if err := r.client.do(ctx, http.MethodGet, "/v1/chats?limit=100", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]*entity.Conversation, 0, len(payload.Items))
	for i := range payload.Items {
		out = append(out, payload.Items[i].toEntity(r.client.userID))
	}
	return out, nil
}

func (r *restChatRepository) GetMessages(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error) {
	path := chatPath(conversationID, "messages")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var payload listPayload[messageDTO]
	if err := r.client.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	out := make([]*entity.Message, 0, len(payload.Items))
	for i := range payload.Items {
		msg := payload.Items[i].toEntity()
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		out = append(out, msg)
	}
	return out, nil
}

// messageResponse covers both {message: {...}, sender: {...}} and a bare message.
type messageResponse struct {
	messageDTO
	Message *messageDTO `json:"message"`
}

func (m *messageResponse) resolve(conversationID string) *entity.Message {
	dto := &m.messageDTO
	if m.Message != nil {
		dto = m.Message
	}
	msg := dto.toEntity()
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return msg
}

func (r *restChatRepository) SendMessage(ctx context.Context, conversationID string, params repository.SendMessageParams) (*entity.Message, error) {
	body := struct {
		repository.SendMessageParams
		Type string `json:"type"`
	}{SendMessageParams: params, Type: "text"}

	var resp messageResponse
	if err := r.client.do(ctx, http.MethodPost, chatPath(conversationID, "messages"), body, &resp); err != nil {
		return nil, err
	}
	msg := resp.resolve(conversationID)
	if msg.ID == "" {
		return nil, errors.Internal("Send response carried no message id", nil)
	}
	return msg, nil
}

func (r *restChatRepository) EditMessage(ctx context.Context, conversationID, messageID, content string) (*entity.Message, error) {
	body := map[string]string{"content": content}
	var resp messageResponse
	if err := r.client.do(ctx, http.MethodPut, chatPath(conversationID, "messages", messageID), body, &resp); err != nil {
		return nil, err
	}
	msg := resp.resolve(conversationID)
	if msg.ID == "" {
		msg.ID = messageID
	}
	return msg, nil
}

func (r *restChatRepository) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return r.client.do(ctx, http.MethodDelete, chatPath(conversationID, "messages", messageID), nil, nil)
}

func (r *restChatRepository) MarkRead(ctx context.Context, conversationID string) error {
	return r.client.do(ctx, http.MethodPut, chatPath(conversationID, "read"), nil, nil)
}

func (r *restChatRepository) CreateOrGetConversation(ctx context.Context, params repository.CreateConversationParams) (*entity.Conversation, error) {
	var dto conversationDTO
	if err := r.client.do(ctx, http.MethodPost, "/v1/chats", params, &dto); err != nil {
		return nil, err
	}
	if dto.ID == "" {
		return nil, errors.Internal("Create response carried no conversation id", nil)
	}
	conv := dto.toEntity(r.client.userID)
	if len(conv.Participants) == 0 {
		conv.Participants = entity.NormalizeParticipants(params.Participants)
	}
	return conv, nil
}

func (r *restChatRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.BadRequest("conversation id is required", nil)
	}
	return r.client.do(ctx, http.MethodDelete, chatPath(conversationID), nil, nil)
}
