package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"gigchat/internal/domain/entity"
	"gigchat/internal/usecase"
	"gigchat/pkg/response"
	"gigchat/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
	directory   *usecase.ConversationUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase, directory *usecase.ConversationUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
		directory:   directory,
	}
}

type startConversationRequest struct {
	Type         string   `json:"type" validate:"required,oneof=direct job project group"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
	Title        string   `json:"title" validate:"max=120"`
	JobID        string   `json:"job_id" validate:"required_if=Type job"`
	BidID        string   `json:"bid_id"`
	ProjectID    string   `json:"project_id" validate:"required_if=Type project"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
	ReplyTo string `json:"reply_to"`
}

type editMessageRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type composerRequest struct {
	Text string `json:"text"`
}

// ListConversations returns the visible conversations, filtered by ?q=.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	views := h.directory.SearchViews(c.QueryParam("q"), time.Now())
	return response.Success(c, views)
}

// StartConversation reuses a matching conversation or creates one.
func (h *ChatHandler) StartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conv, err := h.chatUseCase.StartConversation(c.Request().Context(), usecase.StartConversationInput{
		Type:         entity.ConversationType(req.Type),
		Participants: req.Participants,
		Title:        req.Title,
		JobID:        req.JobID,
		BidID:        req.BidID,
		ProjectID:    req.ProjectID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conv)
}

func (h *ChatHandler) DeleteConversation(c echo.Context) error {
	if err := h.chatUseCase.DeleteConversation(c.Request().Context(), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"id": c.Param("id")})
}

// SelectConversation opens a conversation: history, room join, mark read.
func (h *ChatHandler) SelectConversation(c echo.Context) error {
	id := c.Param("id")
	if err := h.chatUseCase.SelectConversation(c.Request().Context(), id); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, h.chatUseCase.Snapshot())
}

func (h *ChatHandler) MarkRead(c echo.Context) error {
	if err := h.chatUseCase.MarkRead(c.Request().Context(), c.Param("id")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"id": c.Param("id")})
}

// GetMessages pages through the local timeline, newest page first.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	messages := h.chatUseCase.Messages(c.Param("id"))
	params := utils.GetPaginationParams(c)
	start, end := params.LatestWindow(len(messages))

	return response.Paginated(c, messages[start:end], int64(len(messages)), params.Page, params.PageSize)
}

// SendMessage answers 202 while the message is pending on the push channel
// and 201 once the server has confirmed it.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.chatUseCase.SendMessage(c.Request().Context(), usecase.SendMessageInput{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		ReplyTo:        req.ReplyTo,
	})
	if err != nil {
		return response.Error(c, err)
	}

	if msg.IsPending() {
		return response.Accepted(c, msg)
	}
	return response.Created(c, msg)
}

func (h *ChatHandler) EditMessage(c echo.Context) error {
	var req editMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	msg, err := h.chatUseCase.EditMessage(c.Request().Context(), usecase.EditMessageInput{
		ConversationID: c.Param("id"),
		MessageID:      c.Param("messageId"),
		Content:        req.Content,
	})
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, msg)
}

func (h *ChatHandler) DeleteMessage(c echo.Context) error {
	if err := h.chatUseCase.DeleteMessage(c.Request().Context(), c.Param("id"), c.Param("messageId")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"id": c.Param("messageId")})
}

// RetryMessage resends a failed message; messageId is its temporary id.
func (h *ChatHandler) RetryMessage(c echo.Context) error {
	msg, err := h.chatUseCase.RetryMessage(c.Request().Context(), c.Param("id"), c.Param("messageId"))
	if err != nil {
		return response.Error(c, err)
	}
	if msg.IsPending() {
		return response.Accepted(c, msg)
	}
	return response.Success(c, msg)
}

func (h *ChatHandler) DiscardMessage(c echo.Context) error {
	if err := h.chatUseCase.DiscardMessage(c.Param("id"), c.Param("messageId")); err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]string{"id": c.Param("messageId")})
}

// UpdateComposer feeds the typing indicator.
func (h *ChatHandler) UpdateComposer(c echo.Context) error {
	var req composerRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	h.chatUseCase.UpdateComposer(c.Request().Context(), c.Param("id"), req.Text)
	return response.Accepted(c, nil)
}
