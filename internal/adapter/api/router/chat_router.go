package router

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

// SetupChatRouter sets up the conversation and message routes of the bridge
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	chatGroup := e.Group("/v1/conversations")
	chatGroup.Use(authMiddleware.Authenticate)

	// Conversation management
	chatGroup.GET("", chatHandler.ListConversations)              // GET /v1/conversations?q= - List or search
	chatGroup.POST("", chatHandler.StartConversation)             // POST /v1/conversations - Start or reuse
	chatGroup.DELETE("/:id", chatHandler.DeleteConversation)      // DELETE /v1/conversations/:id - Soft delete
	chatGroup.POST("/:id/select", chatHandler.SelectConversation) // POST /v1/conversations/:id/select - Open
	chatGroup.PUT("/:id/read", chatHandler.MarkRead)              // PUT /v1/conversations/:id/read - Mark read
	chatGroup.PUT("/:id/composer", chatHandler.UpdateComposer)    // PUT /v1/conversations/:id/composer - Typing

	// Message management
	chatGroup.GET("/:id/messages", chatHandler.GetMessages)
	chatGroup.POST("/:id/messages", chatHandler.SendMessage)
	chatGroup.PUT("/:id/messages/:messageId", chatHandler.EditMessage)
	chatGroup.DELETE("/:id/messages/:messageId", chatHandler.DeleteMessage)
	chatGroup.POST("/:id/messages/:messageId/retry", chatHandler.RetryMessage)
	chatGroup.POST("/:id/messages/:messageId/discard", chatHandler.DiscardMessage)
}
