package handler

import (
	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/internal/usecase"
)

var (
	chatHandler      *ChatHandler
	webSocketHandler *WebSocketHandler
)

func Setup(
	chatUseCase *usecase.ChatUseCase,
	directory *usecase.ConversationUseCase,
	hub *usecase.StateHub,
	wsManager *ws.Manager,
	session ConnectionSource,
) {
	chatHandler = NewChatHandler(chatUseCase, directory)
	webSocketHandler = NewWebSocketHandler(wsManager, chatUseCase, hub)
	SetupHealthHandler(session)
}

func GetChatHandler() *ChatHandler {
	return chatHandler
}

func GetWebSocketHandler() *WebSocketHandler {
	return webSocketHandler
}
