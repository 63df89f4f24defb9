package router

import (
	"github.com/labstack/echo/v4"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

// SetupWebSocketRouter sets up the state snapshot and its push stream
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/v1/state", wsHandler.GetState, authMiddleware.Authenticate)
	e.GET("/v1/state/ws", wsHandler.HandleWebSocket, authMiddleware.Authenticate)
}
