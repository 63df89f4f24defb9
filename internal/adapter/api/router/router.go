package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"gigchat/internal/adapter/api/handler"
	"gigchat/internal/adapter/api/middleware"
)

func Setup(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, gatherer prometheus.Gatherer) {
	SetupChatRouter(e, handler.GetChatHandler(), authMiddleware)
	SetupWebSocketRouter(e, handler.GetWebSocketHandler(), authMiddleware)
	SetupHealthRouter(e, gatherer)
}
