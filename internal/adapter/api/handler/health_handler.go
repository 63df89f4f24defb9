package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"gigchat/internal/domain/entity"
)

// ConnectionSource reports the push connection state.
type ConnectionSource interface {
	State() entity.ConnectionState
}

type HealthHandler struct {
	session ConnectionSource
}

var healthHandler *HealthHandler

func NewHealthHandler(session ConnectionSource) *HealthHandler {
	return &HealthHandler{
		session: session,
	}
}

func SetupHealthHandler(session ConnectionSource) {
	healthHandler = NewHealthHandler(session)
}

func GetHealthHandler() *HealthHandler {
	return healthHandler
}

// CheckHealth is 200 while the engine can still recover, 503 once the
// server rejected the credentials.
func (h *HealthHandler) CheckHealth(c echo.Context) error {
	state := h.session.State()
	status := http.StatusOK
	label := "ok"
	switch {
	case state.AuthFailed:
		status = http.StatusServiceUnavailable
		label = "auth_rejected"
	case state.Status != entity.ConnectionConnected:
		label = "degraded"
	}

	return c.JSON(status, map[string]interface{}{
		"status":     label,
		"connection": state,
		"time":       time.Now().Format(time.RFC3339),
	})
}
