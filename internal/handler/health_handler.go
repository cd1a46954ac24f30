package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is implemented by the storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage Pinger
	now     func() time.Time
}

func NewHealthHandler(storage Pinger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		now:     time.Now,
	}
}

func (h *HealthHandler) Check(c echo.Context) error {
	status, code := "ok", http.StatusOK
	if err := h.storage.Ping(c.Request().Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]interface{}{
		"status":    status,
		"service":   "palette-cheque",
		"timestamp": h.now().Format(time.RFC3339),
	})
}
