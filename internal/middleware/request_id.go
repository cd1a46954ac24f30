package middleware

import (
	"github.com/google/uuid"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
	"github.com/labstack/echo/v4"
)

const (
	HeaderTraceID = "X-Trace-ID"

	maxTraceIDLength = 128
)

// RequestID tags every request with a trace id. An incoming X-Trace-ID wins
// over X-Request-ID; ids that are too long or not printable ASCII are
// replaced so they cannot corrupt log lines.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			traceID := req.Header.Get(HeaderTraceID)
			if traceID == "" {
				traceID = req.Header.Get(echo.HeaderXRequestID)
			}
			if !validTraceID(traceID) {
				traceID = uuid.New().String()
			}

			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), traceID)))
			c.Response().Header().Set(HeaderTraceID, traceID)

			return next(c)
		}
	}
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
