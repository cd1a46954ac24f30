package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/grachmannico95/palette-cheque/pkg/logger"
	"github.com/labstack/echo/v4"
)

// Scope copies the route's resource ids into the request context, so every
// log line written while serving /cheques/:id, /disputes/:id or a
// :companyId route carries cheque_id, dispute_id or company_id.
// It must be registered with Use, which runs after routing.
func Scope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := scopeContext(c.Request().Context(), c)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func scopeContext(ctx context.Context, c echo.Context) context.Context {
	route := c.Path()

	if id := c.Param("companyId"); id != "" {
		ctx = logger.WithCompanyID(ctx, id)
	}

	id := c.Param("id")
	if id == "" {
		return ctx
	}
	switch {
	case strings.Contains(route, "/cheques/:id"):
		ctx = logger.WithChequeID(ctx, id)
	case strings.Contains(route, "/disputes/:id"):
		ctx = logger.WithDisputeID(ctx, id)
	}
	return ctx
}

// Logging writes one access line per request. Client errors log at warn and
// server errors at error; health and metrics scrapes drop to debug.
func Logging(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo's error handler set the final status before it is logged.
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			fields := []interface{}{
				"method", req.Method,
				"route", c.Path(),
				"path", req.URL.Path,
				"status", status,
				"bytes_out", c.Response().Size,
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", c.RealIP(),
			}
			if err != nil {
				fields = append(fields, "error", err)
			}

			ctx := req.Context()
			switch {
			case status >= http.StatusInternalServerError:
				log.Error(ctx, "Request failed", fields...)
			case status >= http.StatusBadRequest:
				log.Warn(ctx, "Request rejected", fields...)
			case isScrapeRoute(c.Path()):
				log.Debug(ctx, "Request served", fields...)
			default:
				log.Info(ctx, "Request served", fields...)
			}

			return nil
		}
	}
}

func isScrapeRoute(route string) bool {
	return route == "/health" || route == "/metrics"
}
