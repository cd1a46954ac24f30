package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/grachmannico95/palette-cheque/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestEcho(t *testing.T) (*echo.Echo, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewWithCore(core)

	e := echo.New()
	e.Use(RequestID())
	e.Use(Scope())
	e.Use(Logging(log))

	handler := func(c echo.Context) error {
		log.Info(c.Request().Context(), "Handler reached")
		return c.NoContent(http.StatusOK)
	}
	api := e.Group("/api/v1/palette")
	api.GET("/cheques/:id/verify", handler)
	api.GET("/disputes/:id", handler)
	api.GET("/ledger/:companyId", handler)
	api.GET("/sites/:id", handler)
	api.GET("/cheques/:id/proof", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "cheque not found")
	})
	api.GET("/boom", func(c echo.Context) error {
		return errors.New("storage down")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	return e, logs
}

func serve(e *echo.Echo, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestScope_TagsLogsWithRouteIDs(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		key   string
		value string
		none  []string
	}{
		{"cheque", "/api/v1/palette/cheques/CHQ-1/verify", "cheque_id", "CHQ-1", []string{"dispute_id", "company_id"}},
		{"dispute", "/api/v1/palette/disputes/DSP-7", "dispute_id", "DSP-7", []string{"cheque_id", "company_id"}},
		{"company", "/api/v1/palette/ledger/COMP-3", "company_id", "COMP-3", []string{"cheque_id", "dispute_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, logs := newTestEcho(t)

			rec := serve(e, tt.path, nil)
			require.Equal(t, http.StatusOK, rec.Code)

			handlerLogs := logs.FilterMessage("Handler reached").All()
			require.Len(t, handlerLogs, 1)
			fields := handlerLogs[0].ContextMap()
			assert.Equal(t, tt.value, fields[tt.key])
			for _, key := range tt.none {
				assert.NotContains(t, fields, key)
			}

			access := logs.FilterMessage("Request served").All()
			require.Len(t, access, 1)
			assert.Equal(t, tt.value, access[0].ContextMap()[tt.key])
		})
	}
}

func TestScope_SiteRoutesCarryNoResourceID(t *testing.T) {
	e, logs := newTestEcho(t)

	serve(e, "/api/v1/palette/sites/SITE-1", nil)

	fields := logs.FilterMessage("Handler reached").All()[0].ContextMap()
	assert.NotContains(t, fields, "cheque_id")
	assert.NotContains(t, fields, "dispute_id")
	assert.NotContains(t, fields, "company_id")
}

func TestRequestID_EchoesOrGenerates(t *testing.T) {
	t.Run("trace header is kept", func(t *testing.T) {
		e, logs := newTestEcho(t)

		rec := serve(e, "/api/v1/palette/disputes/DSP-1", http.Header{HeaderTraceID: {"trace-abc"}})

		assert.Equal(t, "trace-abc", rec.Header().Get(HeaderTraceID))
		assert.Equal(t, "trace-abc", logs.FilterMessage("Handler reached").All()[0].ContextMap()["trace_id"])
	})

	t.Run("request id header is used as fallback", func(t *testing.T) {
		e, _ := newTestEcho(t)

		rec := serve(e, "/api/v1/palette/disputes/DSP-1", http.Header{echo.HeaderXRequestID: {"req-42"}})

		assert.Equal(t, "req-42", rec.Header().Get(HeaderTraceID))
	})

	t.Run("missing or unprintable ids are replaced", func(t *testing.T) {
		e, _ := newTestEcho(t)

		rec := serve(e, "/api/v1/palette/disputes/DSP-1", nil)
		generated := rec.Header().Get(HeaderTraceID)
		assert.Len(t, generated, 36)

		rec = serve(e, "/api/v1/palette/disputes/DSP-1", http.Header{HeaderTraceID: {"bad id\twith spaces"}})
		assert.NotEqual(t, "bad id\twith spaces", rec.Header().Get(HeaderTraceID))
		assert.Len(t, rec.Header().Get(HeaderTraceID), 36)

		rec = serve(e, "/api/v1/palette/disputes/DSP-1", http.Header{HeaderTraceID: {strings.Repeat("a", 129)}})
		assert.Len(t, rec.Header().Get(HeaderTraceID), 36)
	})
}

func TestLogging_LevelFollowsStatus(t *testing.T) {
	e, logs := newTestEcho(t)

	rec := serve(e, "/api/v1/palette/cheques/CHQ-9/proof", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, "/api/v1/palette/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	serve(e, "/health", nil)

	rejected := logs.FilterMessage("Request rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
	fields := rejected[0].ContextMap()
	assert.Equal(t, "/api/v1/palette/cheques/:id/proof", fields["route"])
	assert.Equal(t, "CHQ-9", fields["cheque_id"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])

	failed := logs.FilterMessage("Request failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "storage down", failed[0].ContextMap()["error"])

	served := logs.FilterMessage("Request served").All()
	require.Len(t, served, 1)
	assert.Equal(t, zapcore.DebugLevel, served[0].Level)
	assert.Equal(t, "/health", served[0].ContextMap()["route"])
}
