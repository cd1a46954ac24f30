package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grachmannico95/palette-cheque/internal/config"
	"github.com/grachmannico95/palette-cheque/internal/handler"
	"github.com/grachmannico95/palette-cheque/internal/middleware"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

// Handlers groups the HTTP handlers mounted by the server.
type Handlers struct {
	Health   *handler.HealthHandler
	Cheque   *handler.ChequeHandler
	Ledger   *handler.LedgerHandler
	Site     *handler.SiteHandler
	Dispute  *handler.DisputeHandler
	Matching *handler.MatchingHandler
	Registry *handler.RegistryHandler
}

type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	logger   *logger.Logger
	handlers Handlers
	gatherer prometheus.Gatherer
	ready    bool
}

// New builds the server. A nil gatherer disables /metrics.
func New(
	cfg *config.Config,
	log *logger.Logger,
	handlers Handlers,
	gatherer prometheus.Gatherer,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo:     e,
		cfg:      cfg,
		logger:   log,
		handlers: handlers,
		gatherer: gatherer,
	}
}

func (s *Server) Start() error {
	s.setup()

	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info(context.Background(), "Starting HTTP server",
		"address", addr,
	)

	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setup() {
	if s.ready {
		return
	}
	s.ready = true
	s.setupMiddleware()
	s.setupRoutes()
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(echoMiddleware.CORS())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Scope())
	s.echo.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.echo.GET("/health", h.Health.Check)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/public-key", h.Cheque.PublicKey)

	api := v1.Group("/palette")

	cheques := api.Group("/cheques")
	cheques.GET("", h.Cheque.List)
	cheques.POST("", h.Cheque.Create)
	cheques.GET("/:id", h.Cheque.Get)
	cheques.POST("/:id/dispatch", h.Cheque.Dispatch)
	cheques.POST("/:id/deposit", h.Cheque.Deposit)
	cheques.POST("/:id/receive", h.Cheque.Receive)
	cheques.POST("/:id/cancel", h.Cheque.Cancel)
	cheques.GET("/:id/verify", h.Cheque.Verify)
	cheques.GET("/:id/proof", h.Cheque.Proof)

	ledgers := api.Group("/ledger")
	ledgers.GET("", h.Ledger.List)
	ledgers.GET("/stats", h.Ledger.Stats)
	ledgers.GET("/:companyId", h.Ledger.Get)
	ledgers.GET("/:companyId/history", h.Ledger.History)
	ledgers.POST("/:companyId/adjust", h.Ledger.Adjust)

	sites := api.Group("/sites")
	sites.GET("", h.Site.List)
	sites.POST("", h.Site.Create)
	sites.GET("/:id", h.Site.Get)
	sites.PUT("/:id", h.Site.Update)
	sites.PUT("/:id/quota", h.Site.UpdateQuota)
	sites.POST("/:id/reset-quota", h.Site.ResetQuota)
	sites.PUT("/:id/activate", h.Site.SetActive)
	sites.DELETE("/:id", h.Site.Delete)
	sites.GET("/:id/stats", h.Site.Stats)

	disputes := api.Group("/disputes")
	disputes.GET("", h.Dispute.List)
	disputes.POST("", h.Dispute.Create)
	disputes.GET("/stats", h.Dispute.Stats)
	disputes.GET("/:id", h.Dispute.Get)
	disputes.POST("/:id/propose-resolution", h.Dispute.Propose)
	disputes.POST("/:id/validate", h.Dispute.Validate)
	disputes.POST("/:id/comment", h.Dispute.Comment)
	disputes.POST("/:id/escalate", h.Dispute.Escalate)
	disputes.POST("/:id/reject", h.Dispute.Reject)

	matching := api.Group("/matching")
	matching.POST("/find-sites", h.Matching.FindSites)
	matching.POST("/best-site", h.Matching.BestSite)
	matching.GET("/stats", h.Matching.Stats)

	registry := api.Group("/registry")
	registry.POST("/validate-serial", h.Registry.ValidateSerial)
	registry.GET("/sync/:companyId", h.Registry.Sync)
	registry.GET("/stats", h.Registry.Stats)
}

// Handler returns the configured echo instance, for tests.
func (s *Server) Handler() *echo.Echo {
	s.setup()
	return s.echo
}
