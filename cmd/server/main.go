package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/grachmannico95/palette-cheque/internal/cheque"
	"github.com/grachmannico95/palette-cheque/internal/config"
	"github.com/grachmannico95/palette-cheque/internal/dispute"
	"github.com/grachmannico95/palette-cheque/internal/domain"
	"github.com/grachmannico95/palette-cheque/internal/eventbus"
	"github.com/grachmannico95/palette-cheque/internal/handler"
	"github.com/grachmannico95/palette-cheque/internal/ledger"
	"github.com/grachmannico95/palette-cheque/internal/matching"
	"github.com/grachmannico95/palette-cheque/internal/metrics"
	"github.com/grachmannico95/palette-cheque/internal/notify"
	"github.com/grachmannico95/palette-cheque/internal/registry"
	"github.com/grachmannico95/palette-cheque/internal/scheduler"
	"github.com/grachmannico95/palette-cheque/internal/server"
	"github.com/grachmannico95/palette-cheque/internal/signature"
	"github.com/grachmannico95/palette-cheque/internal/site"
	"github.com/grachmannico95/palette-cheque/internal/storage"
	"github.com/grachmannico95/palette-cheque/internal/storage/sqlite"
	"github.com/grachmannico95/palette-cheque/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	log.Info(ctx, "Starting application")

	repo, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatal(ctx, "Failed to open storage",
			"driver", cfg.Storage.Driver,
			"error", err,
		)
	}
	defer repo.Close()
	log.Info(ctx, "Repository initialized", "driver", cfg.Storage.Driver)

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		gatherer = reg
	}

	bus := eventbus.New(log, &eventbus.Config{
		ChannelBuffer:  cfg.EventBus.ChannelBufferSize,
		MaxRetries:     cfg.Worker.MaxRetries,
		RetryBaseDelay: cfg.EventBus.RetryBaseDelay,
	})
	log.Info(ctx, "Event bus initialized")

	signer, err := signature.NewService(cfg.Signing.Seed)
	if err != nil {
		log.Fatal(ctx, "Failed to initialize signing key", "error", err)
	}

	ledgerStore := ledger.NewStore(repo, log,
		ledger.WithRetention(cfg.Ledger.HistoryRetention),
		ledger.WithPublisher(bus),
		ledger.WithMetrics(m),
	)
	siteService := site.NewService(repo, repo, log)
	matcher := matching.NewMatcher(repo, log,
		matching.WithDefaultRadius(cfg.Matching.DefaultRadiusKm),
		matching.WithMetrics(m),
	)
	cheques := cheque.NewRegistry(repo, repo, ledgerStore, signer, siteService, log,
		cheque.WithMatcher(matcher),
		cheque.WithPublisher(bus),
		cheque.WithMetrics(m),
	)
	resolver := dispute.NewResolver(repo, repo, ledgerStore, siteService, log,
		dispute.WithPublisher(bus),
		dispute.WithMetrics(m),
	)
	mirror := registry.NewMirror(ledgerStore, log, registry.WithPrefix(cfg.Registry.SerialPrefix))
	log.Info(ctx, "Services initialized")

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.NATS.URL != "" {
		nn, err := notify.NewNATSNotifier(notify.NATSConfig{
			URL:            cfg.NATS.URL,
			Name:           "palette-cheque",
			Subject:        cfg.NATS.Subject,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
		})
		if err != nil {
			log.Fatal(ctx, "Failed to connect notifier", "error", err)
		}
		defer nn.Close()
		notifiers = append(notifiers, nn)
		log.Info(ctx, "NATS notifier connected", "subject", cfg.NATS.Subject)
	}

	subscribe(ctx, log, bus, eventbus.EventTypeStatusChange, registry.NewMovementConsumer(mirror, domain.ScopeEventLog(repo, "registry"), log, 1))
	notifications := notify.NewConsumer(notifiers, log, cfg.Worker.PoolSize)
	for _, t := range []eventbus.EventType{eventbus.EventTypeStatusChange, eventbus.EventTypeDispute, eventbus.EventTypeLedgerDelta} {
		subscribe(ctx, log, bus, t, notifications)
	}
	if cfg.Dispute.AutoOpen {
		subscribe(ctx, log, bus, eventbus.EventTypeStatusChange, dispute.NewOpenerConsumer(resolver, domain.ScopeEventLog(repo, "dispute-opener"), log, 1))
	}

	if err := bus.Start(ctx); err != nil {
		log.Fatal(ctx, "Failed to start event bus", "error", err)
	}

	sched := scheduler.New(log)
	for _, job := range []scheduler.Job{
		scheduler.EscalationJob(resolver, cfg.Dispute.EscalationInterval, cfg.Dispute.EscalationThreshold),
		scheduler.QuotaResetJob(siteService, cfg.Quota.ResetInterval),
	} {
		if err := sched.Add(job); err != nil {
			log.Fatal(ctx, "Failed to schedule job", "job", job.Name, "error", err)
		}
	}

	srv := server.New(cfg, log, server.Handlers{
		Health:   handler.NewHealthHandler(repo),
		Cheque:   handler.NewChequeHandler(cheques, signer, log),
		Ledger:   handler.NewLedgerHandler(ledgerStore, log),
		Site:     handler.NewSiteHandler(siteService, log),
		Dispute:  handler.NewDisputeHandler(resolver, log),
		Matching: handler.NewMatchingHandler(matcher, log),
		Registry: handler.NewRegistryHandler(mirror, log),
	}, gatherer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests before draining the bus.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "HTTP server shutdown error", "error", err)
		}
		if err := bus.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "Event bus shutdown error", "error", err)
		}
		return nil
	})

	log.Info(ctx, "Application started successfully")

	if err := g.Wait(); err != nil {
		log.Error(context.Background(), "Application stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info(context.Background(), "Application stopped gracefully")
}

func openStorage(cfg config.StorageConfig) (domain.Repository, error) {
	if cfg.Driver == "sqlite" {
		store, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return storage.NewMemoryStore(), nil
}

func subscribe(ctx context.Context, log *logger.Logger, bus eventbus.EventBus, t eventbus.EventType, c eventbus.Consumer) {
	if err := bus.Subscribe(t, c); err != nil {
		log.Fatal(ctx, "Failed to subscribe consumer",
			"event_type", t,
			"error", err,
		)
	}
}
