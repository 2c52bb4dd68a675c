package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tpsl_monitor/internal/api"
	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/engine"
	"tpsl_monitor/internal/execution"
	"tpsl_monitor/internal/infra"
	"tpsl_monitor/internal/infra/bybit"
	"tpsl_monitor/internal/infra/storage"
	"tpsl_monitor/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage // nil when storage is disabled
	Metrics  *infra.Metrics
	Registry *service.OrderRegistry
	Feed     *bybit.Subscriber
	Monitor  *engine.Monitor
	Closer   *execution.JournalCloser
	Server   *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration and builds every component.
// Nothing is started yet.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping TP/SL monitor...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", configPath))
	} else if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (trigger journal)
	var journal domain.TriggerJournal
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		journal = store
		slog.Info("✅ Trigger journal initialized")
	}

	// 4. Engine
	b.Metrics = &infra.Metrics{}
	b.Registry = service.NewOrderRegistry()
	b.Feed = bybit.NewSubscriber(cfg, b.Metrics)
	b.Monitor = engine.NewMonitor(cfg, b.Registry, b.Feed, b.Metrics)

	// 5. Trigger consumer, registered before Start
	var settler execution.Settler
	if cfg.Settlement.URL != "" {
		var signer *execution.Signer
		if cfg.Settlement.Secret != "" {
			signer = execution.NewSigner(cfg.Settlement.APIKey, cfg.Settlement.Secret)
		}
		settler = execution.NewHTTPSettler(cfg.Settlement.URL, cfg.SettlementTimeout(), cfg.Settlement.MaxRetries, signer)
		slog.Info("✅ Settlement endpoint configured", slog.String("url", cfg.Settlement.URL))
	}
	b.Closer = execution.NewJournalCloser(journal, settler)
	b.Monitor.RegisterTriggerCallback(b.Closer.OnTrigger)

	// 6. HTTP boundary
	b.Server = api.NewServer(cfg, b.Monitor, journal, b.Metrics)

	return nil
}

// Shutdown stops the HTTP server and the monitor, then closes storage.
func (b *Bootstrap) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if b.Server != nil {
		if err := b.Server.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown failed", slog.Any("error", err))
		}
	}
	if b.Monitor != nil {
		b.Monitor.Stop()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close storage", slog.Any("error", err))
		}
	}
}
