package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tpsl_monitor/internal/app"
	"tpsl_monitor/internal/event"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Pprof Server (for performance profiling)
	if cfg.App.PprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", cfg.App.PprofAddr))
			if err := http.ListenAndServe(cfg.App.PprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Monitor (feed + evaluator + dispatcher)
	event.Warmup()
	bootstrap.Monitor.Start(ctx)
	slog.InfoContext(ctx, "✅ TP/SL monitor started", slog.String("feed", cfg.Feed.WSURL))

	// 5. HTTP Server
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- bootstrap.Server.Start()
	}()

	slog.InfoContext(ctx, "✨ TP/SL monitor fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			slog.Error("❌ HTTP server failed", slog.Any("error", err))
		}
	}

	slog.Info("👋 Shutting down gracefully...")
	bootstrap.Shutdown(10 * time.Second)
}
