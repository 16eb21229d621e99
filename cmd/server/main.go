// Command warelay-server is the warelay event relay process.
// It loads configuration, initialises instance identity, and starts the
// ingestion pipeline and HTTP transport.
//
// Usage:
//
//	warelay-server [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warelay/warelay/internal/auth"
	"github.com/warelay/warelay/internal/broadcast"
	"github.com/warelay/warelay/internal/config"
	"github.com/warelay/warelay/internal/dispatch"
	"github.com/warelay/warelay/internal/handler"
	"github.com/warelay/warelay/internal/ident"
	"github.com/warelay/warelay/internal/metrics"
	"github.com/warelay/warelay/internal/normalize"
	"github.com/warelay/warelay/internal/queue"
	"github.com/warelay/warelay/internal/store"
	transphttp "github.com/warelay/warelay/internal/transport/http"
	"github.com/warelay/warelay/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise instance identity ──────────────────────────────────────
	inst, err := ident.New(cfg.Server.DataDir, cfg.Server.ID)
	if err != nil {
		return fmt.Errorf("init instance identity: %w", err)
	}

	logger.Info("warelay starting",
		"instance_id", inst.ID(),
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"env", cfg.Server.Env,
		"data_dir", inst.DataDir(),
	)

	// ── 4. Initialise metrics registry ───────────────────────────────────────
	metricsReg := &metrics.Registry{}

	// ── 5. Open the message archive (bbolt) ──────────────────────────────────
	archive, err := store.Open(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	// ── 6. Build the pipeline: lanes → dispatcher → workers ──────────────────
	lanes := queue.NewLanes()
	disp := dispatch.New(lanes, cfg.Queue.MaxAttempts, cfg.Queue.RetryDelays(), metricsReg, logger)

	hub := broadcast.NewHub(logger)
	pipeline := handler.NewPipeline(archive, hub)

	pool := worker.NewPool(worker.Config{
		Workers:        cfg.Queue.Workers,
		HandlerTimeout: cfg.Queue.HandlerTimeout(),
		PollInterval:   cfg.Queue.PollInterval(),
		System:         "warelay",
	}, lanes, pipeline, archive, metricsReg, logger)
	pool.Start()

	// ── 7. Build the auth gates ───────────────────────────────────────────────
	production := cfg.Production()
	webhookGate := auth.NewWebhookGate(cfg.Auth.WebhookSecret, production, logger)
	receiverGate := auth.NewReceiverGate(cfg.Auth.ReceiverAPIKey, production, logger)

	// ── 8. Start HTTP transport ──────────────────────────────────────────────
	srv := transphttp.New(cfg, transphttp.Deps{
		WebhookGate:  webhookGate,
		ReceiverGate: receiverGate,
		Normalizer:   normalize.New(),
		Dispatcher:   disp,
		Lanes:        lanes,
		Archive:      archive,
		Hub:          hub,
		Metrics:      metricsReg,
		InstanceID:   inst.ID(),
		Log:          logger,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Serve in a background goroutine so we can handle signals.
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("warelay ready", "instance_id", inst.ID(), "addr", addr)
		if err := srv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 9. Graceful shutdown on SIGINT / SIGTERM ──────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Stop intake first so nothing new is enqueued, then drain the workers.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("server shutdown error", "err", err)
	}
	hub.Close()
	pool.Stop()
	lanes.Close()
	if err := archive.Close(); err != nil {
		logger.Warn("archive close error", "err", err)
	}

	logger.Info("warelay stopped")
	return nil
}
