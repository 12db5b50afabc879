// Parley interview server — runs the HTTP/WebSocket API, the live session
// registry, the coach pipeline, and the idle sweeper.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/parleyhq/parley/pkg/activity"
	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/auth"
	"github.com/parleyhq/parley/pkg/cleanup"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/llm"
	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/ratelimit"
	"github.com/parleyhq/parley/pkg/search"
	"github.com/parleyhq/parley/pkg/session"
	"github.com/parleyhq/parley/pkg/speech"
	"github.com/parleyhq/parley/pkg/store"
	"github.com/parleyhq/parley/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_FILE", "./config.yaml"),
		"Path to YAML configuration file")
	memoryStore := flag.Bool("memory-store", false,
		"Use the in-memory store instead of PostgreSQL (single pod, no durability)")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	slog.Info("Starting parley",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Telemetry
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    version.AppName,
		ServiceVersion: version.GitCommit,
	})
	if err != nil {
		slog.Error("Failed to initialize metrics provider", "error", err)
		os.Exit(1)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("Failed to create metric instruments", "error", err)
		os.Exit(1)
	}

	// 3. Storage
	var (
		st     store.Store
		pinger api.Pinger
	)
	if *memoryStore {
		st = store.NewMemory()
		slog.Warn("Using in-memory store; sessions will not survive restarts")
	} else {
		pg, err := store.NewPostgres(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				slog.Error("Error closing database", "error", err)
			}
		}()
		st = pg
		pinger = pg
		slog.Info("Connected to PostgreSQL database")
	}

	// 4. Provider clients under the rate-limit fabric
	fabric := ratelimit.New(cfg.RateLimit)

	openai, err := llm.NewOpenAI(cfg.Providers.OpenAI)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	llmClient := llm.NewRetrying(openai, fabric, config.ProviderLLM,
		cfg.Providers.OpenAI.MaxRetries, metrics)

	var searchClient search.Client
	if cfg.Providers.Serper.APIKey != "" {
		serper, err := search.NewSerper(cfg.Providers.Serper, fabric)
		if err != nil {
			slog.Error("Failed to initialize search client", "error", err)
			os.Exit(1)
		}
		searchClient = serper
	} else {
		slog.Warn("No search API key configured; resource recommendations use curated fallbacks")
	}

	// 5. Session subsystem
	clock := activity.New(cfg.Session.IdleBudget, cfg.Session.WarningThreshold)
	registry := session.NewRegistry(st, clock, metrics, llmClient, searchClient)
	pipeline := session.NewPipeline(registry, cfg.Session, metrics)
	registry.AttachPipeline(pipeline)

	sweeper := cleanup.NewSweeper(registry, clock, cfg.Session.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 6. Speech subsystem
	tasks := speech.NewTaskService(st)
	transcriber := speech.NewBatchTranscriber(cfg.Providers.AssemblyAI, fabric, metrics)
	synthesizer := speech.NewSynthesizer(cfg.Providers.ElevenLabs, fabric, metrics)
	deepgram := speech.NewDeepgram(cfg.Providers.Deepgram)
	coordinator := speech.NewCoordinator(deepgram, fabric, tasks, metrics)

	// 7. Auth
	verifier, err := auth.New(cfg.Auth)
	if err != nil {
		slog.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}

	// 8. HTTP server (non-blocking)
	server := api.NewServer(cfg.HTTP, api.Deps{
		Registry:    registry,
		Verifier:    verifier,
		Fabric:      fabric,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Coordinator: coordinator,
		Tasks:       tasks,
		Pinger:      pinger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Parley started", "addr", cfg.HTTP.ListenAddr)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, stop the sweeper,
	// drain coach work, flush every live session.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sweeper.Stop()

	done := make(chan struct{})
	go func() {
		pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Coach pipeline drained")
	case <-time.After(cfg.Session.FinalSummaryBudget):
		slog.Warn("Coach pipeline drain timeout exceeded")
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 30*time.Second)
	defer flushCancel()
	registry.FlushAll(flushCtx)

	if err := shutdownMetrics(ctx); err != nil {
		slog.Error("Metrics shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
