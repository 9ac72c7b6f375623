// Profiler worker process: serves the admin API, runs queue workers, and
// drives company profile jobs through the scrape-and-reduce pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/buscafornecedor/profiler/pkg/api"
	"github.com/buscafornecedor/profiler/pkg/chunk"
	"github.com/buscafornecedor/profiler/pkg/cleanup"
	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/database"
	"github.com/buscafornecedor/profiler/pkg/llm"
	"github.com/buscafornecedor/profiler/pkg/observe"
	"github.com/buscafornecedor/profiler/pkg/pipeline"
	"github.com/buscafornecedor/profiler/pkg/queue"
	"github.com/buscafornecedor/profiler/pkg/ratelimit"
	"github.com/buscafornecedor/profiler/pkg/scrape"
	"github.com/buscafornecedor/profiler/pkg/search"
	"github.com/buscafornecedor/profiler/pkg/token"
	"github.com/buscafornecedor/profiler/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory; absence is fine in production
	// where everything arrives through the real environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting profiler",
		"version", version.Full(),
		"config_dir", *configDir,
		"sglang_instance", os.Getenv("SGLANG_INSTANCE_NAME"))

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"providers", stats.Providers,
		"limit_entries", stats.LimitEntries,
		"workers", stats.Workers)

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Metrics
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    version.AppName,
		ServiceVersion: version.GitCommit,
	})
	if err != nil {
		slog.Error("Failed to initialize metrics provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("Metrics provider shutdown error", "error", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("Failed to create metrics instruments", "error", err)
		os.Exit(1)
	}

	// 4. LLM dispatch stack
	tokenizerModel := ""
	if cfg.Chunking.Tokenizer.Type == "tiktoken" {
		tokenizerModel = cfg.Chunking.Tokenizer.Model
	}
	accountant := token.NewAccountant(tokenizerModel, cfg.Chunking.Tokenizer.FallbackCharsPerToken)
	limiter := ratelimit.New()
	dispatcher := llm.NewDispatcher(cfg.Providers, limiter, accountant, cfg.LLM, nil, metrics)
	slog.Info("LLM dispatcher initialized", "providers", dispatcher.DescribeProviders())

	// 5. Scrape and search stack
	scraper := scrape.New(cfg.Scraper, scrape.NewHTTPFetcher(cfg.Scraper), metrics)
	prober := scrape.NewProber(cfg.Scraper.RequestTimeout, nil)

	serperKey := os.Getenv("SERPER_API_KEY")
	if serperKey == "" {
		slog.Warn("SERPER_API_KEY not set; jobs without a seed URL will fail discovery")
	}
	searcher := search.NewClient(serperKey)

	chunker := chunk.New(cfg.Chunking, accountant)

	// 6. Pipeline and worker pool
	orchestrator := pipeline.New(cfg.Pipeline, cfg.Queue.JobTimeout, pipeline.Deps{
		Dispatcher: dispatcher,
		Searcher:   searcher,
		Scraper:    scraper,
		Prober:     prober,
		Chunker:    chunker,
		Accountant: accountant,
		Metrics:    metrics,
	})

	store := queue.NewStore(dbClient.DB(), cfg.Queue.BackoffStep, cfg.Queue.MaxAttempts)
	pool := queue.NewWorkerPool(store, cfg.Queue, &queue.PipelineExecutor{Orchestrator: orchestrator})
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	retention := cleanup.NewService(cfg.Retention, dbClient.DB())
	retention.Start(ctx)

	// 7. Admin API
	server := api.NewServer(dbClient.DB(), store, pool, dispatcher.Health(), cfg.Server)
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Profiler started",
		"pod_id", pool.PodID(),
		"workers", cfg.Queue.WorkerCount)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain workers first so in-flight jobs reach a
	// terminal state, then stop the HTTP surface.
	workerShutdownCtx, workerCancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer workerCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-workerShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded; abandoned jobs will be requeued by the stale scan")
	}

	retention.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
