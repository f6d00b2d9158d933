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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rozgar/cmd/internal/backend"
	"rozgar/config"
	"rozgar/gateway/middleware"
	"rozgar/gateway/routes"
	"rozgar/observability/logging"
	telemetry "rozgar/observability/otel"
	"rozgar/roster"
	"rozgar/storage/journal"
)

var version = "dev"

func main() {
	var cfgPath string
	var envFile string
	var listenFlag string
	flag.StringVar(&cfgPath, "config", "rozgar.toml", "path to configuration (.toml or .yaml)")
	flag.StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the config")
	flag.StringVar(&listenFlag, "listen", "", "override Gateway.ListenAddress")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv not loaded", "path", envFile, "error", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if listenFlag != "" {
		cfg.Gateway.ListenAddress = listenFlag
	}

	logger := logging.Setup("gig-gateway", cfg.Logging.Env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Logging.Env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		ChainID:        cfg.Ledger.ChainID,
		Contract:       cfg.Ledger.ContractAddress,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := backend.Open(ctx, cfg.Ledger, logger)
	if err != nil {
		logger.Error("open ledger", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	store, err := openJournal(cfg.Gateway.JournalPath)
	if err != nil {
		logger.Error("open journal", "path", cfg.Gateway.JournalPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	scanner := roster.NewScanner(client,
		roster.WithMaxConcurrency(cfg.Roster.MaxConcurrency),
		roster.WithRateLimit(cfg.Roster.RequestsPerSecond, cfg.Roster.Burst),
		roster.WithLogger(logger))

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		LogRequests: strings.EqualFold(cfg.Logging.Level, "debug"),
		Enabled:     true,
	}, logger)

	limits := map[string]middleware.RateLimit{
		routes.RateLimitGigs: {
			RequestsPerMinute: cfg.Gateway.RateLimitPerMinute,
			Burst:             cfg.Gateway.RateLimitBurst,
		},
		// Scans fan out across every gig, so they get a tenth of the budget.
		routes.RateLimitScans: {
			RequestsPerMinute: cfg.Gateway.RateLimitPerMinute / 10,
			Burst:             max(1, cfg.Gateway.RateLimitBurst/10),
		},
	}

	handler, err := routes.New(routes.Config{
		Reader:   client,
		Scanner:  scanner,
		Timeline: store,
		HealthCheck: func(ctx context.Context) error {
			_, err := client.Snapshot(ctx)
			return err
		},
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.Gateway.AllowedOrigins},
		Logger:        logger,
	})
	if err != nil {
		logger.Error("build router", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddress,
		Handler:           otelhttp.NewHandler(handler, "gig-gateway"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Gateway.ReadTimeout.Std(),
		WriteTimeout:      cfg.Gateway.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			slog.String("addr", cfg.Gateway.ListenAddress),
			slog.String("backend", string(cfg.Ledger.Backend)),
			slog.String("version", version))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", "error", err)
	}
	logger.Info("gateway stopped")
}

func openJournal(path string) (*journal.Journal, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}
	return journal.Open(path)
}
