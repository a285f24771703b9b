package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/interview-gateway/internal/analytics"
	"github.com/lexiqai/interview-gateway/internal/calls"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/notify"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/responses"
	"github.com/lexiqai/interview-gateway/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("analytics_url", cfg.AnalyticsURL).
		Bool("database", cfg.DatabaseURL != "").
		Bool("mqtt", cfg.MQTTBrokerURL != "").
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview Gateway Service starting")

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	checks := map[string]observability.HealthCheckFunc{}

	// Response store
	store, err := openStore(startupCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open response store")
	}
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, responses are kept in memory")
	}
	defer store.Close()
	checks["database"] = func(ctx context.Context) (bool, error) {
		if err := store.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	// Analytics client; calls are still served without it
	var scorer analytics.Scorer
	analyticsClient, err := analytics.NewClient(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Analytics client unavailable, calls will not be analysed")
	} else {
		defer analyticsClient.Close()
		scorer = analyticsClient
		checks["analytics"] = analyticsClient.HealthCheck
	}

	// Lifecycle notifications are optional
	var serviceOpts []calls.ServiceOption
	if cfg.MQTTBrokerURL != "" {
		notifier, err := notify.NewMQTTNotifier(cfg, logger)
		if err != nil {
			logger.Error().Err(err).Msg("MQTT notifier unavailable, call events will not be published")
		} else {
			defer notifier.Close()
			serviceOpts = append(serviceOpts, calls.WithNotifier(notifier))
		}
	}

	service := calls.NewService(cfg, store, scorer, logger, serviceOpts...)

	// Create HTTP router
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/calls", calls.Routes(service))
	r.Handle("/streams/interview", stream.NewHandler(cfg, service, stream.DefaultEngines(cfg)))

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		endpoint := fmt.Sprintf("ws://localhost:%s/streams/interview", cfg.Port)
		if cfg.PublicURL != "" {
			endpoint = cfg.PublicURL + "/streams/interview"
		}
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	// Hijacked media sockets are not tracked by the server; end their sessions here
	if err := service.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Int("active_sessions", service.ActiveSessions()).Msg("Sessions did not finish saving")
	}

	logger.Info().Msg("Server exited gracefully")
}

// openStore picks the response store from the DSN scheme
func openStore(ctx context.Context, dsn string) (responses.Store, error) {
	switch {
	case dsn == "":
		return responses.NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		sqlite, err := responses.NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return sqlite, nil
	default:
		pg, err := responses.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
}
