package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"issuelinks/internal/client"
	"issuelinks/internal/config"
	"issuelinks/internal/handler"
	"issuelinks/internal/issue"
	"issuelinks/internal/middleware"
	"issuelinks/internal/repository"
	"issuelinks/internal/service"
	"issuelinks/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and admin API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	slog.Info("issuelinks starting", "version", Version)
	slog.Info("Configuration loaded",
		"log_level", cfg.LogLevel,
		"authentication_enabled", cfg.EnableAuthentication,
		"webhook_url", cfg.WebhookURL,
		"http_timeout_seconds", cfg.HTTPTimeoutSeconds,
		"port", cfg.Port,
	)

	slog.Info("Initializing Redis connection...")
	rdb, err := openRedis(cfg)
	if err != nil {
		slog.Error("Failed to parse Redis URL", "error", err)
		return err
	}
	defer func() { _ = rdb.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(cfg, rdb),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newMux builds the service layer and mounts every endpoint
func newMux(cfg *config.Config, rdb *redis.Client) *http.ServeMux {
	slog.Debug("Initializing service layer dependencies")
	redisRepo := repository.NewRedisRepository(rdb)
	sender := client.NewHTTPClient(cfg)
	registry := service.NewRegistry(cfg, sender, redisRepo)
	importer := service.NewImporter(redisRepo)
	router := webhook.NewRouter(registry.All()...)
	slog.Info("Service layer dependencies initialized successfully")

	responseWriter := handler.NewResponseWriter()
	webhookHandler := handler.NewWebhookHandler(router, responseWriter)
	adminHandler := handler.NewAdminHandler(registry, importer, redisRepo, responseWriter)
	backends := make([]issue.Backend, 0, len(registry.All()))
	for _, svc := range registry.All() {
		backends = append(backends, svc.Backend())
	}
	healthHandler := handler.NewHealthHandler(Version, rdb, backends, responseWriter)

	mux := http.NewServeMux()

	// Health and metrics, no authentication
	mux.Handle("/health", middleware.SecurityHeadersMiddleware()(http.HandlerFunc(healthHandler.HandleHealth)))
	mux.Handle("/ready", middleware.SecurityHeadersMiddleware()(http.HandlerFunc(healthHandler.HandleReady)))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Deliveries authenticate with their per-hook secrets
	mux.Handle("/webhook", middleware.Chain(http.HandlerFunc(webhookHandler.HandleWebhook),
		middleware.RequestIDMiddleware(),
		middleware.SecurityHeadersMiddleware(),
		middleware.LoggingMiddleware(),
	))

	adminHandler.Register(mux, func(next http.Handler) http.Handler {
		return middleware.Chain(next,
			middleware.RequestIDMiddleware(),
			middleware.SecurityHeadersMiddleware(),
			middleware.AdminAuthMiddleware(cfg),
			middleware.LoggingMiddleware(),
		)
	})

	return mux
}
