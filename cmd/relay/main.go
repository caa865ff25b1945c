package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/ChatGPT-CN/chat-ai/internal/config"
	"github.com/ChatGPT-CN/chat-ai/internal/metrics"
	"github.com/ChatGPT-CN/chat-ai/internal/providers"
	"github.com/ChatGPT-CN/chat-ai/internal/providers/registry"
	"github.com/ChatGPT-CN/chat-ai/internal/relay"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("chat_path", cfg.ChatPath).
		Dur("provider_timeout", cfg.ProviderTimeout).
		Bool("forward_upstream_status", cfg.ForwardUpstreamStatus).
		Msg("starting chat-ai relay")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.Global()
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	reg := registry.New(cfg.Endpoints)
	log.Info().Strs("providers", reg.Known()).Msg("provider adapters registered")

	svc := relay.New(relay.Config{
		Registry: reg,
		Dispatcher: providers.NewDispatcher(providers.DispatcherConfig{
			HTTPClient:       httpClient,
			MaxResponseBytes: cfg.MaxResponseBytes,
			Logger:           log.Logger,
			Metrics:          m,
		}),
		Logger:                log.Logger,
		Metrics:               m,
		ChatPath:              cfg.ChatPath,
		MaxRequestBytes:       cfg.MaxRequestBytes,
		ForwardUpstreamStatus: cfg.ForwardUpstreamStatus,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(cfg, svc, log.Logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		result = multierror.Append(result, err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop http server: %w", err))
	}
	httpClient.CloseIdleConnections()

	if err := result.ErrorOrNil(); err != nil {
		log.Error().Err(err).Msg("stopped with errors")
		os.Exit(1)
	}
	log.Info().Msg("stopped")
}

func newRouter(cfg *config.RelayConfig, svc *relay.Service, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get(cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(cfg.MetricsPath, promhttp.Handler())
	svc.Routes(r)
	return r
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
