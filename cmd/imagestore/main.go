// Command imagestore serves the image storage service over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	imagestorage "github.com/Skryldev/image-storage"
	"github.com/Skryldev/image-storage/adapters/vips"
	"github.com/Skryldev/image-storage/api"
	"github.com/Skryldev/image-storage/config"
	"github.com/Skryldev/image-storage/hooks"
	"github.com/Skryldev/image-storage/tempurl"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("imagestore exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg)
	log.Logger = logger

	// For receiving Ctrl+C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Backend == config.BackendVips {
		// Must run after svc.Close.
		defer vips.Shutdown()
	}
	svc, err := imagestorage.New(cfg)
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	defer svc.Close()

	svcLogger := hooks.NewZerologLogger(logger.With().Str("component", "imagestore").Logger())
	metrics := hooks.NewPrometheusMetrics(prometheus.DefaultRegisterer)
	svc.SetLogger(svcLogger)
	svc.SetMetrics(metrics)
	svc.AddHook(hooks.NewLoggingHook(svcLogger))
	svc.AddHook(hooks.NewMetricsHook(metrics))

	router := api.NewRouter(api.Deps{
		Service:   svc,
		TempURLs:  tempurl.New(cfg.TempURLCapacity, cfg.TempURLTTL),
		Logger:    logger,
		Gatherer:  prometheus.DefaultGatherer,
		HTTP:      cfg.HTTP,
		URLPrefix: cfg.URLPrefix,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.HTTP.Addr).
			Str("backend", string(cfg.Backend)).
			Str("root", svc.Store().Root()).
			Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited gracefully")
	return nil
}

// newLogger writes human-readable output outside production and JSON
// in production.
func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.HTTP.IsProduction {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
