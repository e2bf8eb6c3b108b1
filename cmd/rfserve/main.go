package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rforest/internal/cfg"
	"rforest/internal/forest"
	"rforest/internal/metrics"
	"rforest/internal/server"
	"rforest/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		logLevel  = flag.String("log-level", "", "Log level: debug, info, warn, error")
		port      = flag.Int("port", 0, "HTTP port (overrides config)")
		rateLimit = flag.Float64("rate-limit", 0, "Prediction batches per second, 0 for unlimited")
		burst     = flag.Int("burst", 10, "Burst size for the rate limiter")
	)
	flag.Parse()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *logLevel != "" {
		c.LogLevel = *logLevel
	}
	if *port > 0 {
		c.ServerPort = *port
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	recorder := metrics.NewRecorder(m)

	// The store is opened only while loading so rftrain can write to it
	// while the server runs.
	reload := func() (server.Predictor, storage.ModelVersion, error) {
		return loadActive(c, recorder)
	}

	model, version, err := reload()
	if err != nil {
		log.Warn().Err(err).Msg("no active model, serving without one until reload")
	}

	ms := server.NewModelServer(model, version, c.ServerPort,
		server.WithMetrics(m),
		server.WithTimeout(c.RequestTimeout),
		server.WithRateLimit(*rateLimit, *burst),
		server.WithReloader(reload),
	)

	if c.MetricsPort != c.ServerPort {
		startMetricsServer(ctx, c)
	}

	go func() {
		if err := ms.Start(); err != nil {
			log.Error().Err(err).Msg("model server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := ms.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown model server")
	}
	log.Info().Msg("model server stopped")
}

// loadActive reads the active version of the configured model from the store.
func loadActive(c cfg.Settings, recorder *metrics.Recorder) (server.Predictor, storage.ModelVersion, error) {
	store, err := storage.New(c.DataPath)
	if err != nil {
		return nil, storage.ModelVersion{}, err
	}
	defer store.Close()

	f := forest.New[string](
		forest.WithLogger(log.Logger),
		forest.WithMetrics(recorder),
	)
	version, err := store.LoadActive(c.ModelName, f)
	if err != nil {
		return nil, storage.ModelVersion{}, err
	}
	return f, version, nil
}

// startMetricsServer serves Prometheus metrics on the dedicated metrics port.
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()
}
