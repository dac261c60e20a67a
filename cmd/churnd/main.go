package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"churn-engine/internal/api"
	"churn-engine/internal/cfg"
	"churn-engine/internal/common"
	"churn-engine/internal/dataset"
	"churn-engine/internal/engine"
	"churn-engine/internal/metrics"
	"churn-engine/internal/ml"
	"churn-engine/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg(".env file could not be read")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mw := metrics.NewWrapper(metrics.NewWithRegistry(registry))

	hub := api.NewHub()
	opts := []engine.Option{engine.WithEventSink(hub)}
	if c.MetricsEnabled {
		opts = append(opts, engine.WithMetrics(mw))
	}

	store := initializeStorage(c)
	var runs api.RunLister
	if store != nil {
		defer store.Close()
		runs = store
		opts = append(opts, engine.WithModelManager(ml.NewModelManager(store)), engine.WithRunLog(store))
	}

	eng := engine.New(engineConfig(c), dataset.NewLoader(c.LoadTimeout), opts...)
	if restored, err := eng.Restore(); err != nil {
		log.Warn().Err(err).Msg("failed to restore active model, starting untrained")
	} else if restored {
		log.Info().Msg("active model restored from storage")
	}

	bootstrap(ctx, eng, c)

	serverCfg := api.Config{
		Port:         c.ServerPort,
		TrainTimeout: c.TrainTimeout,
		Runs:         runs,
	}
	if c.MetricsEnabled {
		serverCfg.Gatherer = registry
		serverCfg.Metrics = mw
	}
	server := api.NewServer(eng, hub, serverCfg)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start API server")
	}

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, server)
}

// setupLogging applies the configured level; LOG_FORMAT=console switches to human output
func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if os.Getenv(common.EnvLogFormat) == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
			log.Warn().Err(err).Msg("data directory unavailable, continuing without model registry")
			return nil
		}
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without model registry")
			return nil
		}
		return store
	}
	return nil
}

func engineConfig(c cfg.Settings) engine.Config {
	return engine.Config{
		Schema:           c.SchemaSpec(),
		Train:            c.TrainConfig(),
		Explain:          c.ExplainConfig(),
		Workers:          c.ScoringWorkers,
		OutputPath:       c.OutputPath,
		DriftThreshold:   c.DriftThreshold,
		ImportanceSample: c.ImportanceSample,
	}
}

// bootstrap trains and scores the configured sources, if any. Failures are logged and the
// server still starts so the sources can be supplied over HTTP.
func bootstrap(ctx context.Context, eng *engine.Engine, c cfg.Settings) {
	if c.TrainingSource != "" {
		trainCtx, cancel := context.WithTimeout(ctx, c.TrainTimeout)
		err := eng.BuildModel(trainCtx, c.TrainingSource)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("source", c.TrainingSource).Msg("initial training failed")
			return
		}
	}
	if c.TestingSource == "" || eng.State() == engine.StateUninitialized {
		return
	}
	if err := eng.SetTestingDataFrame(ctx, c.TestingSource); err != nil {
		log.Error().Err(err).Str("source", c.TestingSource).Msg("initial scoring data load failed")
		return
	}
	if err := eng.Predict(ctx); err != nil {
		log.Error().Err(err).Msg("initial scoring failed")
	}
}

// waitForShutdown waits for shutdown signals and stops the server gracefully
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *api.Server) {
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

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown timeout, forcing exit")
	}
}
