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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/friction/internal/config"
	"github.com/gosight/gosight/friction/internal/consumer"
	"github.com/gosight/gosight/friction/internal/enricher"
	"github.com/gosight/gosight/friction/internal/ingest"
	"github.com/gosight/gosight/friction/internal/metrics"
	"github.com/gosight/gosight/friction/internal/producer"
	"github.com/gosight/gosight/friction/internal/server"
	"github.com/gosight/gosight/friction/internal/session"
	"github.com/gosight/gosight/friction/internal/store"
	"github.com/gosight/gosight/friction/internal/validation"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/frictiond.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Str("redis_addr", cfg.Redis.Addr).
		Dur("tick_rate", cfg.Engine.TickRate).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize dependencies
	m := metrics.New()

	validator, err := validation.NewValidator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create validator")
	}
	defer validator.Close()
	log.Info().Msg("Validator initialized")

	clientEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer clientEnricher.Close()

	opts := session.Options{Metrics: m}

	scores := store.NewScoreStore(cfg.Redis, cfg.Session.SnapshotTTL)
	if scores != nil {
		defer scores.Close()
		opts.Publisher = scores
		log.Info().Msg("Score snapshots enabled")
	}

	notifier := producer.NewNotifier(cfg.Kafka)
	if notifier != nil {
		defer notifier.Close()
		opts.OnRescue = notifier.OnRescue
		log.Info().Msg("Rescue notifications enabled")
	}

	sessions := session.NewManager(ctx, cfg.Engine, cfg.Session, opts)
	managerDone := make(chan struct{})
	go func() {
		sessions.Run(ctx)
		close(managerDone)
	}()

	dispatcher := ingest.NewDispatcher(sessions, m, nil)

	// Kafka event source is optional
	var kafkaConsumer *consumer.KafkaConsumer
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ConsumerGroup != "" {
		kafkaConsumer, err = consumer.NewKafkaConsumer(cfg.Kafka, dispatcher)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka consumer")
		}
		go kafkaConsumer.Start(ctx)
	}

	srv := server.New(cfg.Server, sessions, dispatcher, validator, clientEnricher, m)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	cancel()
	if kafkaConsumer != nil {
		kafkaConsumer.Close()
	}
	<-managerDone

	log.Info().Msg("Shutdown complete")
}
