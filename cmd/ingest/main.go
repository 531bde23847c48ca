package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/ingestion-service/internal/attribution"
	"github.com/pagepulse/ingestion-service/internal/config"
	"github.com/pagepulse/ingestion-service/internal/deadletter"
	"github.com/pagepulse/ingestion-service/internal/dedup"
	"github.com/pagepulse/ingestion-service/internal/enricher"
	"github.com/pagepulse/ingestion-service/internal/geo"
	"github.com/pagepulse/ingestion-service/internal/handler"
	"github.com/pagepulse/ingestion-service/internal/logger"
	"github.com/pagepulse/ingestion-service/internal/pipeline"
	"github.com/pagepulse/ingestion-service/internal/repository/clickhouse"
	"github.com/pagepulse/ingestion-service/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting ingestion service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort))

	ctx := context.Background()

	// Initialize ClickHouse client and repository
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	repo := clickhouse.NewRepository(chClient, log)

	if err := repo.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	// Initialize dedup store
	dedupStore, err := dedup.NewValkeyStore(ctx, cfg.Valkey, log)
	if err != nil {
		log.Fatal("Failed to create Valkey dedup store", zap.Error(err))
	}
	defer func() {
		if err := dedupStore.Close(); err != nil {
			log.Error("Failed to close Valkey client", zap.Error(err))
		}
	}()

	deduplicator := dedup.New(dedupStore, dedup.Config{
		Window:    cfg.Valkey.DedupWindow,
		KeyBucket: cfg.Valkey.DedupKeyBucket,
		FailOpen:  cfg.Valkey.DedupFailOpen,
	}, log)

	// Initialize dead-letter sink
	var sink deadletter.Sink
	if cfg.SQS.QueueURL != "" {
		sink, err = deadletter.NewSQSSink(ctx, cfg.SQS, log)
		if err != nil {
			log.Fatal("Failed to create SQS dead-letter sink", zap.Error(err))
		}
	} else {
		log.Warn("No dead-letter queue configured, failed batches will only be logged")
		sink = deadletter.NewLogSink(log)
	}

	// Initialize country resolver
	var countries enricher.CountryResolver
	if cfg.Geo.Endpoint != "" {
		countries = geo.NewHTTPResolver(cfg.Geo.Endpoint, cfg.Geo.Timeout, log)
	} else {
		log.Warn("No geo endpoint configured, events will persist with unknown country")
	}

	// Assemble the pipeline
	writer := pipeline.NewBatchWriter(repo, sink, pipeline.BatchWriterConfig{
		MaxBatchSize:   cfg.Pipeline.MaxBatchSize,
		MaxBatchAge:    cfg.Pipeline.MaxBatchAge,
		IntakeCapacity: cfg.Pipeline.IntakeCapacity,
		MaxRetries:     cfg.Pipeline.FlushMaxRetries,
		RetryBase:      cfg.Pipeline.FlushRetryBase,
		RetryCap:       cfg.Pipeline.FlushRetryCap,
		DrainTimeout:   cfg.Pipeline.DrainTimeout,
	}, log)

	pipe := pipeline.New(
		validator.New(),
		enricher.New(countries, log),
		deduplicator,
		writer,
		log,
	)

	resolver := attribution.NewResolver(repo, pipe, attribution.Config{
		LookbackWindow: cfg.Attribution.LookbackWindow,
		RetryDelay:     cfg.Attribution.RetryDelay,
	}, log)

	h := handler.NewHandler(pipe, resolver, repo, dedupStore, log)

	writerCtx, stopWriter := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writer.Run(writerCtx)
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Service.APIPort),
		Handler: h,
	}

	go func() {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully")

	// Stop intake first, then drain the writer's remaining buffer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	stopWriter()
	wg.Wait()

	log.Info("Shutdown complete")
}
