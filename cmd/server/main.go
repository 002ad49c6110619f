package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/vitals-server/internal/aggregation"
	"github.com/smukkama/vitals-server/internal/api"
	"github.com/smukkama/vitals-server/internal/database"
	"github.com/smukkama/vitals-server/internal/ingest"
	"github.com/smukkama/vitals-server/internal/logging"
	"github.com/smukkama/vitals-server/internal/measurement"
	"github.com/smukkama/vitals-server/internal/queue"
	"github.com/smukkama/vitals-server/internal/storage"
	"github.com/smukkama/vitals-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "vitals-server")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting vitals server", zap.String("store_backend", cfg.StoreBackend))

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	// Optional event feed
	var publisher ingest.Publisher
	if cfg.Kafka.Enabled {
		if err := queue.CreateTopic(
			cfg.Kafka.Brokers,
			cfg.Kafka.TopicMeasurements,
			cfg.Kafka.NumPartitions,
			1, // replication factor
		); err != nil {
			logger.Info("topic creation failed (may already exist)", zap.Error(err))
		}

		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMeasurements)
		defer producer.Close()
		publisher = producer
		logger.Info("kafka producer initialized",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.TopicMeasurements),
		)
	}

	ingestService := ingest.NewService(store, publisher, logger)
	aggregator := aggregation.NewAggregator(store, cfg.Stats.Window, cfg.Stats.HistoryDefaultLimit)
	handler := api.New(ingestService, aggregator, store, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.WithLogging(handler, logger),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
}

// openStore connects the configured backend and returns a cleanup func
func openStore(cfg *config.Config, logger *zap.Logger) (measurement.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
		return storage.NewRedisStore(client, cfg.Redis.KeyPrefix), func() { client.Close() }, nil

	default:
		db, err := database.Connect(cfg.Database.ConnectionString(), logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

		if err := db.RunMigrations(cfg.Database.MigrationsDir); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return db, func() { db.Close() }, nil
	}
}
