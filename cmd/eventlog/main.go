package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/vitals-server/internal/logging"
	"github.com/smukkama/vitals-server/internal/protocol"
	"github.com/smukkama/vitals-server/internal/queue"
	"github.com/smukkama/vitals-server/internal/status"
	"github.com/smukkama/vitals-server/pkg/config"
)

// eventlog tails the measurement event topic and writes one structured log
// line per event, at warn level for non-normal readings.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, "vitals-eventlog")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicMeasurements, "eventlog-group")
	defer consumer.Close()
	logger.Info("kafka consumer initialized", zap.String("topic", cfg.Kafka.TopicMeasurements))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for {
			msg, err := consumer.Consume(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Error("failed to consume message", zap.Error(err))
				continue
			}

			event, err := protocol.DecodeMeasurementEvent(msg.Value)
			if err != nil {
				logger.Error("failed to decode event", zap.Int64("offset", msg.Offset), zap.Error(err))
			} else {
				logEvent(logger, event)
			}

			if err := consumer.Commit(ctx, msg); err != nil {
				logger.Error("failed to commit offset", zap.Error(err))
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stats := consumer.Stats()
	logger.Info("shutting down", zap.Int64("messages", stats.Messages), zap.Int64("errors", stats.Errors))
}

func logEvent(logger *zap.Logger, event *protocol.MeasurementEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.EventID),
		zap.Int64("id", event.Measurement.ID),
		zap.Int64("patient_id", event.Measurement.PatientID),
		zap.Int("bpm", event.Measurement.BPM),
		zap.Int("spo2", event.Measurement.SpO2),
		zap.Float64("temperature", event.Measurement.Temperature),
		zap.Stringer("status", event.Status),
		zap.Strings("issues", event.Issues),
	}

	if event.Status == status.Normal {
		logger.Info("measurement", fields...)
		return
	}
	logger.Warn("measurement", fields...)
}
