package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/vitals-server/internal/measurement"
	"github.com/smukkama/vitals-server/internal/protocol"
	"github.com/smukkama/vitals-server/internal/status"
	"github.com/smukkama/vitals-server/internal/validation"
)

// Publisher sends encoded events downstream; *queue.Producer implements it
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Service validates raw payloads and appends them to the store
type Service struct {
	store     measurement.Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates an ingestion service. publisher may be nil.
func NewService(store measurement.Store, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest validates raw and persists it. Validation failures are returned as
// *validation.Error and nothing is written. Every call appends a new record;
// identical payloads are not deduplicated.
func (s *Service) Ingest(ctx context.Context, raw map[string]any) (measurement.Measurement, error) {
	m, err := validation.Parse(raw)
	if err != nil {
		return measurement.Measurement{}, err
	}

	stored, err := s.store.Append(ctx, m)
	if err != nil {
		return measurement.Measurement{}, fmt.Errorf("failed to append measurement: %w", err)
	}

	result := status.Evaluate(stored)
	s.logger.Debug("measurement stored",
		zap.Int64("id", stored.ID),
		zap.Int64("patient_id", stored.PatientID),
		zap.Stringer("status", result.Severity),
	)

	if s.publisher != nil {
		s.publish(ctx, stored, result)
	}

	return stored, nil
}

// publish is best effort: the record is already durable
func (s *Service) publish(ctx context.Context, m measurement.Measurement, result status.Result) {
	event := protocol.NewMeasurementEvent(m, result, s.now().UTC())
	data, err := protocol.EncodeMeasurementEvent(event)
	if err != nil {
		s.logger.Error("failed to encode measurement event", zap.Int64("id", m.ID), zap.Error(err))
		return
	}

	key := strconv.FormatInt(m.PatientID, 10)
	if err := s.publisher.Publish(ctx, key, data); err != nil {
		s.logger.Warn("failed to publish measurement event",
			zap.Int64("id", m.ID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}
}
