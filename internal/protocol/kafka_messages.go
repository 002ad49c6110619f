package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/vitals-server/internal/measurement"
	"github.com/smukkama/vitals-server/internal/status"
)

// EventTypeMeasurementIngested marks a measurement that was durably stored
const EventTypeMeasurementIngested = "measurement.ingested"

// MeasurementEvent is the message published to Kafka after ingestion
type MeasurementEvent struct {
	EventID     string                  `json:"event_id"`
	Type        string                  `json:"type"`
	Measurement measurement.Measurement `json:"measurement"`
	Status      status.Severity         `json:"status"`
	Issues      []string                `json:"issues"`
	IngestedAt  time.Time               `json:"ingested_at"`
}

// NewMeasurementEvent builds an ingestion event with a fresh event id
func NewMeasurementEvent(m measurement.Measurement, result status.Result, ingestedAt time.Time) *MeasurementEvent {
	return &MeasurementEvent{
		EventID:     uuid.NewString(),
		Type:        EventTypeMeasurementIngested,
		Measurement: m,
		Status:      result.Severity,
		Issues:      result.Issues,
		IngestedAt:  ingestedAt,
	}
}

// EncodeMeasurementEvent encodes a MeasurementEvent to JSON
func EncodeMeasurementEvent(event *MeasurementEvent) ([]byte, error) {
	return json.Marshal(event)
}

// DecodeMeasurementEvent decodes JSON to MeasurementEvent
func DecodeMeasurementEvent(data []byte) (*MeasurementEvent, error) {
	var event MeasurementEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
