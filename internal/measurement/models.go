package measurement

import (
	"context"
	"errors"
	"time"
)

// DefaultPatientID is used when a payload carries no patient_id
const DefaultPatientID int64 = 1

// ErrNoData is returned when no measurement has been stored yet
var ErrNoData = errors.New("no measurement data")

// Measurement represents a single vital-signs reading from a device
type Measurement struct {
	ID          int64     `json:"id"`
	PatientID   int64     `json:"patient_id"`
	BPM         int       `json:"bpm"`
	SpO2        int       `json:"spo2"`
	Temperature float64   `json:"temperature"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store persists measurements and answers time-ordered queries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append persists m, assigning ID and a zero Timestamp (current time).
	Append(ctx context.Context, m Measurement) (Measurement, error)
	// QueryDescending returns up to limit measurements newest first,
	// optionally restricted to timestamp >= since.
	QueryDescending(ctx context.Context, limit int, since *time.Time) ([]Measurement, error)
	// MostRecent returns nil, nil when the store is empty.
	MostRecent(ctx context.Context) (*Measurement, error)
	QueryWindow(ctx context.Context, since time.Time) ([]Measurement, error)
	Ping(ctx context.Context) error
}

// Newer reports whether a sorts after b: later timestamp, ties by id
func Newer(a, b Measurement) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
