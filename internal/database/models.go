package database

import (
	"database/sql"
	"time"

	"github.com/smukkama/vitals-server/internal/measurement"
)

const measurementColumns = "id, patient_id, bpm, spo2, temperature, timestamp"

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row scanner) (measurement.Measurement, error) {
	var m measurement.Measurement
	err := row.Scan(
		&m.ID,
		&m.PatientID,
		&m.BPM,
		&m.SpO2,
		&m.Temperature,
		&m.Timestamp,
	)
	return m, err
}

// nullTime maps a zero time to NULL so the column default applies
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
