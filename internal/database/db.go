package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/smukkama/vitals-server/internal/measurement"
)

// DB wraps the database connection and implements measurement.Store
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// Connect establishes a connection to the database
func Connect(connectionString string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return New(db, logger), nil
}

// New wraps an already opened *sql.DB
func New(db *sql.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{DB: db, logger: logger}
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.logger.Info("running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info("migrations completed", zap.Int("count", len(sqlFiles)))
	return nil
}

// Append inserts a measurement; the database assigns id and, when the
// timestamp is zero, the current time
func (db *DB) Append(ctx context.Context, m measurement.Measurement) (measurement.Measurement, error) {
	query := `
		INSERT INTO measurements (patient_id, bpm, spo2, temperature, timestamp)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		RETURNING id, timestamp
	`

	err := db.QueryRowContext(ctx, query,
		m.PatientID,
		m.BPM,
		m.SpO2,
		m.Temperature,
		nullTime(m.Timestamp),
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return measurement.Measurement{}, fmt.Errorf("failed to insert measurement: %w", err)
	}

	return m, nil
}

// QueryDescending returns up to limit measurements newest first
func (db *DB) QueryDescending(ctx context.Context, limit int, since *time.Time) ([]measurement.Measurement, error) {
	if since == nil {
		query := `
			SELECT ` + measurementColumns + `
			FROM measurements
			ORDER BY timestamp DESC, id DESC
			LIMIT $1
		`
		return db.queryMeasurements(ctx, query, limit)
	}

	query := `
		SELECT ` + measurementColumns + `
		FROM measurements
		WHERE timestamp >= $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`
	return db.queryMeasurements(ctx, query, *since, limit)
}

// MostRecent returns the newest measurement, or nil when the table is empty
func (db *DB) MostRecent(ctx context.Context) (*measurement.Measurement, error) {
	query := `
		SELECT ` + measurementColumns + `
		FROM measurements
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	m, err := scanMeasurement(db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest measurement: %w", err)
	}

	return &m, nil
}

// QueryWindow returns all measurements with timestamp >= since
func (db *DB) QueryWindow(ctx context.Context, since time.Time) ([]measurement.Measurement, error) {
	query := `
		SELECT ` + measurementColumns + `
		FROM measurements
		WHERE timestamp >= $1
		ORDER BY timestamp, id
	`
	return db.queryMeasurements(ctx, query, since)
}

// Ping checks the database connection
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) queryMeasurements(ctx context.Context, query string, args ...any) ([]measurement.Measurement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	measurements := make([]measurement.Measurement, 0)
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		measurements = append(measurements, m)
	}

	return measurements, rows.Err()
}
