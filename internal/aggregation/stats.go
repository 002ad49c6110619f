package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/vitals-server/internal/measurement"
	"github.com/smukkama/vitals-server/internal/status"
)

const (
	// DefaultWindow is the trailing interval averaged by ComputeStats
	DefaultWindow = 10 * time.Minute
	// DefaultHistoryLimit applies when QueryHistory gets a non-positive limit
	DefaultHistoryLimit = 100
)

// StatsReport summarises the latest reading and the rolling window
type StatsReport struct {
	Latest         measurement.Measurement `json:"latest"`
	AvgBPM         *float64                `json:"avg_bpm"`
	AvgSpO2        *float64                `json:"avg_spo2"`
	AvgTemperature *float64                `json:"avg_temperature"`
	SampleCount    int                     `json:"sample_count"`
	WindowMinutes  float64                 `json:"window_minutes"`
	Status         status.Severity         `json:"status"`
	Issues         []string                `json:"issues"`
}

// Aggregator derives statistics and history from a measurement store
type Aggregator struct {
	store        measurement.Store
	window       time.Duration
	historyLimit int
}

// NewAggregator creates an aggregator; zero window or limit use the defaults
func NewAggregator(store measurement.Store, window time.Duration, historyLimit int) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Aggregator{
		store:        store,
		window:       window,
		historyLimit: historyLimit,
	}
}

// ComputeStats averages the window ending at now and evaluates the most
// recent measurement. Returns measurement.ErrNoData when nothing is stored.
func (a *Aggregator) ComputeStats(ctx context.Context, now time.Time) (*StatsReport, error) {
	latest, err := a.store.MostRecent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest measurement: %w", err)
	}
	if latest == nil {
		return nil, measurement.ErrNoData
	}

	window, err := a.store.QueryWindow(ctx, now.Add(-a.window))
	if err != nil {
		return nil, fmt.Errorf("failed to query window: %w", err)
	}

	result := status.Evaluate(*latest)
	report := &StatsReport{
		Latest:        *latest,
		SampleCount:   len(window),
		WindowMinutes: a.window.Minutes(),
		Status:        result.Severity,
		Issues:        result.Issues,
	}

	if len(window) > 0 {
		var sumBPM, sumSpO2, sumTemp float64
		for _, m := range window {
			sumBPM += float64(m.BPM)
			sumSpO2 += float64(m.SpO2)
			sumTemp += m.Temperature
		}
		n := float64(len(window))
		avgBPM, avgSpO2, avgTemp := sumBPM/n, sumSpO2/n, sumTemp/n
		report.AvgBPM = &avgBPM
		report.AvgSpO2 = &avgSpO2
		report.AvgTemperature = &avgTemp
	}

	return report, nil
}

// QueryHistory returns up to limit measurements in ascending timestamp
// order, optionally restricted to the last sinceMinutes before now
func (a *Aggregator) QueryHistory(ctx context.Context, limit int, sinceMinutes *int, now time.Time) ([]measurement.Measurement, error) {
	if limit <= 0 {
		limit = a.historyLimit
	}

	var since *time.Time
	if sinceMinutes != nil {
		t := now.Add(-time.Duration(*sinceMinutes) * time.Minute)
		since = &t
	}

	items, err := a.store.QueryDescending(ctx, limit, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
