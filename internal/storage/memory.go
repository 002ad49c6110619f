package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smukkama/vitals-server/internal/measurement"
)

// MemoryStore keeps measurements in process memory. Used under TESTING and
// as a fake in package tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	items  []measurement.Measurement // ascending by (timestamp, id)
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Append stores a copy of m with a fresh id
func (s *MemoryStore) Append(ctx context.Context, m measurement.Measurement) (measurement.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return measurement.Measurement{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m.ID = s.nextID
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}

	// keep the slice ordered; out-of-order timestamps are allowed
	i := sort.Search(len(s.items), func(i int) bool {
		return measurement.Newer(s.items[i], m)
	})
	s.items = append(s.items, measurement.Measurement{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = m

	return m, nil
}

// QueryDescending returns up to limit records newest first
func (s *MemoryStore) QueryDescending(ctx context.Context, limit int, since *time.Time) ([]measurement.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]measurement.Measurement, 0)
	for i := len(s.items) - 1; i >= 0 && len(result) < limit; i-- {
		if since != nil && s.items[i].Timestamp.Before(*since) {
			break
		}
		result = append(result, s.items[i])
	}
	return result, nil
}

// MostRecent returns the newest record or nil when empty
func (s *MemoryStore) MostRecent(ctx context.Context) (*measurement.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return nil, nil
	}
	latest := s.items[len(s.items)-1]
	return &latest, nil
}

// QueryWindow returns all records with timestamp >= since, oldest first
func (s *MemoryStore) QueryWindow(ctx context.Context, since time.Time) ([]measurement.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.items), func(i int) bool {
		return !s.items[i].Timestamp.Before(since)
	})
	result := make([]measurement.Measurement, len(s.items)-i)
	copy(result, s.items[i:])
	return result, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
