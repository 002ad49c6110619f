package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/vitals-server/internal/aggregation"
	"github.com/smukkama/vitals-server/internal/api"
	"github.com/smukkama/vitals-server/internal/ingest"
	"github.com/smukkama/vitals-server/internal/measurement"
	"github.com/smukkama/vitals-server/internal/protocol"
	"github.com/smukkama/vitals-server/internal/storage"
)

// --- test helpers -----------------------------------------------------------

type brokenStore struct {
	*storage.MemoryStore
}

func (brokenStore) Append(ctx context.Context, m measurement.Measurement) (measurement.Measurement, error) {
	return measurement.Measurement{}, errors.New("connection reset")
}

func (brokenStore) MostRecent(ctx context.Context) (*measurement.Measurement, error) {
	return nil, errors.New("connection reset")
}

func (brokenStore) Ping(ctx context.Context) error {
	return errors.New("connection reset")
}

func newHandler(store measurement.Store) http.Handler {
	agg := aggregation.NewAggregator(store, 0, 0)
	return api.New(ingest.NewService(store, nil, nil), agg, store, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func seed(t *testing.T, store measurement.Store, ago time.Duration, bpm, spo2 int, temp float64) {
	t.Helper()
	_, err := store.Append(context.Background(), measurement.Measurement{
		PatientID:   1,
		BPM:         bpm,
		SpO2:        spo2,
		Temperature: temp,
		Timestamp:   time.Now().Add(-ago),
	})
	require.NoError(t, err)
}

// --- POST /api/data ---------------------------------------------------------

func TestReceiveData_OK(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newHandler(store)

	rr := do(t, h, http.MethodPost, "/api/data", `{"patient_id": 2, "bpm": 72, "spo2": "97", "temperature": 36.8}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var ack protocol.AckResponse
	decode(t, rr, &ack)
	assert.Equal(t, protocol.StatusOK, ack.Status)
	assert.Equal(t, int64(1), ack.ID)
	assert.Equal(t, int64(2), ack.PatientID)
	assert.Equal(t, 1, store.Len())
}

func TestReceiveData_DuplicatePayloads(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newHandler(store)
	body := `{"bpm": 72, "spo2": 97, "temperature": 36.8}`

	var first, second protocol.AckResponse
	decode(t, do(t, h, http.MethodPost, "/api/data", body), &first)
	decode(t, do(t, h, http.MethodPost, "/api/data", body), &second)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, store.Len())
}

func TestReceiveData_NoJSON(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2]", "null", `"bpm"`} {
		store := storage.NewMemoryStore()
		rr := do(t, newHandler(store), http.MethodPost, "/api/data", body)

		require.Equal(t, http.StatusBadRequest, rr.Code, "body %q", body)
		var resp protocol.ErrorResponse
		decode(t, rr, &resp)
		assert.Equal(t, "NoJson", resp.Error)
		assert.Zero(t, store.Len())
	}
}

func TestReceiveData_ValidationErrors(t *testing.T) {
	tests := []struct {
		body   string
		reason string
		field  string
	}{
		{`{"spo2": 97, "temperature": 36.8}`, "MissingField", "bpm"},
		{`{"bpm": 72, "spo2": 97, "temperature": ""}`, "MissingField", "temperature"},
		{`{"bpm": -5, "spo2": 97, "temperature": 36.8}`, "MalformedNumber", "bpm"},
		{`{"bpm": 72, "spo2": "9 7", "temperature": 36.8}`, "MalformedNumber", "spo2"},
		{`{"bpm": 72, "spo2": 97, "temperature": 1e3}`, "MalformedNumber", "temperature"},
		{`{"bpm": 72, "spo2": 97, "temperature": "98."}`, "MalformedNumber", "temperature"},
		{`{"bpm": 72, "spo2": 97, "temperature": 36.8, "timestamp": "soon"}`, "MalformedTimestamp", "timestamp"},
	}

	for _, tt := range tests {
		store := storage.NewMemoryStore()
		rr := do(t, newHandler(store), http.MethodPost, "/api/data", tt.body)

		require.Equal(t, http.StatusBadRequest, rr.Code, tt.body)
		var resp protocol.ErrorResponse
		decode(t, rr, &resp)
		assert.Equal(t, tt.reason, resp.Error, tt.body)
		assert.Equal(t, tt.field, resp.Field, tt.body)
		assert.Zero(t, store.Len(), tt.body)
	}
}

func TestReceiveData_OversizedNumbersLeaveReadsIntact(t *testing.T) {
	store := storage.NewMemoryStore()
	h := newHandler(store)

	bodies := []string{
		`{"bpm": "99999999999999999999", "spo2": 97, "temperature": 36.8}`,
		`{"bpm": 72, "spo2": 97, "temperature": "1` + strings.Repeat("0", 400) + `"}`,
	}
	for _, body := range bodies {
		rr := do(t, h, http.MethodPost, "/api/data", body)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		var resp protocol.ErrorResponse
		decode(t, rr, &resp)
		assert.Equal(t, "MalformedNumber", resp.Error)
	}
	assert.Zero(t, store.Len())

	rr := do(t, h, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestReceiveData_StoreFailure(t *testing.T) {
	rr := do(t, newHandler(brokenStore{storage.NewMemoryStore()}), http.MethodPost, "/api/data",
		`{"bpm": 72, "spo2": 97, "temperature": 36.8}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestReceiveData_MethodNotAllowed(t *testing.T) {
	rr := do(t, newHandler(storage.NewMemoryStore()), http.MethodGet, "/api/data", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPost, rr.Header().Get("Allow"))
}

// --- GET /api/history -------------------------------------------------------

func TestHistory_LimitAscending(t *testing.T) {
	store := storage.NewMemoryStore()
	for i := 5; i >= 1; i-- {
		seed(t, store, time.Duration(i)*time.Minute, 60+i, 98, 36.5)
	}

	rr := do(t, newHandler(store), http.MethodGet, "/api/history?limit=3", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var items []measurement.Measurement
	decode(t, rr, &items)
	require.Len(t, items, 3)
	assert.Equal(t, []int{63, 62, 61}, []int{items[0].BPM, items[1].BPM, items[2].BPM})
}

func TestHistory_Minutes(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, time.Hour, 60, 98, 36.5)
	seed(t, store, 2*time.Minute, 70, 98, 36.5)

	rr := do(t, newHandler(store), http.MethodGet, "/api/history?minutes=30", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var items []measurement.Measurement
	decode(t, rr, &items)
	require.Len(t, items, 1)
	assert.Equal(t, 70, items[0].BPM)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	rr := do(t, newHandler(storage.NewMemoryStore()), http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHistory_BadParams(t *testing.T) {
	h := newHandler(storage.NewMemoryStore())
	for _, path := range []string{"/api/history?limit=abc", "/api/history?limit=-1", "/api/history?minutes=1.5"} {
		rr := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

// --- GET /api/stats ---------------------------------------------------------

func TestStats_NoData(t *testing.T) {
	rr := do(t, newHandler(storage.NewMemoryStore()), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	var resp protocol.ErrorResponse
	decode(t, rr, &resp)
	assert.Equal(t, protocol.ErrorNoData, resp.Error)
}

func TestStats_Report(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, 3*time.Minute, 60, 98, 36.5)
	seed(t, store, 2*time.Minute, 70, 98, 36.5)
	seed(t, store, time.Minute, 80, 98, 38.5)

	rr := do(t, newHandler(store), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	decode(t, rr, &body)
	assert.Equal(t, 70.0, body["avg_bpm"])
	assert.Equal(t, 98.0, body["avg_spo2"])
	assert.Equal(t, "warning", body["status"])
	assert.Equal(t, []any{"Fever"}, body["issues"])

	latest, ok := body["latest"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 80.0, latest["bpm"])
}

func TestStats_AveragesNullWhenWindowEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	seed(t, store, time.Hour, 70, 98, 36.5)

	rr := do(t, newHandler(store), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	decode(t, rr, &body)
	for _, key := range []string{"avg_bpm", "avg_spo2", "avg_temperature"} {
		value, present := body[key]
		assert.True(t, present, key)
		assert.Nil(t, value, key)
	}
	assert.Equal(t, "normal", body["status"])
	assert.Equal(t, []any{}, body["issues"])
}

func TestStats_StoreFailure(t *testing.T) {
	rr := do(t, newHandler(brokenStore{storage.NewMemoryStore()}), http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// --- misc -------------------------------------------------------------------

func TestHealth(t *testing.T) {
	rr := do(t, newHandler(storage.NewMemoryStore()), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, newHandler(brokenStore{storage.NewMemoryStore()}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection reset")

	var resp protocol.HealthResponse
	decode(t, rr, &resp)
	assert.Equal(t, protocol.StatusUnavailable, resp.Status)
	assert.Equal(t, "store unreachable", resp.Store)
}

func TestDashboardAndUnknownPath(t *testing.T) {
	h := newHandler(storage.NewMemoryStore())

	rr := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWithLogging_RequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	h := api.WithLogging(inner, zap.NewNop())

	rr := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTeapot, rr.Code)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rr.Header().Get(api.HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(api.HeaderRequestID, "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get(api.HeaderRequestID))
}

func TestReceiveData_ConcurrentRequests(t *testing.T) {
	store := storage.NewMemoryStore()
	srv := httptest.NewServer(newHandler(store))
	defer srv.Close()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			body := fmt.Sprintf(`{"patient_id": %d, "bpm": 70, "spo2": 98, "temperature": 36.6}`, i+1)
			resp, err := http.Post(srv.URL+"/api/data", "application/json", bytes.NewBufferString(body))
			if err != nil {
				done <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				done <- fmt.Errorf("status %d", resp.StatusCode)
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-done)
	}
	assert.Equal(t, 20, store.Len())
}
