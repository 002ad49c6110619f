package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/vitals-server/internal/aggregation"
	"github.com/smukkama/vitals-server/internal/ingest"
	"github.com/smukkama/vitals-server/internal/measurement"
	"github.com/smukkama/vitals-server/internal/protocol"
	"github.com/smukkama/vitals-server/internal/validation"
)

const (
	queryLimit   = "limit"
	queryMinutes = "minutes"

	// maxBodyBytes bounds a single ingestion payload
	maxBodyBytes = 1 << 20

	storeUnreachable = "store unreachable"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the ingestion, history, stats and health endpoints
type Handler struct {
	ingest     *ingest.Service
	aggregator *aggregation.Aggregator
	store      Pinger
	logger     *zap.Logger
	mux        *http.ServeMux
	now        func() time.Time
}

// New creates a Handler and registers all routes
func New(svc *ingest.Service, agg *aggregation.Aggregator, store Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		ingest:     svc,
		aggregator: agg,
		store:      store,
		logger:     logger,
		mux:        http.NewServeMux(),
		now:        time.Now,
	}

	h.mux.HandleFunc("/api/data", h.receiveData)
	h.mux.HandleFunc("/api/history", h.history)
	h.mux.HandleFunc("/api/stats", h.stats)
	h.mux.HandleFunc("/health", h.health)
	h.mux.HandleFunc("/", h.dashboard)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// receiveData handles POST /api/data
func (h *Handler) receiveData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	raw, ok := decodeObject(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if !ok {
		writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{
			Error:   string(validation.ReasonNoJSON),
			Message: "request body must be a JSON object",
		})
		return
	}

	m, err := h.ingest.Ingest(r.Context(), raw)
	if err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{
				Error:   string(verr.Reason),
				Field:   verr.Field,
				Message: verr.Error(),
			})
			return
		}
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, protocol.NewAckResponse(m.ID, m.PatientID))
}

// history handles GET /api/history?limit=&minutes=
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	params := r.URL.Query()

	limit := 0
	if v := params.Get(queryLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badParam(w, queryLimit)
			return
		}
		limit = n
	}

	var minutes *int
	if v := params.Get(queryMinutes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badParam(w, queryMinutes)
			return
		}
		minutes = &n
	}

	items, err := h.aggregator.QueryHistory(r.Context(), limit, minutes, h.now())
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, items)
}

// stats handles GET /api/stats
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	report, err := h.aggregator.ComputeStats(r.Context(), h.now())
	switch {
	case errors.Is(err, measurement.ErrNoData):
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{
			Error:   protocol.ErrorNoData,
			Message: "no measurements recorded yet",
		})
	case err != nil:
		h.internalError(w, r, err)
	default:
		h.respond(w, r, http.StatusOK, report)
	}
}

// health handles GET /health
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, protocol.HealthResponse{
				Status: protocol.StatusUnavailable,
				Store:  storeUnreachable,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, protocol.HealthResponse{Status: protocol.StatusOK})
}

// dashboard handles GET /; page rendering lives outside this service
func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, protocol.ErrorResponse{Error: "NotFound"})
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("vitals-server: see /api/stats and /api/history\n"))
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{
		Error:   protocol.ErrorInternal,
		Message: "internal server error",
	})
}

// decodeObject reads a single JSON object, keeping numbers as json.Number
func decodeObject(r io.Reader) (map[string]any, bool) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, false
	}
	return raw, true
}

func badParam(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{
		Error:   string(validation.ReasonMalformedNumber),
		Field:   name,
		Message: name + " must be a non-negative integer",
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, protocol.ErrorResponse{Error: protocol.ErrorMethodNotAllowed})
}

// respond writes payload and logs an encoding failure against the request
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, payload any) {
	if err := writeJSON(w, status, payload); err != nil {
		h.logger.Error("response encoding failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
}

// writeJSON encodes before touching the status line, so a payload that cannot
// be encoded becomes a 500 instead of a truncated success.
func writeJSON(w http.ResponseWriter, status int, payload any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(protocol.ErrorResponse{
			Error:   protocol.ErrorInternal,
			Message: "internal server error",
		})
		return fmt.Errorf("encode response: %w", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}
