package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/vitals-server/internal/measurement"
)

// Reason classifies why a payload was rejected
type Reason string

const (
	ReasonNoJSON             Reason = "NoJson"
	ReasonMissingField       Reason = "MissingField"
	ReasonMalformedNumber    Reason = "MalformedNumber"
	ReasonMalformedTimestamp Reason = "MalformedTimestamp"
)

// Payload keys
const (
	FieldPatientID   = "patient_id"
	FieldBPM         = "bpm"
	FieldSpO2        = "spo2"
	FieldTemperature = "temperature"
	FieldTimestamp   = "timestamp"
)

// Error describes a rejected payload field
type Error struct {
	Field  string
	Reason Reason
}

func (e *Error) Error() string {
	if e.Field == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// maxTemperature keeps window sums finite
const maxTemperature = math.MaxFloat32

// unsigned integer or unsigned decimal, nothing else
var numberPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

var requiredFields = []string{FieldBPM, FieldSpO2, FieldTemperature}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// IsNumber reports whether s is an unsigned integer or decimal
func IsNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// Validate checks the required numeric fields of a raw ingestion payload.
// Decode the payload with json.Decoder.UseNumber so numeric tokens keep their
// literal form.
func Validate(raw map[string]any) error {
	for _, field := range requiredFields {
		value, ok := raw[field]
		if !ok || value == nil {
			return &Error{Field: field, Reason: ReasonMissingField}
		}
		s, ok := stringForm(value)
		if !ok {
			return &Error{Field: field, Reason: ReasonMalformedNumber}
		}
		if s == "" {
			return &Error{Field: field, Reason: ReasonMissingField}
		}
		if !IsNumber(s) {
			return &Error{Field: field, Reason: ReasonMalformedNumber}
		}
	}
	return nil
}

// Parse validates raw and coerces it into a Measurement without ID.
// A zero Timestamp means the store assigns the ingestion time.
func Parse(raw map[string]any) (measurement.Measurement, error) {
	if err := Validate(raw); err != nil {
		return measurement.Measurement{}, err
	}

	m := measurement.Measurement{PatientID: measurement.DefaultPatientID}

	bpm, err := parseInteger(raw, FieldBPM)
	if err != nil {
		return measurement.Measurement{}, err
	}
	spo2, err := parseInteger(raw, FieldSpO2)
	if err != nil {
		return measurement.Measurement{}, err
	}
	temp, err := parseDecimal(raw, FieldTemperature, maxTemperature)
	if err != nil {
		return measurement.Measurement{}, err
	}
	m.BPM = int(bpm)
	m.SpO2 = int(spo2)
	m.Temperature = temp

	if value, ok := raw[FieldPatientID]; ok && value != nil {
		s, ok := stringForm(value)
		if !ok {
			return measurement.Measurement{}, &Error{Field: FieldPatientID, Reason: ReasonMalformedNumber}
		}
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return measurement.Measurement{}, &Error{Field: FieldPatientID, Reason: ReasonMalformedNumber}
		}
		m.PatientID = id
	}

	if value, ok := raw[FieldTimestamp]; ok && value != nil {
		s, ok := value.(string)
		if !ok {
			return measurement.Measurement{}, &Error{Field: FieldTimestamp, Reason: ReasonMalformedTimestamp}
		}
		if s != "" {
			ts, err := parseTimestamp(s)
			if err != nil {
				return measurement.Measurement{}, &Error{Field: FieldTimestamp, Reason: ReasonMalformedTimestamp}
			}
			m.Timestamp = ts
		}
	}

	return m, nil
}

// parseDecimal converts a validated field, rejecting values above limit
func parseDecimal(raw map[string]any, field string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(mustString(raw[field]), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) || v > limit {
		return 0, &Error{Field: field, Reason: ReasonMalformedNumber}
	}
	return v, nil
}

// parseInteger truncates toward zero; bpm and spo2 are INTEGER columns
func parseInteger(raw map[string]any, field string) (float64, error) {
	v, err := parseDecimal(raw, field, math.MaxInt32)
	if err != nil {
		return 0, err
	}
	return math.Trunc(v), nil
}

func stringForm(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func mustString(value any) string {
	s, _ := stringForm(value)
	return s
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
