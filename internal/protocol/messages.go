package protocol

// AckResponse is returned by the ingestion endpoint on success
type AckResponse struct {
	Status    string `json:"status"`
	ID        int64  `json:"id"`
	PatientID int64  `json:"patient_id"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

// Error codes that are not validation reasons
const (
	ErrorNoData           = "NoData"
	ErrorInternal         = "InternalError"
	ErrorMethodNotAllowed = "MethodNotAllowed"
)

// NewAckResponse creates a new acknowledgment
func NewAckResponse(id, patientID int64) *AckResponse {
	return &AckResponse{
		Status:    StatusOK,
		ID:        id,
		PatientID: patientID,
	}
}
