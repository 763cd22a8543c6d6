/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Request amounts arrive as JSON numbers (floats). They are converted to
  exact decimals at this boundary; no float survives into the domain.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Draft is accepted directly as the bill save body
*/
package api

import (
	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/ward"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// RegisterPatientRequest is the request to register a patient.
type RegisterPatientRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// CreateBedRequest creates or updates a bed definition.
type CreateBedRequest struct {
	ID           string  `json:"id"`
	Number       string  `json:"number"`
	RoomCategory string  `json:"room_category"`
	Status       string  `json:"status"`
	DailyRate    float64 `json:"daily_rate"`
}

// AdmitRequest is the request to admit a patient into a bed.
type AdmitRequest struct {
	PatientID string                `json:"patient_id"`
	Details   ward.AdmissionDetails `json:"details"`
}

// DepositRequest posts or edits a deposit. RecordedAt is an RFC3339
// timestamp; empty means "now".
type DepositRequest struct {
	Amount     float64 `json:"amount"`
	Mode       string  `json:"payment_mode"`
	RecordedAt string  `json:"recorded_at"`
	Reference  string  `json:"reference"`
}

// DepositsDTO is the deposit list plus its freshly computed total.
type DepositsDTO struct {
	Deposits []ledger.DepositEntry `json:"deposits"`
	Total    string                `json:"total"`
}

// DischargeDTO is the result of a discharge: the released bed and the
// closed admission.
type DischargeDTO struct {
	Bed       ward.Bed       `json:"bed"`
	Admission ward.Admission `json:"admission"`
}

// SequenceDTO is the next value for a caller-supplied scope plus its
// rendered identifier.
type SequenceDTO struct {
	Scope       string `json:"scope"`
	Value       int64  `json:"value"`
	FormattedID string `json:"formatted_id"`
}

// NumberDTO wraps a formatted identifier.
type NumberDTO struct {
	Number string `json:"number"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
