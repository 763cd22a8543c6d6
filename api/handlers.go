/*
handlers.go - HTTP API handlers for the inpatient billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Patients:
    POST   /api/patients                  Register patient (issues code + UHID)

  Beds:
    GET    /api/beds                      List all beds
    POST   /api/beds                      Create/update a bed definition
    GET    /api/beds/{id}                 Get bed details
    POST   /api/beds/{id}/admit          Admit a patient (atomic unit)
    POST   /api/beds/{id}/discharge      Discharge the current admission

  Sequences:
    GET    /api/sequence/next?scope=...   Raw next value for a scope
    GET    /api/ipd/next-number           Issue the next IPD number

  Admissions & deposits:
    GET    /api/admissions/{id}           Get admission
    GET    /api/admissions/{id}/deposits  List deposits + fresh total
    POST   /api/admissions/{id}/deposits  Record a deposit
    PUT    /api/deposits/{id}             Edit a deposit in place

  Bills:
    GET    /api/admissions/{id}/bill      Get the admission's bill
    POST   /api/bills                     Save (create-or-update) a bill
    POST   /api/bills/{id}/complete       Mark a pending bill paid
    DELETE /api/bills/{id}                Delete a bill (hard)

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinel:
  - 400: Validation errors, invalid input
  - 404: Unknown bed/admission/deposit/bill
  - 409: Bed state conflicts, bill status transitions
  - 503: Sequence store unavailable
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hospital-engine/billing"
	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/sequence"
	"github.com/warp/hospital-engine/store/sqlite"
	"github.com/warp/hospital-engine/ward"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Ward    *ward.Service
	Ledger  *ledger.Ledger
	Billing *billing.Billing
	Seq     *sequence.Generator
	Log     zerolog.Logger
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, wardSvc *ward.Service, led *ledger.Ledger, bil *billing.Billing, seq *sequence.Generator, log zerolog.Logger) *Handler {
	return &Handler{
		Store:   store,
		Ward:    wardSvc,
		Ledger:  led,
		Billing: bil,
		Seq:     seq,
		Log:     log,
	}
}

// =============================================================================
// PATIENT HANDLERS
// =============================================================================

// RegisterPatient creates a registry record with a server-issued patient
// code and UHID.
func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req RegisterPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Ward.RegisterPatient(r.Context(), req.FirstName, req.LastName, req.Phone)
	if err != nil {
		h.writeDomainError(w, "Failed to register patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// =============================================================================
// BED HANDLERS
// =============================================================================

// ListBeds returns all beds with their occupancy state.
func (h *Handler) ListBeds(w http.ResponseWriter, r *http.Request) {
	beds, err := h.Store.ListBeds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list beds", err)
		return
	}
	if beds == nil {
		beds = []ward.Bed{}
	}
	writeJSON(w, http.StatusOK, beds)
}

// GetBed returns a single bed.
func (h *Handler) GetBed(w http.ResponseWriter, r *http.Request) {
	bed, err := h.Store.GetBed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get bed", err)
		return
	}
	if bed == nil {
		writeError(w, http.StatusNotFound, "Bed not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, bed)
}

// CreateBed upserts a bed definition. Occupancy is never set here; a new
// bed starts available unless explicitly created under maintenance.
func (h *Handler) CreateBed(w http.ResponseWriter, r *http.Request) {
	var req CreateBedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Number == "" {
		writeError(w, http.StatusBadRequest, "Bed number is required", nil)
		return
	}
	category := billing.RoomCategory(req.RoomCategory)
	if !billing.KnownCategory(category) {
		writeError(w, http.StatusBadRequest, "Unknown room category", nil)
		return
	}

	status := ward.BedStatus(req.Status)
	if status != ward.BedMaintenance {
		status = ward.BedAvailable
	}
	rate := decimal.NewFromFloat(req.DailyRate)
	if rate.IsZero() {
		rate = decimal.NewFromFloat(billing.DefaultRates(category).Bed)
	}

	bed := ward.Bed{
		ID:           req.ID,
		Number:       req.Number,
		RoomCategory: category,
		Status:       status,
		DailyRate:    rate,
		Workflow:     ward.DefaultWorkflowMeta(),
	}
	if bed.ID == "" {
		bed.ID = uuid.NewString()
	}

	if err := h.Store.SaveBed(r.Context(), bed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save bed", err)
		return
	}

	saved, err := h.Store.GetBed(r.Context(), bed.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload bed", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Admit admits a patient into a bed as one atomic unit.
func (h *Handler) Admit(w http.ResponseWriter, r *http.Request) {
	bedID := chi.URLParam(r, "id")

	var req AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	adm, err := h.Ward.Admit(r.Context(), bedID, req.PatientID, req.Details)
	if err != nil {
		h.writeDomainError(w, "Failed to admit patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, adm)
}

// Discharge discharges the bed's current admission.
func (h *Handler) Discharge(w http.ResponseWriter, r *http.Request) {
	bed, adm, err := h.Ward.Discharge(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to discharge patient", err)
		return
	}
	writeJSON(w, http.StatusOK, DischargeDTO{Bed: *bed, Admission: *adm})
}

// =============================================================================
// SEQUENCE HANDLERS
// =============================================================================

// NextSequence issues the raw next value for a caller-supplied scope key.
func (h *Handler) NextSequence(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "scope query parameter is required", nil)
		return
	}

	n, err := h.Seq.Next(r.Context(), scope)
	if err != nil {
		h.writeDomainError(w, "Failed to advance sequence", err)
		return
	}
	writeJSON(w, http.StatusOK, SequenceDTO{
		Scope:       scope,
		Value:       n,
		FormattedID: sequence.FormatScoped(scope, n),
	})
}

// NextIPDNumber issues the next IPD admission number. Issuance consumes
// the value; an abandoned number becomes a gap, never a duplicate.
func (h *Handler) NextIPDNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.Seq.NextIPDNumber(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to issue IPD number", err)
		return
	}
	writeJSON(w, http.StatusOK, NumberDTO{Number: number})
}

// =============================================================================
// ADMISSION + DEPOSIT HANDLERS
// =============================================================================

// GetAdmission returns a single admission.
func (h *Handler) GetAdmission(w http.ResponseWriter, r *http.Request) {
	adm, err := h.Store.GetAdmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get admission", err)
		return
	}
	if adm == nil {
		writeError(w, http.StatusNotFound, "Admission not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, adm)
}

// ListDeposits returns an admission's deposits with a freshly computed
// total.
func (h *Handler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	admissionID := chi.URLParam(r, "id")

	entries, err := h.Ledger.List(r.Context(), admissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deposits", err)
		return
	}
	total, err := h.Ledger.Total(r.Context(), admissionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to total deposits", err)
		return
	}
	if entries == nil {
		entries = []ledger.DepositEntry{}
	}
	writeJSON(w, http.StatusOK, DepositsDTO{Deposits: entries, Total: total.String()})
}

// AddDeposit records a deposit against an admission.
func (h *Handler) AddDeposit(w http.ResponseWriter, r *http.Request) {
	admissionID := chi.URLParam(r, "id")

	req, ok := decodeDeposit(w, r)
	if !ok {
		return
	}

	entry, err := h.Ledger.Add(r.Context(), admissionID,
		decimal.NewFromFloat(req.Amount), ledger.PaymentMode(req.Mode), req.recordedAt, req.Reference)
	if err != nil {
		h.writeDomainError(w, "Failed to record deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// UpdateDeposit edits an existing deposit in place.
func (h *Handler) UpdateDeposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, ok := decodeDeposit(w, r)
	if !ok {
		return
	}

	entry, err := h.Ledger.Edit(r.Context(), id,
		decimal.NewFromFloat(req.Amount), ledger.PaymentMode(req.Mode), req.recordedAt, req.Reference)
	if err != nil {
		h.writeDomainError(w, "Failed to update deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// depositInput is a DepositRequest with its timestamp parsed.
type depositInput struct {
	DepositRequest
	recordedAt time.Time
}

func decodeDeposit(w http.ResponseWriter, r *http.Request) (depositInput, bool) {
	var in depositInput
	if err := json.NewDecoder(r.Body).Decode(&in.DepositRequest); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return in, false
	}
	if in.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, in.RecordedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "recorded_at must be RFC3339", err)
			return in, false
		}
		in.recordedAt = t
	}
	return in, true
}

// =============================================================================
// BILL HANDLERS
// =============================================================================

// GetBill returns the admission's canonical bill.
func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.Billing.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get bill", err)
		return
	}
	if bill == nil {
		writeError(w, http.StatusNotFound, "No bill exists for this admission", nil)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// SaveBill creates or updates the admission's bill from a draft. The
// breakdown is always recomputed server-side; client totals are ignored.
func (h *Handler) SaveBill(w http.ResponseWriter, r *http.Request) {
	var draft billing.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	bill, created, err := h.Billing.Save(r.Context(), draft)
	if err != nil {
		h.writeDomainError(w, "Failed to save bill", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, bill)
}

// CompleteBill marks a pending bill paid.
func (h *Handler) CompleteBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.Billing.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, "Failed to complete bill", err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// DeleteBill removes a bill permanently.
func (h *Handler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := h.Billing.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, "Failed to delete bill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ERROR MAPPING + RESPONSE HELPERS
// =============================================================================

// writeDomainError maps a domain error to its HTTP status.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var (
		wardVal    *ward.ValidationError
		ledgerVal  *ledger.ValidationError
		billingVal *billing.ValidationError
	)

	switch {
	case errors.As(err, &wardVal), errors.As(err, &ledgerVal), errors.As(err, &billingVal):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ward.ErrInvalidBedState),
		errors.Is(err, billing.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ward.ErrBedNotFound),
		errors.Is(err, ward.ErrAdmissionNotFound),
		errors.Is(err, ledger.ErrDepositNotFound),
		errors.Is(err, ledger.ErrAdmissionNotFound),
		errors.Is(err, billing.ErrBillNotFound),
		errors.Is(err, billing.ErrAdmissionNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, sequence.ErrSequenceUnavailable):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.Log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
