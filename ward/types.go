/*
Package ward models the bed occupancy lifecycle and the admission record
tied 1:1 to an occupied bed.

PURPOSE:
  A bed is Available, Occupied, or under Maintenance. Admit and Discharge
  are multi-step writes (counter, admission row, bed row, optional
  advance deposit) executed as one transaction: a bed pointing at a
  missing admission, or an active admission on a vacant bed, are invalid
  states that must never be observable.

WORKFLOW METADATA:
  Beds carry clinical workflow attributes (turnaround-time countdown,
  document-submission flags). They are preserved and reset on
  admit/discharge but are opaque here and to billing - they never
  influence charges.

SEE ALSO:
  - service.go: Admit/Discharge orchestration
  - errors.go: InvalidBedState and validation errors
*/
package ward

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/hospital-engine/billing"
)

// =============================================================================
// BEDS
// =============================================================================

type BedStatus string

const (
	BedAvailable   BedStatus = "available"
	BedOccupied    BedStatus = "occupied"
	BedMaintenance BedStatus = "maintenance"
)

// WorkflowMeta is the per-bed clinical workflow state. Opaque to billing.
type WorkflowMeta struct {
	TATStatus               string `json:"tat_status"`
	TATRemainingSeconds     int    `json:"tat_remaining_seconds"`
	ConsentFormSubmitted    bool   `json:"consent_form_submitted"`
	ClinicalRecordSubmitted bool   `json:"clinical_record_submitted"`
	ProgressSheetSubmitted  bool   `json:"progress_sheet_submitted"`
	NursesOrdersSubmitted   bool   `json:"nurses_orders_submitted"`
}

// DefaultWorkflowMeta is the unoccupied-bed baseline: idle TAT with the
// full 30-minute countdown and no documents submitted.
func DefaultWorkflowMeta() WorkflowMeta {
	return WorkflowMeta{
		TATStatus:           "idle",
		TATRemainingSeconds: 1800,
	}
}

// Bed references its active admission but does not own it; status and
// admission ref always change together.
type Bed struct {
	ID           string               `json:"id"`
	Number       string               `json:"number"`
	RoomCategory billing.RoomCategory `json:"room_category"`
	Status       BedStatus            `json:"status"`
	AdmissionID  string               `json:"admission_id,omitempty"`
	DailyRate    decimal.Decimal      `json:"daily_rate"`
	Workflow     WorkflowMeta         `json:"workflow"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// =============================================================================
// ADMISSIONS
// =============================================================================

type AdmissionStatus string

const (
	AdmissionActive     AdmissionStatus = "active"
	AdmissionDischarged AdmissionStatus = "discharged"
)

// AdmissionDetails is the intake paperwork captured at admit time. An
// AdvanceAmount greater than zero posts an initial deposit inside the
// admit transaction.
type AdmissionDetails struct {
	AdmissionType         string          `json:"admission_type,omitempty"`
	TreatingDoctor        string          `json:"treating_doctor,omitempty"`
	HistoryPresentIllness string          `json:"history_present_illness,omitempty"`
	AttendantName         string          `json:"attendant_name,omitempty"`
	AttendantRelation     string          `json:"attendant_relation,omitempty"`
	AttendantPhone        string          `json:"attendant_phone,omitempty"`
	InsuranceProvider     string          `json:"insurance_provider,omitempty"`
	PolicyNumber          string          `json:"policy_number,omitempty"`
	AdvanceAmount         decimal.Decimal `json:"advance_amount"`
	AdvancePaymentMode    string          `json:"advance_payment_mode,omitempty"`
}

// Admission is the stay record. Created on admit (bed
// available -> occupied), mutated once on discharge.
type Admission struct {
	ID           string           `json:"id"`
	PatientID    string           `json:"patient_id"`
	BedID        string           `json:"bed_id"`
	IPDNumber    string           `json:"ipd_number"`
	Status       AdmissionStatus  `json:"status"`
	Details      AdmissionDetails `json:"details"`
	AdmittedAt   time.Time        `json:"admitted_at"`
	DischargedAt *time.Time       `json:"discharged_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// =============================================================================
// PATIENTS - Minimal registry slice needed for admission validation
// =============================================================================

// Patient is the minimal registry record: admit refuses unregistered
// patients, and registration issues the code and UHID.
type Patient struct {
	ID          string    `json:"id"`
	PatientCode string    `json:"patient_code"`
	UHID        string    `json:"uhid"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
