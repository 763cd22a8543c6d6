/*
Package billing contains the inpatient charge computation engine and the
bill persistence service.

PURPOSE:
  Reconciles the independently-editable parts of an inpatient bill -
  admission fee, dated stay segments, service line items, an optional
  package override, discount and tax - into one exact breakdown, and
  persists a single canonical bill per admission.

KEY CONCEPTS IN THIS FILE (types.go):
  - StaySegment: A date-bounded period billed at one room category's
    daily rates (room changes mid-stay produce multiple segments)
  - ServiceItem: A priced line item (catalog, custom, or package sourced)
  - Draft: The client-editable billing input, amounts as floats at the
    wire boundary
  - Breakdown: The computed result, amounts as exact decimals
  - Bill: The persisted record, owning an immutable snapshot of its
    segments and items so historical bills stay reproducible

DESIGN PRINCIPLES:
  1. Floats exist only in the Draft; every derived amount is a
     decimal.Decimal so totals never drift
  2. Derived totals are recomputed on every save - there is no cached
     total that can go stale
  3. Computation is fail-soft: malformed dates and non-finite rates are
     recovered locally and flagged as anomalies, never propagated

SEE ALSO:
  - compute.go: The pure computation over a Draft
  - bills.go: Create-or-update persistence and status transitions
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// ROOM CATEGORIES - Daily rate defaults per category
// =============================================================================

type RoomCategory string

const (
	GeneralWard RoomCategory = "General Ward"
	ICU         RoomCategory = "ICU"
	DeluxeRoom  RoomCategory = "Deluxe Room"
	PrivateRoom RoomCategory = "Private Room"
	SemiPrivate RoomCategory = "Semi Private"
)

// DailyRates are the four per-day charges a stay segment is billed at.
type DailyRates struct {
	Bed       float64 `json:"bed_rate"`
	Nursing   float64 `json:"nursing_rate"`
	Attendant float64 `json:"attendant_rate"`
	Doctor    float64 `json:"doctor_rate"`
}

var categoryRates = map[RoomCategory]DailyRates{
	GeneralWard: {Bed: 1000, Nursing: 200, Attendant: 100, Doctor: 500},
	ICU:         {Bed: 3000, Nursing: 800, Attendant: 300, Doctor: 1000},
	DeluxeRoom:  {Bed: 2500, Nursing: 500, Attendant: 250, Doctor: 900},
	PrivateRoom: {Bed: 2000, Nursing: 400, Attendant: 200, Doctor: 800},
	SemiPrivate: {Bed: 1500, Nursing: 300, Attendant: 150, Doctor: 600},
}

// DefaultRates returns the standard daily rates for a room category.
// Unknown categories fall back to General Ward rates.
func DefaultRates(c RoomCategory) DailyRates {
	if r, ok := categoryRates[c]; ok {
		return r
	}
	return categoryRates[GeneralWard]
}

// KnownCategory reports whether c is one of the configured room categories.
func KnownCategory(c RoomCategory) bool {
	_, ok := categoryRates[c]
	return ok
}

// =============================================================================
// STAY SEGMENTS
// =============================================================================

// StaySegment is a period of the admission billed at one room category's
// daily rates. Dates are calendar dates ("2006-01-02"); malformed or
// missing dates are recovered as a 1-day segment during computation.
type StaySegment struct {
	ID           string       `json:"id"`
	RoomCategory RoomCategory `json:"room_category"`
	StartDate    string       `json:"start_date"`
	EndDate      string       `json:"end_date"`
	Rates        DailyRates   `json:"rates"`
}

// SetCategory switches the segment to a new room category and resets its
// four rates to that category's defaults. Callers that want custom rates
// override them after the switch.
func (s *StaySegment) SetCategory(c RoomCategory) {
	s.RoomCategory = c
	s.Rates = DefaultRates(c)
}

// =============================================================================
// SERVICE LINE ITEMS
// =============================================================================

// ServiceSource records where a line item came from. Catalog, custom, and
// package items are homogenized into one list at selection time.
type ServiceSource string

const (
	SourceCatalog ServiceSource = "catalog"
	SourceCustom  ServiceSource = "custom"
	SourcePackage ServiceSource = "package"
)

type ServiceItem struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	UnitPrice float64       `json:"unit_price"`
	Quantity  int           `json:"quantity"`
	Source    ServiceSource `json:"source"`
}

// PackageOverride replaces all package-sourced items with a single
// fixed-price package line.
type PackageOverride struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// =============================================================================
// DRAFT - Client-editable billing input
// =============================================================================

// Draft is the editable state of an inpatient bill. An empty ID means the
// bill has not been persisted yet.
type Draft struct {
	ID           string           `json:"id,omitempty"`
	AdmissionID  string           `json:"admission_id"`
	PatientID    string           `json:"patient_id"`
	BillDate     string           `json:"bill_date"`
	AdmissionFee float64          `json:"admission_fee"`
	Segments     []StaySegment    `json:"stay_segments"`
	Services     []ServiceItem    `json:"service_items"`
	Package      *PackageOverride `json:"package,omitempty"`
	Discount     float64          `json:"discount"`
	Tax          float64          `json:"tax"`
	Status       BillStatus       `json:"status,omitempty"`
}

// =============================================================================
// BREAKDOWN - Computed result
// =============================================================================

// Anomaly flags a fail-soft recovery made during computation. Anomalies
// never abort the computation but must surface for audit.
type Anomaly struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

const (
	AnomalyMalformedDateRange  = "malformed_date_range"
	AnomalyNonFiniteAmount     = "non_finite_amount"
	AnomalyOverlappingSegments = "overlapping_segments"
)

// SegmentCharge is one computed stay segment line.
type SegmentCharge struct {
	Segment StaySegment     `json:"segment"`
	Days    int64           `json:"days"`
	Total   decimal.Decimal `json:"total"`
}

// Breakdown is the full computed charge reconciliation for a draft.
// NetPayable is clamped at zero; BalanceDue is not - a negative balance
// means a refund is owed and must be preserved exactly.
type Breakdown struct {
	AdmissionFee        decimal.Decimal `json:"admission_fee"`
	SegmentCharges      []SegmentCharge `json:"segment_charges"`
	TotalStayCharges    decimal.Decimal `json:"total_stay_charges"`
	TotalServiceCharges decimal.Decimal `json:"total_service_charges"`
	GrossTotal          decimal.Decimal `json:"gross_total"`
	Discount            decimal.Decimal `json:"discount"`
	Tax                 decimal.Decimal `json:"tax"`
	NetPayable          decimal.Decimal `json:"net_payable"`
	TotalDeposits       decimal.Decimal `json:"total_deposits"`
	BalanceDue          decimal.Decimal `json:"balance_due"`
	Anomalies           []Anomaly       `json:"anomalies,omitempty"`
}

// =============================================================================
// BILL - Persisted record
// =============================================================================

type BillStatus string

const (
	StatusDraft   BillStatus = "draft"
	StatusPending BillStatus = "pending"
	StatusPaid    BillStatus = "paid"
)

// ValidStatus reports whether s is a known bill status.
func ValidStatus(s BillStatus) bool {
	switch s {
	case StatusDraft, StatusPending, StatusPaid:
		return true
	}
	return false
}

// Bill is the canonical stored bill for an admission: the draft inputs
// plus the serialized computed breakdown. There is at most one per
// admission; re-saving updates it in place.
type Bill struct {
	ID          string     `json:"id"`
	BillNumber  string     `json:"bill_number"`
	AdmissionID string     `json:"admission_id"`
	PatientID   string     `json:"patient_id"`
	BillDate    string     `json:"bill_date"`
	Draft       Draft      `json:"draft"`
	Breakdown   Breakdown  `json:"breakdown"`
	Status      BillStatus `json:"status"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}
