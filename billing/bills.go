/*
bills.go - Bill persistence: one canonical bill per admission

PURPOSE:
  Save is create-or-update: a draft with an id updates that row in
  place; a draft without one inserts and takes a fresh bill number from
  the sequence generator. Either way the breakdown is recomputed from
  the draft and a freshly reloaded deposit total before it is
  serialized, so the stored snapshot can never lag an edit.

STATUS:
  draft -> pending -> paid, forward only. pending -> paid happens ONLY
  through the explicit Complete action - a bill whose balance reaches
  zero stays pending until someone verifies it. Paid bills are frozen.

DELETE:
  Hard delete, no undo.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBillNotFound is returned for lookups, deletes, and updates
	// against an id that does not exist.
	ErrBillNotFound = errors.New("bill not found")

	// ErrAdmissionNotFound is returned when a draft references an unknown
	// admission.
	ErrAdmissionNotFound = errors.New("admission not found")

	// ErrInvalidStatusTransition is the sentinel under every
	// StatusTransitionError.
	ErrInvalidStatusTransition = errors.New("invalid bill status transition")
)

// StatusTransitionError rejects a status move the lifecycle does not
// allow.
type StatusTransitionError struct {
	From, To BillStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("bill status cannot move %s -> %s", e.From, e.To)
}

func (e *StatusTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// ValidationError rejects a draft before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bill draft: %s %s", e.Field, e.Reason)
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// BillStore is the persistence bills need. The admission uniqueness
// invariant (one bill per admission) is enforced by the store schema as
// well as by Save's lookup.
type BillStore interface {
	InsertBill(ctx context.Context, b Bill) error
	UpdateBill(ctx context.Context, b Bill) error
	GetBill(ctx context.Context, id string) (*Bill, error)
	GetBillByAdmission(ctx context.Context, admissionID string) (*Bill, error)
	DeleteBill(ctx context.Context, id string) error
	HasAdmission(ctx context.Context, admissionID string) (bool, error)
}

// DepositTotaler supplies the freshly reloaded deposit total for an
// admission. Satisfied by ledger.Ledger.
type DepositTotaler interface {
	Total(ctx context.Context, admissionID string) (decimal.Decimal, error)
}

// BillNumberIssuer issues the human-readable bill number on first save.
// Satisfied by sequence.Generator.
type BillNumberIssuer interface {
	NextBillNumber(ctx context.Context) (string, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Billing struct {
	store    BillStore
	deposits DepositTotaler
	numbers  BillNumberIssuer
	clock    func() time.Time
	log      zerolog.Logger
}

func NewBilling(store BillStore, deposits DepositTotaler, numbers BillNumberIssuer, log zerolog.Logger) *Billing {
	return &Billing{
		store:    store,
		deposits: deposits,
		numbers:  numbers,
		clock:    time.Now,
		log:      log,
	}
}

// WithClock returns a copy using the given clock.
func (b *Billing) WithClock(clock func() time.Time) *Billing {
	c := *b
	c.clock = clock
	return &c
}

// Save persists a draft as the admission's canonical bill and returns
// the stored record reloaded from the store, plus whether a new row was
// created. Re-saving with the same id never creates a second row; a
// draft without an id for an admission that already has a bill updates
// that bill in place rather than duplicating it.
func (b *Billing) Save(ctx context.Context, d Draft) (*Bill, bool, error) {
	if d.AdmissionID == "" {
		return nil, false, &ValidationError{Field: "admission_id", Reason: "is required"}
	}
	if d.Status == "" {
		d.Status = StatusDraft
	}
	if !ValidStatus(d.Status) {
		return nil, false, &ValidationError{Field: "status", Reason: fmt.Sprintf("%q is not a bill status", d.Status)}
	}

	ok, err := b.store.HasAdmission(ctx, d.AdmissionID)
	if err != nil {
		return nil, false, fmt.Errorf("checking admission: %w", err)
	}
	if !ok {
		return nil, false, ErrAdmissionNotFound
	}

	// Fresh deposit total, then recompute everything. No stored total is
	// ever trusted across an edit.
	total, err := b.deposits.Total(ctx, d.AdmissionID)
	if err != nil {
		return nil, false, fmt.Errorf("loading deposit total: %w", err)
	}
	breakdown := Compute(d, total)
	b.logAnomalies(d.AdmissionID, breakdown.Anomalies)

	existing, err := b.resolveExisting(ctx, d)
	if err != nil {
		return nil, false, err
	}

	now := b.clock().UTC().Format(time.RFC3339)
	if existing == nil {
		if d.Status == StatusPaid {
			// Paid is reachable only through Complete.
			return nil, false, &StatusTransitionError{From: StatusDraft, To: StatusPaid}
		}
		number, err := b.numbers.NextBillNumber(ctx)
		if err != nil {
			return nil, false, err
		}
		bill := Bill{
			ID:          uuid.NewString(),
			BillNumber:  number,
			AdmissionID: d.AdmissionID,
			PatientID:   d.PatientID,
			BillDate:    b.billDate(d),
			Draft:       d,
			Breakdown:   breakdown,
			Status:      d.Status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		bill.Draft.ID = bill.ID
		if err := b.store.InsertBill(ctx, bill); err != nil {
			return nil, false, fmt.Errorf("inserting bill: %w", err)
		}
		stored, err := b.store.GetBill(ctx, bill.ID)
		return stored, true, err
	}

	if existing.Status == StatusPaid {
		return nil, false, &StatusTransitionError{From: StatusPaid, To: d.Status}
	}
	if d.Status == StatusPaid {
		// Paid is reachable only through Complete.
		return nil, false, &StatusTransitionError{From: existing.Status, To: StatusPaid}
	}
	if existing.Status == StatusPending && d.Status == StatusDraft {
		return nil, false, &StatusTransitionError{From: StatusPending, To: StatusDraft}
	}

	updated := *existing
	updated.PatientID = d.PatientID
	updated.BillDate = b.billDate(d)
	updated.Draft = d
	updated.Draft.ID = existing.ID
	updated.Breakdown = breakdown
	updated.Status = d.Status
	updated.UpdatedAt = now
	if err := b.store.UpdateBill(ctx, updated); err != nil {
		return nil, false, fmt.Errorf("updating bill: %w", err)
	}
	stored, err := b.store.GetBill(ctx, existing.ID)
	return stored, false, err
}

// resolveExisting maps a draft to the row it should update, or nil for a
// genuine insert.
func (b *Billing) resolveExisting(ctx context.Context, d Draft) (*Bill, error) {
	if d.ID != "" {
		bill, err := b.store.GetBill(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if bill == nil {
			return nil, ErrBillNotFound
		}
		if bill.AdmissionID != d.AdmissionID {
			return nil, &ValidationError{Field: "admission_id", Reason: "does not match the bill being updated"}
		}
		return bill, nil
	}
	// Id-less save for an admission that already has its bill: update it
	// in place, keeping id and bill number, so a retried create cannot
	// duplicate the canonical row.
	return b.store.GetBillByAdmission(ctx, d.AdmissionID)
}

// Get returns the admission's bill, or nil when none exists yet.
func (b *Billing) Get(ctx context.Context, admissionID string) (*Bill, error) {
	return b.store.GetBillByAdmission(ctx, admissionID)
}

// Delete removes a bill permanently. There is no undo.
func (b *Billing) Delete(ctx context.Context, id string) error {
	bill, err := b.store.GetBill(ctx, id)
	if err != nil {
		return err
	}
	if bill == nil {
		return ErrBillNotFound
	}
	return b.store.DeleteBill(ctx, id)
}

// Complete moves a bill pending -> paid. This is the only path to paid:
// a zero balance never auto-closes a bill, because pending bills may
// still be under manual verification.
func (b *Billing) Complete(ctx context.Context, id string) (*Bill, error) {
	bill, err := b.store.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if bill == nil {
		return nil, ErrBillNotFound
	}
	if bill.Status != StatusPending {
		return nil, &StatusTransitionError{From: bill.Status, To: StatusPaid}
	}

	bill.Status = StatusPaid
	bill.Draft.Status = StatusPaid
	bill.UpdatedAt = b.clock().UTC().Format(time.RFC3339)
	if err := b.store.UpdateBill(ctx, *bill); err != nil {
		return nil, fmt.Errorf("updating bill: %w", err)
	}
	return b.store.GetBill(ctx, id)
}

func (b *Billing) billDate(d Draft) string {
	if d.BillDate != "" {
		return d.BillDate
	}
	return b.clock().UTC().Format(dateLayout)
}

func (b *Billing) logAnomalies(admissionID string, anomalies []Anomaly) {
	for _, a := range anomalies {
		b.log.Warn().
			Str("admission_id", admissionID).
			Str("anomaly", a.Code).
			Str("detail", a.Detail).
			Msg("billing computation anomaly")
	}
}
