/*
Package ledger is the deposit ledger: the record of advance payments
posted against an admission, used to compute the bill's balance due.

PURPOSE:
  Deposits are append-or-edit only. Add persists one new row with a
  server-issued id and receipt number; Edit mutates that same row in
  place and never inserts a duplicate. The running total is recomputed
  from a fresh reload on every call - no cached total survives an edit.

RELOAD DISCIPLINE:
  After every write the entry is reloaded from the store before being
  returned. Callers must treat the reloaded row as truth rather than a
  locally synthesized entry; the original presentation layer trusted its
  local mirror and accumulated id and date drift.

SEE ALSO:
  - billing/bills.go: Consumes Total when computing balance due
  - ward: Posts the optional admission-time advance inside the admit
    transaction
*/
package ledger

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
// TYPES
// =============================================================================

type PaymentMode string

const (
	ModeCash      PaymentMode = "CASH"
	ModeCard      PaymentMode = "CARD"
	ModeUPI       PaymentMode = "UPI"
	ModeInsurance PaymentMode = "INSURANCE"
)

// ValidMode reports whether m is an accepted payment mode.
func ValidMode(m PaymentMode) bool {
	switch m {
	case ModeCash, ModeCard, ModeUPI, ModeInsurance:
		return true
	}
	return false
}

// DepositEntry is one advance payment against an admission. Edits mutate
// the row identified by ID; the receipt number is issued once at insert
// and survives edits.
type DepositEntry struct {
	ID            string          `json:"id"`
	AdmissionID   string          `json:"admission_id"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          PaymentMode     `json:"payment_mode"`
	ReceiptNumber string          `json:"receipt_number"`
	Reference     string          `json:"reference,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDepositNotFound is returned when an edit references an id that
	// does not exist. Edits never fall back to inserting.
	ErrDepositNotFound = errors.New("deposit not found")

	// ErrAdmissionNotFound is returned when posting against an unknown
	// admission.
	ErrAdmissionNotFound = errors.New("admission not found")
)

// ValidationError rejects a deposit before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid deposit: %s %s", e.Field, e.Reason)
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistence the ledger needs. Deposit rows are mutated
// only through these operations.
type Store interface {
	InsertDeposit(ctx context.Context, entry DepositEntry) error
	UpdateDeposit(ctx context.Context, entry DepositEntry) error
	GetDeposit(ctx context.Context, id string) (*DepositEntry, error)
	ListDeposits(ctx context.Context, admissionID string) ([]DepositEntry, error)
	HasAdmission(ctx context.Context, admissionID string) (bool, error)
}

// ReceiptIssuer issues the human-readable receipt number for a new
// deposit. Satisfied by sequence.Generator.
type ReceiptIssuer interface {
	NextReceiptNumber(ctx context.Context) (string, error)
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    Store
	receipts ReceiptIssuer
	clock    func() time.Time
	log      zerolog.Logger
}

func New(store Store, receipts ReceiptIssuer, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		receipts: receipts,
		clock:    time.Now,
		log:      log,
	}
}

// WithClock returns a copy using the given clock.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	return &Ledger{store: l.store, receipts: l.receipts, clock: clock, log: l.log}
}

// Add persists one deposit row and returns it reloaded from the store.
// The amount must be strictly positive.
func (l *Ledger) Add(ctx context.Context, admissionID string, amount decimal.Decimal, mode PaymentMode, recordedAt time.Time, reference string) (*DepositEntry, error) {
	if admissionID == "" {
		return nil, &ValidationError{Field: "admission_id", Reason: "is required"}
	}
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !ValidMode(mode) {
		return nil, &ValidationError{Field: "payment_mode", Reason: fmt.Sprintf("%q is not accepted", mode)}
	}

	ok, err := l.store.HasAdmission(ctx, admissionID)
	if err != nil {
		return nil, fmt.Errorf("checking admission: %w", err)
	}
	if !ok {
		return nil, ErrAdmissionNotFound
	}

	receipt, err := l.receipts.NextReceiptNumber(ctx)
	if err != nil {
		return nil, err
	}

	now := l.clock().UTC()
	if recordedAt.IsZero() {
		recordedAt = now
	}
	entry := DepositEntry{
		ID:            uuid.NewString(),
		AdmissionID:   admissionID,
		Amount:        amount,
		Mode:          mode,
		ReceiptNumber: receipt,
		Reference:     reference,
		RecordedAt:    recordedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.store.InsertDeposit(ctx, entry); err != nil {
		return nil, fmt.Errorf("inserting deposit: %w", err)
	}

	l.log.Info().
		Str("admission_id", admissionID).
		Str("receipt", receipt).
		Str("amount", amount.String()).
		Msg("deposit recorded")

	// Reload: the stored row, not the local struct, is the truth.
	return l.store.GetDeposit(ctx, entry.ID)
}

// Edit mutates an existing deposit row in place. It never inserts; an
// unknown id is an error. The receipt number is preserved. Amount, mode,
// and reference are overwritten with the given values, so an empty
// reference clears the stored one; a zero recordedAt keeps the stored
// timestamp.
func (l *Ledger) Edit(ctx context.Context, id string, amount decimal.Decimal, mode PaymentMode, recordedAt time.Time, reference string) (*DepositEntry, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !ValidMode(mode) {
		return nil, &ValidationError{Field: "payment_mode", Reason: fmt.Sprintf("%q is not accepted", mode)}
	}

	existing, err := l.store.GetDeposit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading deposit: %w", err)
	}
	if existing == nil {
		return nil, ErrDepositNotFound
	}

	existing.Amount = amount
	existing.Mode = mode
	existing.Reference = reference
	if !recordedAt.IsZero() {
		existing.RecordedAt = recordedAt
	}
	existing.UpdatedAt = l.clock().UTC()

	if err := l.store.UpdateDeposit(ctx, *existing); err != nil {
		return nil, fmt.Errorf("updating deposit: %w", err)
	}

	return l.store.GetDeposit(ctx, id)
}

// List returns all deposits for an admission, oldest first.
func (l *Ledger) List(ctx context.Context, admissionID string) ([]DepositEntry, error) {
	return l.store.ListDeposits(ctx, admissionID)
}

// Total recomputes the deposit total from a fresh reload. It is never
// cached across edits.
func (l *Ledger) Total(ctx context.Context, admissionID string) (decimal.Decimal, error) {
	entries, err := l.store.ListDeposits(ctx, admissionID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total, nil
}
