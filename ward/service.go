/*
service.go - Admit/Discharge orchestration

PURPOSE:
  Drives the bed state machine against the store. Each operation is
  all-or-nothing: every write lands inside one store transaction, so a
  failure at any step (counter, admission insert, bed flip, advance
  deposit) rolls the whole unit back.

ORDERING:
  The IPD number and any receipt number are issued before the
  transaction opens. A rollback therefore leaves a gap in the sequence,
  which is acceptable; a reused number is not.

CONCURRENCY:
  Two concurrent admits on one bed are decided by the store: the bed
  flip is a guarded update (only from Available), so exactly one caller
  wins and the loser gets InvalidBedState with the bed's actual state.
*/
package ward

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/sequence"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// Store is the persistence the state machine needs. Bed and admission
// rows are mutated only through these operations.
type Store interface {
	GetBed(ctx context.Context, id string) (*Bed, error)
	ListBeds(ctx context.Context) ([]Bed, error)

	// OccupyBed flips a bed to occupied and sets its admission ref, but
	// only from Available. Returns false when the guard did not match.
	OccupyBed(ctx context.Context, bedID, admissionID string, meta WorkflowMeta) (bool, error)

	// ReleaseBed resets a bed to its default unoccupied fields, but only
	// from Occupied. Returns false when the guard did not match.
	ReleaseBed(ctx context.Context, bedID string, meta WorkflowMeta) (bool, error)

	InsertAdmission(ctx context.Context, adm Admission) error
	GetAdmission(ctx context.Context, id string) (*Admission, error)
	MarkDischarged(ctx context.Context, admissionID string, at time.Time) error

	InsertDeposit(ctx context.Context, entry ledger.DepositEntry) error

	InsertPatient(ctx context.Context, p Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	HasPatient(ctx context.Context, id string) (bool, error)
}

// TxStore runs a function against a transactional view of the store.
// fn returning an error rolls back every write made through its store.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// DischargeNotifier is the external discharge-summary collaborator,
// triggered after a discharge commits.
type DischargeNotifier interface {
	AdmissionDischarged(ctx context.Context, bed Bed, adm Admission) error
}

// NopNotifier satisfies DischargeNotifier and does nothing.
type NopNotifier struct{}

func (NopNotifier) AdmissionDischarged(context.Context, Bed, Admission) error { return nil }

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store      TxStore
	seq        *sequence.Generator
	notifier   DischargeNotifier
	uhidPrefix string
	clock      func() time.Time
	log        zerolog.Logger
}

func NewService(store TxStore, seq *sequence.Generator, notifier DischargeNotifier, uhidPrefix string, log zerolog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:      store,
		seq:        seq,
		notifier:   notifier,
		uhidPrefix: uhidPrefix,
		clock:      time.Now,
		log:        log,
	}
}

// WithClock returns a copy of the service using the given clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	c := *s
	c.clock = clock
	return &c
}

// =============================================================================
// PATIENT REGISTRATION
// =============================================================================

// RegisterPatient stores a minimal registry record, issuing the patient
// code and UHID from the sequence generator.
func (s *Service) RegisterPatient(ctx context.Context, firstName, lastName, phone string) (*Patient, error) {
	if firstName == "" {
		return nil, &ValidationError{Field: "first_name", Reason: "is required"}
	}

	code, err := s.seq.NextPatientCode(ctx)
	if err != nil {
		return nil, err
	}
	uhid, err := s.seq.NextUHID(ctx, s.uhidPrefix)
	if err != nil {
		return nil, err
	}

	p := Patient{
		ID:          uuid.NewString(),
		PatientCode: code,
		UHID:        uhid,
		FirstName:   firstName,
		LastName:    lastName,
		Phone:       phone,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.store.InsertPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("inserting patient: %w", err)
	}
	return s.store.GetPatient(ctx, p.ID)
}

// =============================================================================
// ADMIT
// =============================================================================

// Admit moves a bed Available -> Occupied as one atomic unit: issue the
// IPD number, create the active admission, flip the bed, and post the
// advance deposit when one accompanies admission. Any failure rolls the
// whole unit back.
func (s *Service) Admit(ctx context.Context, bedID, patientID string, details AdmissionDetails) (*Admission, error) {
	if bedID == "" {
		return nil, &ValidationError{Field: "bed_id", Reason: "is required"}
	}
	if patientID == "" {
		return nil, &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if details.AdvanceAmount.IsNegative() {
		return nil, &ValidationError{Field: "advance_amount", Reason: "must not be negative"}
	}

	registered, err := s.store.HasPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("checking patient: %w", err)
	}
	if !registered {
		return nil, &ValidationError{Field: "patient_id", Reason: "is not a registered patient"}
	}

	// Fail fast before issuing a number: the pre-check is advisory, the
	// guarded update inside the transaction is authoritative.
	bed, err := s.store.GetBed(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if bed == nil {
		return nil, ErrBedNotFound
	}
	if bed.Status != BedAvailable {
		return nil, &InvalidBedStateError{BedID: bedID, Op: "admit", Current: bed.Status}
	}

	ipdNumber, err := s.seq.NextIPDNumber(ctx)
	if err != nil {
		return nil, err
	}
	var receipt string
	if details.AdvanceAmount.IsPositive() {
		if receipt, err = s.seq.NextReceiptNumber(ctx); err != nil {
			return nil, err
		}
	}

	now := s.clock().UTC()
	adm := Admission{
		ID:         uuid.NewString(),
		PatientID:  patientID,
		BedID:      bedID,
		IPDNumber:  ipdNumber,
		Status:     AdmissionActive,
		Details:    details,
		AdmittedAt: now,
		CreatedAt:  now,
	}

	err = s.store.WithTx(ctx, func(tx Store) error {
		if err := tx.InsertAdmission(ctx, adm); err != nil {
			return fmt.Errorf("inserting admission: %w", err)
		}

		occupied, err := tx.OccupyBed(ctx, bedID, adm.ID, DefaultWorkflowMeta())
		if err != nil {
			return fmt.Errorf("occupying bed: %w", err)
		}
		if !occupied {
			// Lost the race; report the actual state, not a guess.
			current, err := tx.GetBed(ctx, bedID)
			if err != nil {
				return err
			}
			if current == nil {
				return ErrBedNotFound
			}
			return &InvalidBedStateError{BedID: bedID, Op: "admit", Current: current.Status}
		}

		if details.AdvanceAmount.IsPositive() {
			mode := ledger.PaymentMode(details.AdvancePaymentMode)
			if !ledger.ValidMode(mode) {
				mode = ledger.ModeCash
			}
			return tx.InsertDeposit(ctx, ledger.DepositEntry{
				ID:            uuid.NewString(),
				AdmissionID:   adm.ID,
				Amount:        details.AdvanceAmount,
				Mode:          mode,
				ReceiptNumber: receipt,
				Reference:     "admission advance",
				RecordedAt:    now,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bed_id", bedID).
		Str("patient_id", patientID).
		Str("ipd_number", ipdNumber).
		Msg("patient admitted")

	return s.store.GetAdmission(ctx, adm.ID)
}

// =============================================================================
// DISCHARGE
// =============================================================================

// Discharge moves a bed Occupied -> Available: the admission is marked
// discharged with a timestamp and the bed returns to its default
// unoccupied fields. The discharge-summary collaborator is notified only
// after the transaction commits.
func (s *Service) Discharge(ctx context.Context, bedID string) (*Bed, *Admission, error) {
	bed, err := s.store.GetBed(ctx, bedID)
	if err != nil {
		return nil, nil, err
	}
	if bed == nil {
		return nil, nil, ErrBedNotFound
	}
	if bed.Status != BedOccupied {
		return nil, nil, &InvalidBedStateError{BedID: bedID, Op: "discharge", Current: bed.Status}
	}

	admissionID := bed.AdmissionID
	now := s.clock().UTC()

	err = s.store.WithTx(ctx, func(tx Store) error {
		// The pre-check above is advisory; this re-read is authoritative.
		// Losing a race to a concurrent discharge (or a discharge plus
		// readmit) is a state conflict, not a store failure.
		current, err := tx.GetBed(ctx, bedID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrBedNotFound
		}
		if current.Status != BedOccupied || current.AdmissionID != admissionID {
			return &InvalidBedStateError{BedID: bedID, Op: "discharge", Current: current.Status}
		}
		if err := tx.MarkDischarged(ctx, admissionID, now); err != nil {
			return fmt.Errorf("marking discharged: %w", err)
		}

		released, err := tx.ReleaseBed(ctx, bedID, DefaultWorkflowMeta())
		if err != nil {
			return fmt.Errorf("releasing bed: %w", err)
		}
		if !released {
			current, err := tx.GetBed(ctx, bedID)
			if err != nil {
				return err
			}
			if current == nil {
				return ErrBedNotFound
			}
			return &InvalidBedStateError{BedID: bedID, Op: "discharge", Current: current.Status}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	freshBed, err := s.store.GetBed(ctx, bedID)
	if err != nil {
		return nil, nil, err
	}
	adm, err := s.store.GetAdmission(ctx, admissionID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.notifier.AdmissionDischarged(ctx, *freshBed, *adm); err != nil {
		// The discharge is committed; a summary failure is an ops problem,
		// not a state machine problem.
		s.log.Warn().Err(err).Str("admission_id", admissionID).Msg("discharge summary notification failed")
	}

	s.log.Info().
		Str("bed_id", bedID).
		Str("admission_id", admissionID).
		Msg("patient discharged")

	return freshBed, adm, nil
}
