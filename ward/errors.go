/*
errors.go - Bed/admission state machine errors

Sentinels for errors.Is checks, structured types for context. An
InvalidBedStateError always carries the bed's actual current state so the
caller can resync instead of retrying blind.
*/
package ward

import (
	"errors"
	"fmt"
)

var (
	// ErrBedNotFound is returned when the bed id does not exist.
	ErrBedNotFound = errors.New("bed not found")

	// ErrAdmissionNotFound is returned when an admission lookup misses.
	ErrAdmissionNotFound = errors.New("admission not found")

	// ErrInvalidBedState is the sentinel under every InvalidBedStateError.
	ErrInvalidBedState = errors.New("invalid bed state")
)

// InvalidBedStateError rejects an admit or discharge attempted from the
// wrong state. Current is the bed's actual state at rejection time; there
// is no silent overwrite.
type InvalidBedStateError struct {
	BedID   string
	Op      string // "admit" or "discharge"
	Current BedStatus
}

func (e *InvalidBedStateError) Error() string {
	return fmt.Sprintf("cannot %s bed %s: bed is %s", e.Op, e.BedID, e.Current)
}

func (e *InvalidBedStateError) Unwrap() error { return ErrInvalidBedState }

// ValidationError rejects an operation before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid admission: %s %s", e.Field, e.Reason)
}
