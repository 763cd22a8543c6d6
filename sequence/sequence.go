/*
Package sequence issues unique, monotonically increasing numbers scoped by
a key, and formats them into the hospital's human-readable identifiers.

PURPOSE:
  Every identifier a human sees - IPD numbers, bill numbers, UHIDs,
  deposit receipt numbers, patient codes - is built from a durable scoped
  counter. The counter advance is a single atomic increment-or-insert in
  the store, never a read followed by a write, so concurrent callers can
  never receive the same value.

SCOPING:
  The scope key partitions counters. Daily scopes ("ipd:20260315") reset
  the visible sequence each day without ever reusing a stored value;
  yearly scopes ("bill:2026") run per calendar year.

FAILURE:
  If the counter store is unreachable the generator fails with
  ErrSequenceUnavailable. Callers must NOT substitute a locally
  fabricated id (timestamps, randoms): substitutes collide under
  concurrency. Gaps after a rolled-back operation are acceptable;
  duplicates are not.

SEE ALSO:
  - store/sqlite: Durable counter implementation (single upsert)
  - ward: Consumes IPD numbers on admit
  - billing: Consumes bill numbers on first save
*/
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSequenceUnavailable is returned when the counter store cannot be
// reached. No value was issued; the caller aborts rather than inventing
// a substitute id.
var ErrSequenceUnavailable = errors.New("sequence store unavailable")

// CounterStore is the durable scoped counter. Increment must be a single
// atomic increment-or-insert: concurrent calls for one scope yield
// distinct, increasing values.
type CounterStore interface {
	Increment(ctx context.Context, scopeKey string) (int64, error)
}

// Generator issues scoped sequence values and formats identifiers.
type Generator struct {
	store CounterStore
	// clock is injectable so date-scoped formats are testable
	clock func() time.Time
}

func New(store CounterStore) *Generator {
	return &Generator{store: store, clock: time.Now}
}

// WithClock returns a copy of the generator using the given clock.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	return &Generator{store: g.store, clock: clock}
}

// Next returns the next value for a scope key. The formatted identifier is
// the caller's responsibility; Next returns only the number.
func (g *Generator) Next(ctx context.Context, scopeKey string) (int64, error) {
	n, err := g.store.Increment(ctx, scopeKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSequenceUnavailable, err)
	}
	return n, nil
}

// =============================================================================
// IDENTIFIER FORMATS
// =============================================================================

// NextIPDNumber issues an admission number, e.g. "IPD/20260315/003".
// The counter is scoped per calendar day.
func (g *Generator) NextIPDNumber(ctx context.Context) (string, error) {
	now := g.clock()
	n, err := g.Next(ctx, "ipd:"+now.Format("20060102"))
	if err != nil {
		return "", err
	}
	return FormatIPDNumber(now, n), nil
}

// NextBillNumber issues a bill number, e.g. "IPD-2026-0042", scoped per
// calendar year.
func (g *Generator) NextBillNumber(ctx context.Context) (string, error) {
	now := g.clock()
	n, err := g.Next(ctx, fmt.Sprintf("bill:%d", now.Year()))
	if err != nil {
		return "", err
	}
	return FormatBillNumber(now.Year(), n), nil
}

// NextUHID issues a hospital-scoped patient health identifier,
// e.g. "MH-2026-000107". The counter is scoped by prefix and year.
func (g *Generator) NextUHID(ctx context.Context, prefix string) (string, error) {
	now := g.clock()
	n, err := g.Next(ctx, fmt.Sprintf("uhid:%s:%d", prefix, now.Year()))
	if err != nil {
		return "", err
	}
	return FormatUHID(prefix, now.Year(), n), nil
}

// NextReceiptNumber issues a deposit receipt number, e.g. "V-20260315-02",
// scoped per calendar day.
func (g *Generator) NextReceiptNumber(ctx context.Context) (string, error) {
	now := g.clock()
	n, err := g.Next(ctx, "receipt:"+now.Format("20060102"))
	if err != nil {
		return "", err
	}
	return FormatReceiptNumber(now, n), nil
}

// NextPatientCode issues a registry code, e.g. "M000107", from a single
// global scope.
func (g *Generator) NextPatientCode(ctx context.Context) (string, error) {
	n, err := g.Next(ctx, "patient")
	if err != nil {
		return "", err
	}
	return FormatPatientCode(n), nil
}

// Formatting is separated from issuance so callers holding a raw value
// (e.g. the generic next-sequence endpoint) can render it themselves.

func FormatIPDNumber(t time.Time, n int64) string {
	return fmt.Sprintf("IPD/%s/%03d", t.Format("20060102"), n)
}

func FormatBillNumber(year int, n int64) string {
	return fmt.Sprintf("IPD-%d-%04d", year, n)
}

func FormatUHID(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, n)
}

func FormatReceiptNumber(t time.Time, n int64) string {
	return fmt.Sprintf("V-%s-%02d", t.Format("20060102"), n)
}

func FormatPatientCode(n int64) string {
	return fmt.Sprintf("M%06d", n)
}

// FormatScoped renders the identifier a raw scoped value belongs to, using
// the date or year embedded in the scope key itself so the result never
// depends on the caller's clock. Unrecognized scopes render as the plain
// number.
func FormatScoped(scopeKey string, n int64) string {
	parts := strings.Split(scopeKey, ":")
	switch parts[0] {
	case "ipd":
		if len(parts) == 2 {
			if t, err := time.Parse("20060102", parts[1]); err == nil {
				return FormatIPDNumber(t, n)
			}
		}
	case "bill":
		if len(parts) == 2 {
			if year, err := strconv.Atoi(parts[1]); err == nil {
				return FormatBillNumber(year, n)
			}
		}
	case "uhid":
		if len(parts) == 3 {
			if year, err := strconv.Atoi(parts[2]); err == nil {
				return FormatUHID(parts[1], year, n)
			}
		}
	case "receipt":
		if len(parts) == 2 {
			if t, err := time.Parse("20060102", parts[1]); err == nil {
				return FormatReceiptNumber(t, n)
			}
		}
	case "patient":
		return FormatPatientCode(n)
	}
	return strconv.FormatInt(n, 10)
}
