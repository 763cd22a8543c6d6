package sequence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hospital-engine/sequence"
	"github.com/warp/hospital-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestGenerator(t *testing.T) *sequence.Generator {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return sequence.New(store)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var march15 = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

// =============================================================================
// IDENTIFIER FORMATS
// =============================================================================

func TestGenerator_IPDNumberFormat(t *testing.T) {
	g := newTestGenerator(t).WithClock(fixedClock(march15))
	ctx := context.Background()

	first, err := g.NextIPDNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IPD/20260315/001", first)

	second, err := g.NextIPDNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IPD/20260315/002", second)
}

func TestGenerator_IPDNumber_DailyScopeResets(t *testing.T) {
	// GIVEN: Numbers issued on March 15
	// WHEN: The clock rolls to March 16
	// THEN: The visible sequence restarts at 001 under the new date

	g := newTestGenerator(t)
	ctx := context.Background()

	_, err := g.WithClock(fixedClock(march15)).NextIPDNumber(ctx)
	require.NoError(t, err)

	march16 := march15.AddDate(0, 0, 1)
	n, err := g.WithClock(fixedClock(march16)).NextIPDNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "IPD/20260316/001", n)
}

func TestGenerator_BillNumberFormat(t *testing.T) {
	g := newTestGenerator(t).WithClock(fixedClock(march15))

	n, err := g.NextBillNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "IPD-2026-0001", n)
}

func TestGenerator_UHIDFormat(t *testing.T) {
	g := newTestGenerator(t).WithClock(fixedClock(march15))

	n, err := g.NextUHID(context.Background(), "MH")
	require.NoError(t, err)
	assert.Equal(t, "MH-2026-000001", n)
}

func TestGenerator_ReceiptNumberFormat(t *testing.T) {
	g := newTestGenerator(t).WithClock(fixedClock(march15))

	n, err := g.NextReceiptNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "V-20260315-01", n)
}

func TestGenerator_PatientCodeFormat(t *testing.T) {
	g := newTestGenerator(t)

	n, err := g.NextPatientCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "M000001", n)
}

func TestFormatScoped(t *testing.T) {
	tests := []struct {
		scope string
		n     int64
		want  string
	}{
		{"ipd:20260315", 3, "IPD/20260315/003"},
		{"bill:2026", 42, "IPD-2026-0042"},
		{"uhid:MH:2026", 107, "MH-2026-000107"},
		{"receipt:20260315", 2, "V-20260315-02"},
		{"patient", 107, "M000107"},
		{"lab", 9, "9"},
		{"ipd:garbage", 9, "9"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sequence.FormatScoped(tt.scope, tt.n), "scope %s", tt.scope)
	}
}

// =============================================================================
// SCOPE ISOLATION
// =============================================================================

func TestGenerator_ScopesAreIndependent(t *testing.T) {
	g := newTestGenerator(t)
	ctx := context.Background()

	a1, err := g.Next(ctx, "scope-a")
	require.NoError(t, err)
	b1, err := g.Next(ctx, "scope-b")
	require.NoError(t, err)
	a2, err := g.Next(ctx, "scope-a")
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1)
	assert.Equal(t, int64(1), b1, "a different scope starts at its own 1")
	assert.Equal(t, int64(2), a2)
}

// =============================================================================
// CONCURRENCY - No duplicates under parallel issuance
// =============================================================================

func TestGenerator_ConcurrentNext_AllDistinct(t *testing.T) {
	// GIVEN: 50 goroutines pulling from the same scope
	// WHEN: All complete
	// THEN: Every value is distinct and 1..50 is fully covered

	g := newTestGenerator(t)
	ctx := context.Background()

	const workers = 50
	results := make(chan int64, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.Next(ctx, "ipd:20260315")
			assert.NoError(t, err)
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		assert.False(t, seen[n], "value %d issued twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], "value %d missing from sequence", i)
	}
}

// =============================================================================
// FAILURE - Unreachable store never yields a fabricated id
// =============================================================================

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string) (int64, error) {
	return 0, errors.New("disk on fire")
}

func TestGenerator_StoreFailure_ReturnsSentinel(t *testing.T) {
	g := sequence.New(failingCounter{})

	n, err := g.NextIPDNumber(context.Background())
	assert.Empty(t, n, "no identifier may be fabricated on failure")
	assert.ErrorIs(t, err, sequence.ErrSequenceUnavailable)
}
