package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/sequence"
	"github.com/warp/hospital-engine/store/sqlite"
	"github.com/warp/hospital-engine/ward"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	led := ledger.New(store, sequence.New(store), zerolog.Nop())
	return led, store
}

// seedAdmission inserts a bare admission row so deposits have something to
// post against.
func seedAdmission(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	err := store.InsertAdmission(context.Background(), ward.Admission{
		ID:         id,
		PatientID:  "pat-1",
		BedID:      "bed-1",
		IPDNumber:  "IPD/20260315/001-" + id,
		Status:     ward.AdmissionActive,
		AdmittedAt: now,
		CreatedAt:  now,
	})
	require.NoError(t, err)
}

func amount(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// =============================================================================
// ADD
// =============================================================================

func TestLedger_Add_PersistsAndReloads(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	seedAdmission(t, store, "adm-1")

	entry, err := led.Add(ctx, "adm-1", amount(5000), ledger.ModeUPI, time.Time{}, "advance")
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID, "id is server-issued")
	assert.Equal(t, "V-"+time.Now().UTC().Format("20060102")+"-01", entry.ReceiptNumber)
	assert.True(t, entry.Amount.Equal(amount(5000)))
	assert.Equal(t, ledger.ModeUPI, entry.Mode)

	// The returned entry is the stored row, not a local echo
	stored, err := store.GetDeposit(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry, stored)
}

func TestLedger_Add_RejectsNonPositiveAmount(t *testing.T) {
	led, store := newTestLedger(t)
	seedAdmission(t, store, "adm-1")

	for _, amt := range []decimal.Decimal{decimal.Zero, amount(-100)} {
		_, err := led.Add(context.Background(), "adm-1", amt, ledger.ModeCash, time.Time{}, "")
		var valErr *ledger.ValidationError
		assert.ErrorAs(t, err, &valErr, "amount %s must be rejected", amt)
	}
}

func TestLedger_Add_RejectsUnknownAdmission(t *testing.T) {
	led, _ := newTestLedger(t)

	_, err := led.Add(context.Background(), "no-such", amount(100), ledger.ModeCash, time.Time{}, "")
	assert.ErrorIs(t, err, ledger.ErrAdmissionNotFound)
}

func TestLedger_Add_RejectsUnknownMode(t *testing.T) {
	led, store := newTestLedger(t)
	seedAdmission(t, store, "adm-1")

	_, err := led.Add(context.Background(), "adm-1", amount(100), "BARTER", time.Time{}, "")
	var valErr *ledger.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

// =============================================================================
// EDIT - In place, never duplicating
// =============================================================================

func TestLedger_Edit_MutatesInPlace(t *testing.T) {
	// GIVEN: One stored deposit
	// WHEN: Editing its amount and mode
	// THEN: The same row changes; no second row appears and the receipt
	//       number survives

	led, store := newTestLedger(t)
	ctx := context.Background()
	seedAdmission(t, store, "adm-1")

	entry, err := led.Add(ctx, "adm-1", amount(5000), ledger.ModeCash, time.Time{}, "")
	require.NoError(t, err)

	edited, err := led.Edit(ctx, entry.ID, amount(7500), ledger.ModeCard, time.Time{}, "corrected")
	require.NoError(t, err)

	assert.Equal(t, entry.ID, edited.ID)
	assert.Equal(t, entry.ReceiptNumber, edited.ReceiptNumber, "receipt survives edits")
	assert.True(t, edited.Amount.Equal(amount(7500)))
	assert.Equal(t, ledger.ModeCard, edited.Mode)

	entries, err := led.List(ctx, "adm-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "edit must never insert")
}

func TestLedger_Edit_EmptyReferenceClears(t *testing.T) {
	// GIVEN: A deposit carrying a reference note
	// WHEN: Editing with an empty reference and a zero recordedAt
	// THEN: The reference is cleared while the stored timestamp survives

	led, store := newTestLedger(t)
	ctx := context.Background()
	seedAdmission(t, store, "adm-1")

	recorded := time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)
	entry, err := led.Add(ctx, "adm-1", amount(5000), ledger.ModeCash, recorded, "advance")
	require.NoError(t, err)

	edited, err := led.Edit(ctx, entry.ID, amount(5000), ledger.ModeCash, time.Time{}, "")
	require.NoError(t, err)

	assert.Empty(t, edited.Reference, "empty reference must overwrite, not keep")
	assert.True(t, edited.RecordedAt.Equal(recorded), "zero recordedAt keeps the stored timestamp")
}

func TestLedger_Edit_UnknownID_NeverInserts(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	seedAdmission(t, store, "adm-1")

	_, err := led.Edit(ctx, "ghost", amount(100), ledger.ModeCash, time.Time{}, "")
	assert.ErrorIs(t, err, ledger.ErrDepositNotFound)

	entries, err := led.List(ctx, "adm-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "failed edit must leave nothing behind")
}

// =============================================================================
// TOTAL - Fresh reload, never cached
// =============================================================================

func TestLedger_Total_TracksEdits(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	seedAdmission(t, store, "adm-1")

	first, err := led.Add(ctx, "adm-1", amount(5000), ledger.ModeCash, time.Time{}, "")
	require.NoError(t, err)
	_, err = led.Add(ctx, "adm-1", amount(2500), ledger.ModeUPI, time.Time{}, "")
	require.NoError(t, err)

	total, err := led.Total(ctx, "adm-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(amount(7500)), "total: %s", total)

	// After an edit the total reflects the new figure immediately
	_, err = led.Edit(ctx, first.ID, amount(1000), ledger.ModeCash, time.Time{}, "")
	require.NoError(t, err)

	total, err = led.Total(ctx, "adm-1")
	require.NoError(t, err)
	assert.True(t, total.Equal(amount(3500)), "total after edit: %s", total)
}

func TestLedger_Total_EmptyLedgerIsZero(t *testing.T) {
	led, store := newTestLedger(t)
	seedAdmission(t, store, "adm-1")

	total, err := led.Total(context.Background(), "adm-1")
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestLedger_List_OldestFirst(t *testing.T) {
	led, store := newTestLedger(t)
	ctx := context.Background()
	seedAdmission(t, store, "adm-1")

	day1 := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC)

	_, err := led.Add(ctx, "adm-1", amount(200), ledger.ModeCash, day2, "second")
	require.NoError(t, err)
	_, err = led.Add(ctx, "adm-1", amount(100), ledger.ModeCash, day1, "first")
	require.NoError(t, err)

	entries, err := led.List(ctx, "adm-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Reference)
	assert.Equal(t, "second", entries[1].Reference)
}
