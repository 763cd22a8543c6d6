package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hospital-engine/billing"
	"github.com/warp/hospital-engine/store/sqlite"
	"github.com/warp/hospital-engine/ward"
)

// These tests cover the schema-level guarantees the services rely on but
// do not exercise directly: the status guards on bed flips, the occupied
// bed surviving an upsert, and the UNIQUE canonical-bill constraint.

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func saveBed(t *testing.T, store *sqlite.Store, id string, status ward.BedStatus) {
	t.Helper()
	err := store.SaveBed(context.Background(), ward.Bed{
		ID:           id,
		Number:       "B-" + id,
		RoomCategory: billing.GeneralWard,
		Status:       status,
		DailyRate:    decimal.NewFromInt(1000),
		Workflow:     ward.DefaultWorkflowMeta(),
	})
	require.NoError(t, err)
}

func TestStore_OccupyBed_GuardedByStatus(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	saveBed(t, store, "bed-1", ward.BedAvailable)

	ok, err := store.OccupyBed(ctx, "bed-1", "adm-1", ward.DefaultWorkflowMeta())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second flip fails the guard instead of silently overwriting
	ok, err = store.OccupyBed(ctx, "bed-1", "adm-2", ward.DefaultWorkflowMeta())
	require.NoError(t, err)
	assert.False(t, ok)

	bed, err := store.GetBed(ctx, "bed-1")
	require.NoError(t, err)
	assert.Equal(t, "adm-1", bed.AdmissionID, "the first admission keeps the bed")
}

func TestStore_ReleaseBed_RequiresOccupied(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	saveBed(t, store, "bed-1", ward.BedAvailable)

	ok, err := store.ReleaseBed(ctx, "bed-1", ward.DefaultWorkflowMeta())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SaveBed_UpsertNeverFreesOccupiedBed(t *testing.T) {
	// GIVEN: An occupied bed
	// WHEN: Its definition is re-saved with status available
	// THEN: The occupancy survives; only definition fields change

	store := newStore(t)
	ctx := context.Background()
	saveBed(t, store, "bed-1", ward.BedAvailable)

	ok, err := store.OccupyBed(ctx, "bed-1", "adm-1", ward.DefaultWorkflowMeta())
	require.NoError(t, err)
	require.True(t, ok)

	saveBed(t, store, "bed-1", ward.BedAvailable)

	bed, err := store.GetBed(ctx, "bed-1")
	require.NoError(t, err)
	assert.Equal(t, ward.BedOccupied, bed.Status)
	assert.Equal(t, "adm-1", bed.AdmissionID)
}

func TestStore_Bills_OnePerAdmissionEnforcedBySchema(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Format(time.RFC3339)
	bill := billing.Bill{
		ID:          "bill-1",
		BillNumber:  "IPD-2026-0001",
		AdmissionID: "adm-1",
		BillDate:    "2026-03-15",
		Status:      billing.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.InsertBill(ctx, bill))

	dup := bill
	dup.ID = "bill-2"
	dup.BillNumber = "IPD-2026-0002"
	assert.Error(t, store.InsertBill(ctx, dup),
		"a second bill for the same admission violates the schema constraint")
}
