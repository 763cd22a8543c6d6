package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hospital-engine/api"
	"github.com/warp/hospital-engine/billing"
	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/sequence"
	"github.com/warp/hospital-engine/store/sqlite"
	"github.com/warp/hospital-engine/ward"
)

// =============================================================================
// TEST SETUP - Full stack against an in-memory database
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	seq := sequence.New(store)
	wardSvc := ward.NewService(store, seq, nil, "MH", log)
	led := ledger.New(store, seq, log)
	bil := billing.NewBilling(store, led, seq, log)

	handler := api.NewHandler(store, wardSvc, led, bil, seq, log)
	srv := httptest.NewServer(api.NewRouter(handler, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// registerAndAdmit drives the happy path up to an active admission and
// returns the admission.
func registerAndAdmit(t *testing.T, srv *httptest.Server) ward.Admission {
	t.Helper()

	var patient ward.Patient
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/patients",
		map[string]string{"first_name": "Asha", "last_name": "Kulkarni"}, &patient)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var bed ward.Bed
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/beds",
		map[string]any{"number": "GW-01", "room_category": "General Ward"}, &bed)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var adm ward.Admission
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/beds/"+bed.ID+"/admit",
		api.AdmitRequest{PatientID: patient.ID}, &adm)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return adm
}

// =============================================================================
// PATIENTS + BEDS
// =============================================================================

func TestAPI_RegisterPatient(t *testing.T) {
	srv := newTestServer(t)

	var patient ward.Patient
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/patients",
		map[string]string{"first_name": "Asha"}, &patient)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "M000001", patient.PatientCode)
	assert.Contains(t, patient.UHID, "MH-")
}

func TestAPI_CreateBed_UnknownCategoryRejected(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/beds",
		map[string]any{"number": "GW-01", "room_category": "Penthouse"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListBeds(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/beds",
		map[string]any{"number": "GW-01", "room_category": "General Ward"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var beds []ward.Bed
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/beds", nil, &beds)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, beds, 1)
	assert.Equal(t, ward.BedAvailable, beds[0].Status)
}

// =============================================================================
// ADMIT / DISCHARGE FLOW
// =============================================================================

func TestAPI_AdmitDischargeFlow(t *testing.T) {
	srv := newTestServer(t)

	adm := registerAndAdmit(t, srv)
	assert.Contains(t, adm.IPDNumber, "IPD/")

	// Admitting the occupied bed again conflicts
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/beds/"+adm.BedID+"/admit",
		api.AdmitRequest{PatientID: adm.PatientID}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var out api.DischargeDTO
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/beds/"+adm.BedID+"/discharge", nil, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, ward.BedAvailable, out.Bed.Status)
	assert.Equal(t, ward.AdmissionDischarged, out.Admission.Status)
}

func TestAPI_Admit_UnknownBed404(t *testing.T) {
	srv := newTestServer(t)

	var patient ward.Patient
	doJSON(t, http.MethodPost, srv.URL+"/api/patients",
		map[string]string{"first_name": "Asha"}, &patient)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/beds/ghost/admit",
		api.AdmitRequest{PatientID: patient.ID}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// SEQUENCES
// =============================================================================

func TestAPI_SequenceEndpoints(t *testing.T) {
	srv := newTestServer(t)

	var seq api.SequenceDTO
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sequence/next?scope=bill:2026", nil, &seq)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), seq.Value)
	assert.Equal(t, "IPD-2026-0001", seq.FormattedID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sequence/next", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "scope is required")

	var num api.NumberDTO
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/ipd/next-number", nil, &num)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, num.Number, "IPD/")
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestAPI_DepositFlow(t *testing.T) {
	srv := newTestServer(t)
	adm := registerAndAdmit(t, srv)

	var entry ledger.DepositEntry
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admissions/"+adm.ID+"/deposits",
		api.DepositRequest{Amount: 5000, Mode: "CASH"}, &entry)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, entry.ReceiptNumber, "V-")

	// Edit in place
	var edited ledger.DepositEntry
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/deposits/"+entry.ID,
		api.DepositRequest{Amount: 7500, Mode: "UPI"}, &edited)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entry.ID, edited.ID)
	assert.Equal(t, entry.ReceiptNumber, edited.ReceiptNumber)

	var list api.DepositsDTO
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/admissions/"+adm.ID+"/deposits", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list.Deposits, 1)
	assert.Equal(t, "7500", list.Total)
}

func TestAPI_Deposit_UnknownAdmission404(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admissions/ghost/deposits",
		api.DepositRequest{Amount: 100, Mode: "CASH"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Deposit_InvalidAmount400(t *testing.T) {
	srv := newTestServer(t)
	adm := registerAndAdmit(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admissions/"+adm.ID+"/deposits",
		api.DepositRequest{Amount: -50, Mode: "CASH"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// BILLS
// =============================================================================

func TestAPI_BillLifecycle(t *testing.T) {
	srv := newTestServer(t)
	adm := registerAndAdmit(t, srv)

	// Deposit first so the computed balance reflects it
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admissions/"+adm.ID+"/deposits",
		api.DepositRequest{Amount: 1000, Mode: "CASH"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	seg := billing.StaySegment{ID: "seg-1", StartDate: "2026-03-10", EndDate: "2026-03-12"}
	seg.SetCategory(billing.GeneralWard)
	draft := billing.Draft{
		AdmissionID:  adm.ID,
		PatientID:    adm.PatientID,
		AdmissionFee: 2000,
		Segments:     []billing.StaySegment{seg},
	}

	var bill billing.Bill
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bills", draft, &bill)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, bill.Breakdown.BalanceDue.Equal(decimal.NewFromInt(4600)),
		"balance: %s", bill.Breakdown.BalanceDue)

	// Fetch by admission
	var fetched billing.Bill
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/admissions/"+adm.ID+"/bill", nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bill.ID, fetched.ID)

	// draft -> pending -> paid
	pendingDraft := fetched.Draft
	pendingDraft.Status = billing.StatusPending
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bills", pendingDraft, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var paid billing.Bill
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bills/"+bill.ID+"/complete", nil, &paid)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, billing.StatusPaid, paid.Status)

	// Paid bills are frozen
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bills", pendingDraft, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_SaveBill_RetriedCreateIsOK_NotCreated(t *testing.T) {
	// GIVEN: An admission whose bill already exists
	// WHEN: The same id-less draft is posted again within the same second
	// THEN: The retry answers 200 against the same row, never a second 201

	srv := newTestServer(t)
	adm := registerAndAdmit(t, srv)

	draft := billing.Draft{AdmissionID: adm.ID, AdmissionFee: 500}

	var first billing.Bill
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bills", draft, &first)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var second billing.Bill
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/bills", draft, &second)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BillNumber, second.BillNumber)
}

func TestAPI_Bill_NoneYet404(t *testing.T) {
	srv := newTestServer(t)
	adm := registerAndAdmit(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/admissions/"+adm.ID+"/bill", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DeleteBill(t *testing.T) {
	srv := newTestServer(t)
	adm := registerAndAdmit(t, srv)

	var bill billing.Bill
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/bills",
		billing.Draft{AdmissionID: adm.ID, AdmissionFee: 500}, &bill)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/bills/"+bill.ID, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/admissions/"+adm.ID+"/bill", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
