/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements all persistence interfaces (sequence.CounterStore,
  ward.TxStore, ledger.Store, billing.BillStore) using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  counters:    Scoped sequence counters; advanced only by a single
               atomic upsert (never read-then-write)
  patients:    Minimal registry (code + UHID issued at registration)
  beds:        Occupancy state + opaque clinical workflow metadata;
               status and admission_id change together
  admissions:  Stay records, 1:1 with an occupied bed
  deposits:    Advance-payment ledger; rows are inserted once and
               edited in place by id, never duplicated
  bills:       One canonical bill per admission (UNIQUE admission_id),
               holding the serialized draft and computed breakdown

INVARIANT ENFORCEMENT:
  - counters: `INSERT .. ON CONFLICT DO UPDATE .. RETURNING` makes the
    increment atomic; concurrent callers can never read the same value
  - beds: admit/discharge flips are guarded updates
    (`WHERE status = ?`), so racing admits produce exactly one winner
  - bills: UNIQUE(admission_id) makes a duplicate canonical bill a
    constraint violation even if the service-level check is bypassed

CONCURRENCY:
  sync.RWMutex plus a single pooled connection. SQLite allows one
  writer anyway, and one connection keeps :memory: databases coherent
  in tests. WAL mode for readers and crash recovery.

TRANSACTIONS:
  WithTx wraps multi-step writes (admit, discharge). The public methods
  lock and delegate to unexported *Tx helpers that take any queryer;
  the transactional view calls those helpers directly against its
  sql.Tx, so a helper never re-locks under WithTx.

SEE ALSO:
  - ward/service.go: Drives admit/discharge through WithTx
  - sequence/sequence.go: Consumes Increment
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/hospital-engine/billing"
	"github.com/warp/hospital-engine/ledger"
	"github.com/warp/hospital-engine/ward"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer is all SQLite gives us; one pooled connection also keeps
	// :memory: databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Scoped sequence counters. Values strictly increase per scope and
	-- are never reused; gaps after rollback are fine.
	CREATE TABLE IF NOT EXISTS counters (
		scope_key TEXT PRIMARY KEY,
		counter INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		patient_code TEXT NOT NULL UNIQUE,
		uhid TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT,
		phone TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS beds (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		room_category TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		admission_id TEXT,
		daily_rate TEXT NOT NULL DEFAULT '0',
		tat_status TEXT NOT NULL DEFAULT 'idle',
		tat_remaining_seconds INTEGER NOT NULL DEFAULT 1800,
		consent_form_submitted BOOLEAN NOT NULL DEFAULT FALSE,
		clinical_record_submitted BOOLEAN NOT NULL DEFAULT FALSE,
		progress_sheet_submitted BOOLEAN NOT NULL DEFAULT FALSE,
		nurses_orders_submitted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_beds_status ON beds(status);

	CREATE TABLE IF NOT EXISTS admissions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		bed_id TEXT NOT NULL,
		ipd_number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'active',
		details_json TEXT NOT NULL,
		admitted_at TEXT NOT NULL,
		discharged_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_admissions_patient ON admissions(patient_id);
	CREATE INDEX IF NOT EXISTS idx_admissions_bed ON admissions(bed_id);

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		admission_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		receipt_number TEXT NOT NULL,
		reference TEXT,
		recorded_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_admission
		ON deposits(admission_id, recorded_at);

	-- One canonical bill per admission, enforced at the schema level.
	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		bill_number TEXT NOT NULL UNIQUE,
		admission_id TEXT NOT NULL UNIQUE,
		patient_id TEXT,
		bill_date TEXT NOT NULL,
		draft_json TEXT NOT NULL,
		breakdown_json TEXT NOT NULL,
		gross_total TEXT NOT NULL,
		net_payable TEXT NOT NULL,
		total_deposits TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bills_status ON bills(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COUNTERS (sequence.CounterStore interface)
// =============================================================================

// Increment advances a scoped counter and returns the new value. This is
// a single atomic upsert - never a read followed by a write - so
// concurrent callers always receive distinct values.
func (s *Store) Increment(ctx context.Context, scopeKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO counters (scope_key, counter, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			counter = counters.counter + 1,
			updated_at = excluded.updated_at
		RETURNING counter
	`

	var n int64
	err := s.db.QueryRowContext(ctx, query, scopeKey, nowUTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", scopeKey, err)
	}
	return n, nil
}

// =============================================================================
// TRANSACTIONS (ward.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. fn returning
// an error rolls back every write made through its store view.
func (s *Store) WithTx(ctx context.Context, fn func(ward.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the transactional view handed to WithTx callbacks. It calls
// the unexported helpers directly so nothing re-locks the store mutex.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBed(ctx context.Context, id string) (*ward.Bed, error) {
	return getBed(ctx, ts.tx, id)
}

func (ts *txStore) ListBeds(ctx context.Context) ([]ward.Bed, error) {
	return listBeds(ctx, ts.tx)
}

func (ts *txStore) OccupyBed(ctx context.Context, bedID, admissionID string, meta ward.WorkflowMeta) (bool, error) {
	return occupyBed(ctx, ts.tx, bedID, admissionID, meta)
}

func (ts *txStore) ReleaseBed(ctx context.Context, bedID string, meta ward.WorkflowMeta) (bool, error) {
	return releaseBed(ctx, ts.tx, bedID, meta)
}

func (ts *txStore) InsertAdmission(ctx context.Context, adm ward.Admission) error {
	return insertAdmission(ctx, ts.tx, adm)
}

func (ts *txStore) GetAdmission(ctx context.Context, id string) (*ward.Admission, error) {
	return getAdmission(ctx, ts.tx, id)
}

func (ts *txStore) MarkDischarged(ctx context.Context, admissionID string, at time.Time) error {
	return markDischarged(ctx, ts.tx, admissionID, at)
}

func (ts *txStore) InsertDeposit(ctx context.Context, entry ledger.DepositEntry) error {
	return insertDeposit(ctx, ts.tx, entry)
}

func (ts *txStore) InsertPatient(ctx context.Context, p ward.Patient) error {
	return insertPatient(ctx, ts.tx, p)
}

func (ts *txStore) GetPatient(ctx context.Context, id string) (*ward.Patient, error) {
	return getPatient(ctx, ts.tx, id)
}

func (ts *txStore) HasPatient(ctx context.Context, id string) (bool, error) {
	return hasPatient(ctx, ts.tx, id)
}

// =============================================================================
// PATIENTS
// =============================================================================

func (s *Store) InsertPatient(ctx context.Context, p ward.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPatient(ctx, s.db, p)
}

func (s *Store) GetPatient(ctx context.Context, id string) (*ward.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPatient(ctx, s.db, id)
}

func (s *Store) HasPatient(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasPatient(ctx, s.db, id)
}

func insertPatient(ctx context.Context, db dbtx, p ward.Patient) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO patients (id, patient_code, uhid, first_name, last_name, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PatientCode, p.UHID, p.FirstName, p.LastName, p.Phone,
		p.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func getPatient(ctx context.Context, db dbtx, id string) (*ward.Patient, error) {
	var p ward.Patient
	var lastName, phone sql.NullString
	var createdAt string

	err := db.QueryRowContext(ctx,
		"SELECT id, patient_code, uhid, first_name, last_name, phone, created_at FROM patients WHERE id = ?",
		id,
	).Scan(&p.ID, &p.PatientCode, &p.UHID, &p.FirstName, &lastName, &phone, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.LastName = lastName.String
	p.Phone = phone.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

func hasPatient(ctx context.Context, db dbtx, id string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM patients WHERE id = ?", id).Scan(&count)
	return count > 0, err
}

// =============================================================================
// BEDS (ward.Store interface)
// =============================================================================

// SaveBed upserts a bed definition. Occupancy flips go through
// OccupyBed/ReleaseBed only; this is for seeding and maintenance edits.
func (s *Store) SaveBed(ctx context.Context, b ward.Bed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO beds
		(id, number, room_category, status, admission_id, daily_rate,
		 tat_status, tat_remaining_seconds, consent_form_submitted,
		 clinical_record_submitted, progress_sheet_submitted, nurses_orders_submitted,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			room_category = excluded.room_category,
			-- an occupied bed's status never changes through an upsert
			status = CASE WHEN beds.status = 'occupied' THEN beds.status ELSE excluded.status END,
			daily_rate = excluded.daily_rate,
			updated_at = excluded.updated_at
	`

	now := nowUTC()
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Number, string(b.RoomCategory), string(b.Status), nullString(b.AdmissionID),
		b.DailyRate.String(),
		b.Workflow.TATStatus, b.Workflow.TATRemainingSeconds,
		b.Workflow.ConsentFormSubmitted, b.Workflow.ClinicalRecordSubmitted,
		b.Workflow.ProgressSheetSubmitted, b.Workflow.NursesOrdersSubmitted,
		now, now,
	)
	return err
}

func (s *Store) GetBed(ctx context.Context, id string) (*ward.Bed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBed(ctx, s.db, id)
}

func (s *Store) ListBeds(ctx context.Context) ([]ward.Bed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBeds(ctx, s.db)
}

func (s *Store) OccupyBed(ctx context.Context, bedID, admissionID string, meta ward.WorkflowMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return occupyBed(ctx, s.db, bedID, admissionID, meta)
}

func (s *Store) ReleaseBed(ctx context.Context, bedID string, meta ward.WorkflowMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return releaseBed(ctx, s.db, bedID, meta)
}

const bedColumns = `id, number, room_category, status, admission_id, daily_rate,
	tat_status, tat_remaining_seconds, consent_form_submitted,
	clinical_record_submitted, progress_sheet_submitted, nurses_orders_submitted,
	created_at, updated_at`

func getBed(ctx context.Context, db dbtx, id string) (*ward.Bed, error) {
	row := db.QueryRowContext(ctx, "SELECT "+bedColumns+" FROM beds WHERE id = ?", id)
	bed, err := scanBed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bed, nil
}

func listBeds(ctx context.Context, db dbtx) ([]ward.Bed, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+bedColumns+" FROM beds ORDER BY number")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beds []ward.Bed
	for rows.Next() {
		bed, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		beds = append(beds, *bed)
	}
	return beds, rows.Err()
}

// occupyBed flips the bed to occupied, but only from available. The
// status guard in the WHERE clause is what makes racing admits yield a
// single winner.
func occupyBed(ctx context.Context, db dbtx, bedID, admissionID string, meta ward.WorkflowMeta) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE beds SET
			status = 'occupied',
			admission_id = ?,
			tat_status = ?,
			tat_remaining_seconds = ?,
			consent_form_submitted = ?,
			clinical_record_submitted = ?,
			progress_sheet_submitted = ?,
			nurses_orders_submitted = ?,
			updated_at = ?
		WHERE id = ? AND status = 'available'`,
		admissionID,
		meta.TATStatus, meta.TATRemainingSeconds,
		meta.ConsentFormSubmitted, meta.ClinicalRecordSubmitted,
		meta.ProgressSheetSubmitted, meta.NursesOrdersSubmitted,
		nowUTC(), bedID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func releaseBed(ctx context.Context, db dbtx, bedID string, meta ward.WorkflowMeta) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE beds SET
			status = 'available',
			admission_id = NULL,
			tat_status = ?,
			tat_remaining_seconds = ?,
			consent_form_submitted = ?,
			clinical_record_submitted = ?,
			progress_sheet_submitted = ?,
			nurses_orders_submitted = ?,
			updated_at = ?
		WHERE id = ? AND status = 'occupied'`,
		meta.TATStatus, meta.TATRemainingSeconds,
		meta.ConsentFormSubmitted, meta.ClinicalRecordSubmitted,
		meta.ProgressSheetSubmitted, meta.NursesOrdersSubmitted,
		nowUTC(), bedID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanBed(row interface{ Scan(...any) error }) (*ward.Bed, error) {
	var (
		b           ward.Bed
		category    string
		status      string
		admissionID sql.NullString
		dailyRate   string
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&b.ID, &b.Number, &category, &status, &admissionID, &dailyRate,
		&b.Workflow.TATStatus, &b.Workflow.TATRemainingSeconds,
		&b.Workflow.ConsentFormSubmitted, &b.Workflow.ClinicalRecordSubmitted,
		&b.Workflow.ProgressSheetSubmitted, &b.Workflow.NursesOrdersSubmitted,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.RoomCategory = billing.RoomCategory(category)
	b.Status = ward.BedStatus(status)
	b.AdmissionID = admissionID.String
	b.DailyRate = parseDecimal(dailyRate)
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// =============================================================================
// ADMISSIONS
// =============================================================================

func (s *Store) InsertAdmission(ctx context.Context, adm ward.Admission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAdmission(ctx, s.db, adm)
}

func (s *Store) GetAdmission(ctx context.Context, id string) (*ward.Admission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAdmission(ctx, s.db, id)
}

func (s *Store) MarkDischarged(ctx context.Context, admissionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markDischarged(ctx, s.db, admissionID, at)
}

// HasAdmission satisfies both ledger.Store and billing.BillStore.
func (s *Store) HasAdmission(ctx context.Context, admissionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM admissions WHERE id = ?", admissionID).Scan(&count)
	return count > 0, err
}

func insertAdmission(ctx context.Context, db dbtx, adm ward.Admission) error {
	detailsJSON, err := json.Marshal(adm.Details)
	if err != nil {
		return fmt.Errorf("failed to serialize admission details: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO admissions
		(id, patient_id, bed_id, ipd_number, status, details_json, admitted_at, discharged_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		adm.ID, adm.PatientID, adm.BedID, adm.IPDNumber, string(adm.Status),
		string(detailsJSON),
		adm.AdmittedAt.Format(time.RFC3339),
		nullTime(adm.DischargedAt),
		adm.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func getAdmission(ctx context.Context, db dbtx, id string) (*ward.Admission, error) {
	var (
		adm          ward.Admission
		status       string
		detailsJSON  string
		admittedAt   string
		dischargedAt sql.NullString
		createdAt    string
	)

	err := db.QueryRowContext(ctx, `
		SELECT id, patient_id, bed_id, ipd_number, status, details_json, admitted_at, discharged_at, created_at
		FROM admissions WHERE id = ?`, id,
	).Scan(&adm.ID, &adm.PatientID, &adm.BedID, &adm.IPDNumber, &status,
		&detailsJSON, &admittedAt, &dischargedAt, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	adm.Status = ward.AdmissionStatus(status)
	if err := json.Unmarshal([]byte(detailsJSON), &adm.Details); err != nil {
		return nil, fmt.Errorf("failed to deserialize admission details: %w", err)
	}
	adm.AdmittedAt, _ = time.Parse(time.RFC3339, admittedAt)
	adm.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if dischargedAt.Valid {
		t, _ := time.Parse(time.RFC3339, dischargedAt.String)
		adm.DischargedAt = &t
	}
	return &adm, nil
}

func markDischarged(ctx context.Context, db dbtx, admissionID string, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE admissions SET status = 'discharged', discharged_at = ?
		WHERE id = ? AND status = 'active'`,
		at.Format(time.RFC3339), admissionID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("admission %s is not active", admissionID)
	}
	return nil
}

// =============================================================================
// DEPOSITS (ledger.Store interface)
// =============================================================================

func (s *Store) InsertDeposit(ctx context.Context, entry ledger.DepositEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDeposit(ctx, s.db, entry)
}

// UpdateDeposit mutates the existing row by id. It never inserts.
func (s *Store) UpdateDeposit(ctx context.Context, entry ledger.DepositEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE deposits SET
			amount = ?,
			payment_mode = ?,
			reference = ?,
			recorded_at = ?,
			updated_at = ?
		WHERE id = ?`,
		entry.Amount.String(), string(entry.Mode), nullString(entry.Reference),
		entry.RecordedAt.Format(time.RFC3339),
		entry.UpdatedAt.Format(time.RFC3339),
		entry.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrDepositNotFound
	}
	return nil
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*ledger.DepositEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE id = ?", id)
	entry, err := scanDeposit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListDeposits(ctx context.Context, admissionID string) ([]ledger.DepositEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+depositColumns+" FROM deposits WHERE admission_id = ? ORDER BY recorded_at ASC, created_at ASC",
		admissionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.DepositEntry
	for rows.Next() {
		entry, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

const depositColumns = `id, admission_id, amount, payment_mode, receipt_number,
	reference, recorded_at, created_at, updated_at`

func insertDeposit(ctx context.Context, db dbtx, entry ledger.DepositEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO deposits
		(id, admission_id, amount, payment_mode, receipt_number, reference, recorded_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AdmissionID, entry.Amount.String(), string(entry.Mode),
		entry.ReceiptNumber, nullString(entry.Reference),
		entry.RecordedAt.Format(time.RFC3339),
		entry.CreatedAt.Format(time.RFC3339),
		entry.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

func scanDeposit(row interface{ Scan(...any) error }) (*ledger.DepositEntry, error) {
	var (
		entry      ledger.DepositEntry
		amount     string
		mode       string
		reference  sql.NullString
		recordedAt string
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(&entry.ID, &entry.AdmissionID, &amount, &mode, &entry.ReceiptNumber,
		&reference, &recordedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entry.Amount = parseDecimal(amount)
	entry.Mode = ledger.PaymentMode(mode)
	entry.Reference = reference.String
	entry.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &entry, nil
}

// =============================================================================
// BILLS (billing.BillStore interface)
// =============================================================================

func (s *Store) InsertBill(ctx context.Context, b billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draftJSON, breakdownJSON, err := serializeBill(b)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bills
		(id, bill_number, admission_id, patient_id, bill_date, draft_json, breakdown_json,
		 gross_total, net_payable, total_deposits, balance_due, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.BillNumber, b.AdmissionID, nullString(b.PatientID), b.BillDate,
		draftJSON, breakdownJSON,
		b.Breakdown.GrossTotal.String(), b.Breakdown.NetPayable.String(),
		b.Breakdown.TotalDeposits.String(), b.Breakdown.BalanceDue.String(),
		string(b.Status), b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateBill(ctx context.Context, b billing.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	draftJSON, breakdownJSON, err := serializeBill(b)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE bills SET
			patient_id = ?,
			bill_date = ?,
			draft_json = ?,
			breakdown_json = ?,
			gross_total = ?,
			net_payable = ?,
			total_deposits = ?,
			balance_due = ?,
			status = ?,
			updated_at = ?
		WHERE id = ?`,
		nullString(b.PatientID), b.BillDate, draftJSON, breakdownJSON,
		b.Breakdown.GrossTotal.String(), b.Breakdown.NetPayable.String(),
		b.Breakdown.TotalDeposits.String(), b.Breakdown.BalanceDue.String(),
		string(b.Status), b.UpdatedAt, b.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrBillNotFound
	}
	return nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBill(ctx, "SELECT "+billColumns+" FROM bills WHERE id = ?", id)
}

func (s *Store) GetBillByAdmission(ctx context.Context, admissionID string) (*billing.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBill(ctx, "SELECT "+billColumns+" FROM bills WHERE admission_id = ?", admissionID)
}

// DeleteBill is a hard delete. No undo.
func (s *Store) DeleteBill(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM bills WHERE id = ?", id)
	return err
}

const billColumns = `id, bill_number, admission_id, patient_id, bill_date,
	draft_json, breakdown_json, status, created_at, updated_at`

func (s *Store) queryBill(ctx context.Context, query string, args ...any) (*billing.Bill, error) {
	var (
		b             billing.Bill
		patientID     sql.NullString
		draftJSON     string
		breakdownJSON string
		status        string
	)

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&b.ID, &b.BillNumber, &b.AdmissionID, &patientID, &b.BillDate,
		&draftJSON, &breakdownJSON, &status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	b.PatientID = patientID.String
	b.Status = billing.BillStatus(status)
	if err := json.Unmarshal([]byte(draftJSON), &b.Draft); err != nil {
		return nil, fmt.Errorf("failed to deserialize bill draft: %w", err)
	}
	if err := json.Unmarshal([]byte(breakdownJSON), &b.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to deserialize bill breakdown: %w", err)
	}
	return &b, nil
}

func serializeBill(b billing.Bill) (string, string, error) {
	draftJSON, err := json.Marshal(b.Draft)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize bill draft: %w", err)
	}
	breakdownJSON, err := json.Marshal(b.Breakdown)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize bill breakdown: %w", err)
	}
	return string(draftJSON), string(breakdownJSON), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	f := t.Format(time.RFC3339)
	return &f
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
