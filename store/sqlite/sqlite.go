/*
Package sqlite provides the relational backend.

PURPOSE:
  The per-row variant of persistence: one row per store guarded by a
  record_version counter, plus a single-row meta table carrying the
  document-level version. The same schema and patterns apply to PostgreSQL;
  only minor dialect differences.

INTERFACES IMPLEMENTED:
  registry.DocumentStore: whole-document load / conditional put / reset
  registry.RowStore:      per-row conditional update and delete
  registry.HistoryStore:  append-only events, capped

VERSIONING:
  Document-level writes commit only when the meta version is unchanged
  (UPDATE ... WHERE version = ?); a full-document replace bumps the
  record_version of every row whose content actually changed. Row-level
  writes condition on id AND record_version — zero affected rows means
  another writer got there first, reported with the current row snapshot.
  Row-level writes also bump the meta version in the same transaction, so
  document-level writers holding a stale base conflict instead of silently
  clobbering a row edit.

WAL MODE:
  SQLite is opened with WAL for better concurrency; a sync.RWMutex guards
  multi-statement sequences within the process.

SEE ALSO:
  - registry/store.go: interface contracts
  - store/blob: the document-blob implementation
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

	"github.com/saldo/store-balance-engine/registry"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		balance TEXT,
		daily_budget TEXT NOT NULL DEFAULT '0.00',
		last_run_date TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		record_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Upsert-by-name matches case-insensitively
	CREATE INDEX IF NOT EXISTS idx_stores_name ON stores(name COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_stores_active ON stores(active);

	-- Single-row document metadata (version + last sweep instant)
	CREATE TABLE IF NOT EXISTS document_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL DEFAULT 0,
		last_global_run_at TEXT
	);
	INSERT OR IGNORE INTO document_meta (id, version) VALUES (1, 0);

	-- Audit events (append-only, trimmed to the newest MaxHistoryEvents)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		actor TEXT,
		ts TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DOCUMENT STORE
// =============================================================================

func (s *Store) Load(ctx context.Context) (registry.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := registry.DefaultDocument()

	var lastRun sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT version, last_global_run_at FROM document_meta WHERE id = 1`,
	).Scan(&doc.Meta.Version, &lastRun)
	if err != nil {
		return registry.Document{}, fmt.Errorf("%w: read meta: %v", registry.ErrBackendUnavailable, err)
	}
	if lastRun.Valid {
		if t, perr := time.Parse(time.RFC3339, lastRun.String); perr == nil {
			doc.Meta.LastGlobalRunAt = &t
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, balance, daily_budget, last_run_date, active, record_version
		 FROM stores ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return registry.Document{}, fmt.Errorf("%w: read stores: %v", registry.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return registry.Document{}, err
		}
		doc.Stores = append(doc.Stores, st)
	}
	return doc, rows.Err()
}

func (s *Store) ConditionalPut(ctx context.Context, doc registry.Document, expectVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", registry.ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE document_meta SET version = ?, last_global_run_at = ? WHERE id = 1 AND version = ?`,
		doc.Meta.Version, nullTime(doc.Meta.LastGlobalRunAt), expectVersion)
	if err != nil {
		return fmt.Errorf("%w: update meta: %v", registry.ErrBackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current int64
		if err := tx.QueryRowContext(ctx, `SELECT version FROM document_meta WHERE id = 1`).Scan(&current); err != nil {
			return fmt.Errorf("%w: read meta: %v", registry.ErrBackendUnavailable, err)
		}
		return &registry.ConflictError{ServerVersion: current}
	}

	existing, err := loadRowsTx(ctx, tx)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stores`); err != nil {
		return fmt.Errorf("%w: clear stores: %v", registry.ErrBackendUnavailable, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, st := range doc.Stores {
		rv := int64(0)
		if old, ok := existing[st.ID]; ok {
			rv = old.RecordVersion
			if !sameRowContent(old, st) {
				rv++
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stores (id, name, balance, daily_budget, last_run_date, active, record_version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.ID, st.Name, nullMoney(st.Balance), st.DailyBudget.StringFixed(2),
			string(st.LastRunDate), boolInt(st.Active), rv, now, now)
		if err != nil {
			return fmt.Errorf("%w: insert store %s: %v", registry.ErrBackendUnavailable, st.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", registry.ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stores`); err != nil {
		return fmt.Errorf("%w: clear stores: %v", registry.ErrBackendUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE document_meta SET version = 0, last_global_run_at = NULL WHERE id = 1`); err != nil {
		return fmt.Errorf("%w: reset meta: %v", registry.ErrBackendUnavailable, err)
	}
	return tx.Commit()
}

// =============================================================================
// ROW STORE
// =============================================================================

func (s *Store) GetRow(ctx context.Context, id registry.StoreID) (registry.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getRow(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getRow(ctx context.Context, q querier, id registry.StoreID) (registry.Store, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, name, balance, daily_budget, last_run_date, active, record_version
		 FROM stores WHERE id = ?`, id)
	st, err := scanStore(row)
	if err == sql.ErrNoRows {
		return registry.Store{}, registry.ErrStoreNotFound
	}
	if err != nil {
		return registry.Store{}, fmt.Errorf("%w: read store: %v", registry.ErrBackendUnavailable, err)
	}
	return st, nil
}

// UpdateRow performs the conditional per-row write. The filter on both id
// and record_version is the concurrency guard: zero matched rows means the
// row moved underneath the caller.
func (s *Store) UpdateRow(ctx context.Context, row registry.Store, expectRecordVersion int64) (registry.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return registry.Store{}, fmt.Errorf("%w: begin: %v", registry.ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE stores
		 SET name = ?, balance = ?, daily_budget = ?, last_run_date = ?, active = ?,
		     record_version = record_version + 1, updated_at = ?
		 WHERE id = ? AND record_version = ?`,
		row.Name, nullMoney(row.Balance), row.DailyBudget.StringFixed(2),
		string(row.LastRunDate), boolInt(row.Active),
		time.Now().UTC().Format(time.RFC3339),
		row.ID, expectRecordVersion)
	if err != nil {
		return registry.Store{}, fmt.Errorf("%w: update store: %v", registry.ErrBackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, gerr := s.getRow(ctx, tx, row.ID)
		if gerr != nil {
			return registry.Store{}, gerr
		}
		return registry.Store{}, &registry.RowConflictError{Current: current}
	}

	if err := bumpMetaTx(ctx, tx); err != nil {
		return registry.Store{}, err
	}

	updated, err := s.getRow(ctx, tx, row.ID)
	if err != nil {
		return registry.Store{}, err
	}
	return updated, tx.Commit()
}

func (s *Store) DeleteRow(ctx context.Context, id registry.StoreID, expectRecordVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", registry.ErrBackendUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM stores WHERE id = ? AND record_version = ?`, id, expectRecordVersion)
	if err != nil {
		return fmt.Errorf("%w: delete store: %v", registry.ErrBackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, gerr := s.getRow(ctx, tx, id)
		if gerr != nil {
			return gerr // includes not-found, distinct from conflict
		}
		return &registry.RowConflictError{Current: current}
	}

	if err := bumpMetaTx(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

// bumpMetaTx advances the document version so document-level writers
// holding a stale base conflict with this row write.
func bumpMetaTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE document_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("%w: bump meta: %v", registry.ErrBackendUnavailable, err)
	}
	return nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

func (s *Store) Append(ctx context.Context, ev registry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, event_type, actor, ts, payload_json) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.Actor, ev.At.UTC().Format(time.RFC3339Nano), string(payloadJSON))
	if err != nil {
		return fmt.Errorf("%w: insert event: %v", registry.ErrBackendUnavailable, err)
	}

	// Keep only the newest MaxHistoryEvents
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM events WHERE rowid NOT IN
		   (SELECT rowid FROM events ORDER BY rowid DESC LIMIT ?)`,
		registry.MaxHistoryEvents)
	return err
}

func (s *Store) List(ctx context.Context) ([]registry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, actor, ts, payload_json FROM events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("%w: read events: %v", registry.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []registry.Event
	for rows.Next() {
		var ev registry.Event
		var actor sql.NullString
		var ts, payloadJSON string
		if err := rows.Scan(&ev.ID, &ev.Type, &actor, &ts, &payloadJSON); err != nil {
			return nil, err
		}
		ev.Actor = actor.String
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			ev.At = t
		}
		if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
			ev.Payload = map[string]any{}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	return err
}

// =============================================================================
// SCAN / CONVERT HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStore(r rowScanner) (registry.Store, error) {
	var st registry.Store
	var balance sql.NullString
	var budget, lastRun string
	var active int

	if err := r.Scan(&st.ID, &st.Name, &balance, &budget, &lastRun, &active, &st.RecordVersion); err != nil {
		return registry.Store{}, err
	}

	if balance.Valid {
		if d, err := decimal.NewFromString(balance.String); err == nil && !d.IsNegative() {
			st.Balance = registry.NewMoney(d)
		}
	}
	if d, err := decimal.NewFromString(budget); err == nil && !d.IsNegative() {
		st.DailyBudget = d
	} else {
		st.DailyBudget = decimal.Zero
	}
	if registry.DateKey(lastRun).IsValid() {
		st.LastRunDate = registry.DateKey(lastRun)
	}
	st.Active = active != 0
	return st, nil
}

func loadRowsTx(ctx context.Context, tx *sql.Tx) (map[registry.StoreID]registry.Store, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, name, balance, daily_budget, last_run_date, active, record_version FROM stores`)
	if err != nil {
		return nil, fmt.Errorf("%w: read stores: %v", registry.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	out := make(map[registry.StoreID]registry.Store)
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

func sameRowContent(a, b registry.Store) bool {
	return a.Name == b.Name &&
		a.Balance.Equal(b.Balance) &&
		a.DailyBudget.Equal(b.DailyBudget) &&
		a.LastRunDate == b.LastRunDate &&
		a.Active == b.Active
}

func nullMoney(m registry.Money) any {
	if !m.Valid {
		return nil
	}
	return m.Amount.StringFixed(2)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
