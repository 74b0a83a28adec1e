package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/encore/internal/app"
	"github.com/hylla/encore/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// Repository is the SQLite live-queue store, audit ledger, and apply-record log.
type Repository struct {
	db *sql.DB
}

var _ app.QueueStore = (*Repository)(nil)

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newRepository(db)
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	return newRepository(db)
}

func newRepository(db *sql.DB) (*Repository, error) {
	// One connection keeps PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			requestor TEXT NOT NULL,
			song_title TEXT NOT NULL DEFAULT '',
			is_mature INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			sung_at TEXT,
			FOREIGN KEY(event_id) REFERENCES events(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_event_status ON queue_entries(event_id, status, position);`,
		`CREATE TABLE IF NOT EXISTS reorder_audits (
			audit_id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			plan_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			user_name TEXT NOT NULL DEFAULT '',
			mature_policy TEXT NOT NULL DEFAULT '',
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			FOREIGN KEY(event_id) REFERENCES events(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reorder_audits_event_created ON reorder_audits(event_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS reorder_applies (
			event_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			applied_version TEXT NOT NULL,
			move_count INTEGER NOT NULL,
			moved_ids_json TEXT NOT NULL DEFAULT '[]',
			applied_at TEXT NOT NULL,
			PRIMARY KEY(event_id, plan_id, idempotency_key),
			FOREIGN KEY(event_id) REFERENCES events(id) ON DELETE CASCADE
		);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// CreateEvent creates event.
func (r *Repository) CreateEvent(ctx context.Context, e domain.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events(id, name, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.Name, e.Revision, ts(e.CreatedAt), ts(e.UpdatedAt))
	return err
}

// GetEvent returns event.
func (r *Repository) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	return getEvent(ctx, r.db, id)
}

// EnqueueEntry appends entry after the highest existing position of its event.
func (r *Repository) EnqueueEntry(ctx context.Context, entry domain.QueueEntry) (out domain.QueueEntry, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = bumpRevision(ctx, tx, entry.EventID, nil, entry.UpdatedAt); err != nil {
		return domain.QueueEntry{}, err
	}
	if err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), -1) + 1 FROM queue_entries WHERE event_id = ?
	`, entry.EventID).Scan(&entry.Position); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("next queue position: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_entries(id, event_id, requestor, song_title, is_mature, position, status, created_at, updated_at, sung_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.EventID, entry.Requestor, entry.SongTitle, boolInt(entry.IsMature), entry.Position, string(entry.Status),
		ts(entry.CreatedAt), ts(entry.UpdatedAt), nullableTS(entry.SungAt))
	if err != nil {
		return domain.QueueEntry{}, err
	}
	err = tx.Commit()
	return entry, err
}

// MarkEntrySung marks one pending entry sung.
func (r *Repository) MarkEntrySung(ctx context.Context, eventID, entryID string, at time.Time) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = ?, sung_at = ?, updated_at = ?
		WHERE id = ? AND event_id = ? AND status = ?
	`, string(domain.EntryStatusSung), ts(at), ts(at), entryID, eventID, string(domain.EntryStatusPending))
	if err != nil {
		return err
	}
	if err = translateNoRows(res); err != nil {
		return err
	}
	if err = bumpRevision(ctx, tx, eventID, nil, at); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// LoadQueue returns a consistent pending-queue snapshot.
func (r *Repository) LoadQueue(ctx context.Context, eventID string) (domain.QueueSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	defer func() { _ = tx.Rollback() }()
	return loadQueue(ctx, tx, eventID)
}

// ApplyReorder commits positions, the apply record, and the audit in one transaction guarded by the revision.
func (r *Repository) ApplyReorder(ctx context.Context, in app.ApplyReorderInput) (version string, err error) {
	if !in.Audit.Action.Valid() {
		return "", domain.ErrInvalidAuditAction
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	at := in.Record.AppliedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	expected := in.ExpectedRevision
	if err = bumpRevision(ctx, tx, in.EventID, &expected, at); err != nil {
		return "", err
	}
	for _, write := range in.Positions {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE queue_entries
			SET position = ?, updated_at = ?
			WHERE id = ? AND event_id = ? AND status = ?
		`, write.Position, ts(at), write.QueueID, in.EventID, string(domain.EntryStatusPending))
		if err != nil {
			return "", err
		}
		if err = translateNoRows(res); err != nil {
			return "", fmt.Errorf("pending entry %s: %w", write.QueueID, err)
		}
	}

	snap, err := loadQueue(ctx, tx, in.EventID)
	if err != nil {
		return "", err
	}
	if in.Record.IdempotencyKey != "" {
		record := in.Record
		record.AppliedVersion = snap.Version
		record.AppliedAt = at
		if err = insertApplyRecord(ctx, tx, record); err != nil {
			return "", err
		}
	}
	if err = insertAudit(ctx, tx, in.Audit); err != nil {
		return "", err
	}
	if err = tx.Commit(); err != nil {
		return "", err
	}
	return snap.Version, nil
}

// GetApplyRecord returns a stored apply record.
func (r *Repository) GetApplyRecord(ctx context.Context, eventID, planID, key string) (domain.ApplyRecord, error) {
	var (
		record     domain.ApplyRecord
		movedRaw   string
		appliedRaw string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, plan_id, idempotency_key, applied_version, move_count, moved_ids_json, applied_at
		FROM reorder_applies
		WHERE event_id = ? AND plan_id = ? AND idempotency_key = ?
	`, eventID, planID, key).Scan(&record.EventID, &record.PlanID, &record.IdempotencyKey, &record.AppliedVersion, &record.MoveCount, &movedRaw, &appliedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ApplyRecord{}, app.ErrNotFound
		}
		return domain.ApplyRecord{}, err
	}
	if err := json.Unmarshal([]byte(movedRaw), &record.MovedQueueIDs); err != nil {
		return domain.ApplyRecord{}, fmt.Errorf("decode moved_ids_json: %w", err)
	}
	record.AppliedAt = parseTS(appliedRaw)
	return record, nil
}

// AppendAudit appends one audit record.
func (r *Repository) AppendAudit(ctx context.Context, audit domain.ReorderAudit) error {
	if !audit.Action.Valid() {
		return domain.ErrInvalidAuditAction
	}
	return insertAudit(ctx, r.db, audit)
}

// ListAudits returns up to limit audits for an event, newest first.
func (r *Repository) ListAudits(ctx context.Context, eventID string, limit int) ([]domain.ReorderAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT audit_id, event_id, plan_id, action, user_name, mature_policy, payload_json, created_at
		FROM reorder_audits
		WHERE event_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, eventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ReorderAudit, 0)
	for rows.Next() {
		var (
			audit      domain.ReorderAudit
			actionRaw  string
			policyRaw  string
			createdRaw string
		)
		if err := rows.Scan(&audit.AuditID, &audit.EventID, &audit.PlanID, &actionRaw, &audit.UserName, &policyRaw, &audit.Payload, &createdRaw); err != nil {
			return nil, err
		}
		audit.Action = domain.AuditAction(actionRaw)
		audit.MaturePolicy = domain.MaturePolicy(policyRaw)
		audit.CreatedAt = parseTS(createdRaw)
		out = append(out, audit)
	}
	return out, rows.Err()
}

// queryRower represents a read contract used by DB and Tx implementations.
type queryRower interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// queryExecer reads and writes inside one transaction.
type queryExecer interface {
	queryRower
	execerContext
}

func getEvent(ctx context.Context, q queryRower, id string) (domain.Event, error) {
	var (
		e          domain.Event
		createdRaw string
		updatedRaw string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, revision, created_at, updated_at FROM events WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &e.Revision, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Event{}, app.ErrNotFound
		}
		return domain.Event{}, err
	}
	e.CreatedAt = parseTS(createdRaw)
	e.UpdatedAt = parseTS(updatedRaw)
	return e, nil
}

// bumpRevision advances an event revision. A non-nil expected turns it into a compare-and-swap.
func bumpRevision(ctx context.Context, q queryExecer, eventID string, expected *int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	query := `UPDATE events SET revision = revision + 1, updated_at = ? WHERE id = ?`
	args := []any{ts(at), eventID}
	if expected != nil {
		query += ` AND revision = ?`
		args = append(args, *expected)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("bump event revision: %w", err)
	}
	if err := translateNoRows(res); err == nil || expected == nil {
		return err
	}
	event, err := getEvent(ctx, q, eventID)
	if err != nil {
		return err
	}
	return fmt.Errorf("event %s at revision %d, expected %d: %w", eventID, event.Revision, *expected, app.ErrVersionConflict)
}

func loadQueue(ctx context.Context, q queryRower, eventID string) (domain.QueueSnapshot, error) {
	event, err := getEvent(ctx, q, eventID)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	snap := domain.QueueSnapshot{
		EventID:    eventID,
		Revision:   event.Revision,
		Entries:    []domain.QueueEntry{},
		TurnCounts: map[string]int{},
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, event_id, requestor, song_title, is_mature, position, status, created_at, updated_at, sung_at
		FROM queue_entries
		WHERE event_id = ? AND status IN (?, ?)
		ORDER BY position ASC, created_at ASC, id ASC
	`, eventID, string(domain.EntryStatusPending), string(domain.EntryStatusSung))
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return domain.QueueSnapshot{}, err
		}
		if entry.Status == domain.EntryStatusSung {
			snap.TurnCounts[entry.SingerKey()]++
			continue
		}
		snap.Entries = append(snap.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.QueueSnapshot{}, err
	}
	snap.Version = domain.QueueVersion(snap.Revision, snap.QueueIDs())
	return snap, nil
}

func insertApplyRecord(ctx context.Context, execer execerContext, record domain.ApplyRecord) error {
	moved := record.MovedQueueIDs
	if moved == nil {
		moved = []string{}
	}
	movedJSON, err := json.Marshal(moved)
	if err != nil {
		return fmt.Errorf("encode moved ids: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO reorder_applies(event_id, plan_id, idempotency_key, applied_version, move_count, moved_ids_json, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, record.EventID, record.PlanID, record.IdempotencyKey, record.AppliedVersion, record.MoveCount, string(movedJSON), ts(record.AppliedAt))
	if err != nil {
		return fmt.Errorf("insert apply record: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, execer execerContext, audit domain.ReorderAudit) error {
	payload := strings.TrimSpace(audit.Payload)
	if payload == "" {
		payload = "{}"
	}
	createdAt := audit.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := execer.ExecContext(ctx, `
		INSERT INTO reorder_audits(audit_id, event_id, plan_id, action, user_name, mature_policy, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, audit.AuditID, audit.EventID, audit.PlanID, string(audit.Action), audit.UserName, string(audit.MaturePolicy), payload, ts(createdAt))
	if err != nil {
		return fmt.Errorf("insert reorder audit: %w", err)
	}
	return nil
}

// scanner represents scanner data used by this package.
type scanner interface {
	Scan(dest ...any) error
}

func scanQueueEntry(s scanner) (domain.QueueEntry, error) {
	var (
		entry      domain.QueueEntry
		mature     int
		statusRaw  string
		createdRaw string
		updatedRaw string
		sung       sql.NullString
	)
	if err := s.Scan(&entry.ID, &entry.EventID, &entry.Requestor, &entry.SongTitle, &mature, &entry.Position, &statusRaw, &createdRaw, &updatedRaw, &sung); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QueueEntry{}, app.ErrNotFound
		}
		return domain.QueueEntry{}, err
	}
	entry.IsMature = mature != 0
	entry.Status = domain.EntryStatus(statusRaw)
	entry.CreatedAt = parseTS(createdRaw)
	entry.UpdatedAt = parseTS(updatedRaw)
	entry.SungAt = parseNullTS(sung)
	return entry, nil
}

// translateNoRows handles translate no rows.
func translateNoRows(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return app.ErrNotFound
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	return &ts
}
