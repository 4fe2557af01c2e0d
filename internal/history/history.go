// Package history keeps a local SQLite ledger of operation and release runs.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slipway/slipway/pkg/types"
)

// Record is one ledger row describing a finished (or failed) run.
type Record struct {
	ID         int64
	RunID      string
	Operation  types.Operation
	Status     types.RunStatus
	Stage      types.Stage
	Version    string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Error      string
	Artifacts  []types.Artifact
}

// Ledger provides append and query operations over the run history.
type Ledger struct {
	db *sql.DB
}

// Open ensures the state directory exists, opens the ledger database under
// it, and applies the schema.
func Open(projectRoot string) (*Ledger, error) {
	dbPath := filepath.Join(projectRoot, ".slipway", "history.db")
	return OpenAt(dbPath)
}

// OpenAt opens the ledger database at an explicit path.
func OpenAt(dbPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := ApplyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append inserts a run record with its artifacts and returns the row ID.
func (l *Ledger) Append(rec Record) (int64, error) {
	trx, err := l.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = trx.Rollback() }()

	res, err := trx.Exec(`INSERT INTO runs (run_id, operation, status, stage, version, started_at, finished_at, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		string(rec.Operation),
		string(rec.Status),
		string(rec.Stage),
		rec.Version,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		formatFinish(rec.FinishedAt),
		rec.Duration.Milliseconds(),
		rec.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, artifact := range rec.Artifacts {
		if _, err := trx.Exec("INSERT INTO run_artifacts (run_rowid, name, path, size, sha256) VALUES (?, ?, ?, ?, ?)",
			id, artifact.Name, artifact.Path, artifact.Size, artifact.SHA256); err != nil {
			return 0, fmt.Errorf("insert artifact: %w", err)
		}
	}

	if err := trx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// List returns the most recent runs, newest first.
func (l *Ledger) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.Query(`SELECT id, run_id, operation, status, stage, version, started_at, finished_at, duration_ms, error
			FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return l.scanRecords(rows)
}

// ListByOperation returns the most recent runs of one operation, newest first.
func (l *Ledger) ListByOperation(operation types.Operation, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.Query(`SELECT id, run_id, operation, status, stage, version, started_at, finished_at, duration_ms, error
			FROM runs WHERE operation = ? ORDER BY id DESC LIMIT ?`, string(operation), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return l.scanRecords(rows)
}

// Get retrieves one run by its run ID, with artifacts attached.
// Returns nil when no such run exists.
func (l *Ledger) Get(runID string) (*Record, error) {
	row := l.db.QueryRow(`SELECT id, run_id, operation, status, stage, version, started_at, finished_at, duration_ms, error
			FROM runs WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := l.attachArtifacts(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// LastRun returns the newest run of an operation, or nil when none exists.
func (l *Ledger) LastRun(operation types.Operation) (*Record, error) {
	row := l.db.QueryRow(`SELECT id, run_id, operation, status, stage, version, started_at, finished_at, duration_ms, error
			FROM runs WHERE operation = ? ORDER BY id DESC LIMIT 1`, string(operation))

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if err := l.attachArtifacts(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Prune deletes all but the newest keep rows and returns how many were removed.
func (l *Ledger) Prune(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	res, err := l.db.Exec(`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func (l *Ledger) attachArtifacts(rec *Record) error {
	rows, err := l.db.Query("SELECT name, path, size, sha256 FROM run_artifacts WHERE run_rowid = ? ORDER BY id ASC", rec.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var artifact types.Artifact
		if err := rows.Scan(&artifact.Name, &artifact.Path, &artifact.Size, &artifact.SHA256); err != nil {
			return err
		}
		rec.Artifacts = append(rec.Artifacts, artifact)
	}
	return rows.Err()
}

func (l *Ledger) scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var operation, status, startedAt string
	var stage, version, finishedAt, errText sql.NullString
	var durationMS int64

	if err := row.Scan(&rec.ID, &rec.RunID, &operation, &status, &stage, &version, &startedAt, &finishedAt, &durationMS, &errText); err != nil {
		return nil, err
	}

	rec.Operation = types.Operation(operation)
	rec.Status = types.RunStatus(status)
	rec.Stage = types.Stage(stage.String)
	rec.Version = version.String
	rec.Error = errText.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond

	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		rec.StartedAt = t
	}
	if finishedAt.Valid && finishedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}

	return &rec, nil
}

func formatFinish(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
