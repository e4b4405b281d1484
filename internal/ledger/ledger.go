// Package ledger keeps the history of reconciliation runs in SQLite: one row
// per run and one per fetch attempt. The JSON store stays the source of
// truth for measurements; the ledger answers "what happened and when" and
// which slots keep failing.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/layoutstats/internal/reconcile"
)

// Run statuses stored in runs.status.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusCanceled = "canceled"
	StatusOrphans  = "orphans"
	StatusFailed   = "failed"
)

const (
	sqlUpsertRun = `INSERT INTO runs (id, started_at, scope, load_state, planned, status)
		VALUES (?, ?, ?, ?, ?, '` + StatusRunning + `')
		ON CONFLICT(id) DO NOTHING`

	sqlFinishRun = `UPDATE runs SET
		finished_at = ?, planned = ?, executed = ?, succeeded = ?, failed = ?,
		invalid = ?, discarded = ?, status = ?, error = ?
		WHERE id = ?`

	sqlInsertAttempt = `INSERT INTO attempts
		(run_id, layout, mode, language, url, reason, ok, valid, discarded,
		 error, duration_ms, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRecentRuns = `SELECT id, started_at, finished_at, scope, load_state,
		planned, executed, succeeded, failed, invalid, discarded, status, error
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`

	sqlAttemptsBySlot = `SELECT layout, mode, language, valid, error, attempted_at
		FROM attempts
		WHERE discarded = 0
		ORDER BY layout, mode, language, attempted_at DESC, id DESC`
)

// DirPerms is used when creating the database's parent directory.
const DirPerms = 0o700

// Ledger records run history. It implements reconcile.Recorder.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ reconcile.Recorder = (*Ledger)(nil)

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirPerms); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", path, err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", path, err)
	}

	// Attempts arrive from the merge loop one at a time; a single
	// connection keeps writes serialized.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", path))

	return &Ledger{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing database: %w", err)
	}

	return nil
}

// BeginRun inserts the run row with status running.
func (l *Ledger) BeginRun(ctx context.Context, r *reconcile.Report) error {
	_, err := l.db.ExecContext(ctx, sqlUpsertRun,
		r.RunID, r.StartedAt.UnixNano(), r.Scope, r.LoadState.String(), r.Planned)
	if err != nil {
		return fmt.Errorf("ledger: recording start of run %s: %w", r.RunID, err)
	}

	return nil
}

// RecordAttempt inserts one attempt row.
func (l *Ledger) RecordAttempt(ctx context.Context, a *reconcile.Attempt) error {
	var errText sql.NullString
	if a.Err != "" {
		errText = sql.NullString{String: a.Err, Valid: true}
	}

	_, err := l.db.ExecContext(ctx, sqlInsertAttempt,
		a.RunID, a.Task.Layout, a.Task.Mode, a.Task.Language, a.Task.URL,
		a.Task.Reason.String(), boolInt(a.OK), boolInt(a.Valid), boolInt(a.Discarded), errText,
		a.Duration.Milliseconds(), a.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording attempt %s: %w", a.Task, err)
	}

	return nil
}

// FinishRun stores the run's final counters and status.
func (l *Ledger) FinishRun(ctx context.Context, r *reconcile.Report) error {
	var errText sql.NullString
	if r.Err != "" {
		errText = sql.NullString{String: r.Err, Valid: true}
	}

	res, err := l.db.ExecContext(ctx, sqlFinishRun,
		r.FinishedAt.UnixNano(), r.Planned, r.Executed, r.Succeeded, r.Failed,
		r.Invalid, r.Discarded, runStatus(r), errText, r.RunID,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording end of run %s: %w", r.RunID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("ledger: run %s was never started", r.RunID)
	}

	return nil
}

func runStatus(r *reconcile.Report) string {
	switch {
	case len(r.Orphans) > 0:
		return StatusOrphans
	case r.Err != "":
		return StatusFailed
	case r.Canceled:
		return StatusCanceled
	default:
		return StatusComplete
	}
}

// Run is one row of the runs table.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"` // zero while running or when the process died
	Scope      string    `json:"scope"`
	LoadState  string    `json:"load_state"`
	Planned    int       `json:"planned"`
	Executed   int       `json:"executed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Invalid    int       `json:"invalid"`
	Discarded  int       `json:"discarded"`
	Status     string    `json:"status"`
	Err        string    `json:"error,omitempty"`
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			errText  sql.NullString
		)

		if err := rows.Scan(&r.ID, &started, &finished, &r.Scope, &r.LoadState,
			&r.Planned, &r.Executed, &r.Succeeded, &r.Failed, &r.Invalid,
			&r.Discarded, &r.Status, &errText); err != nil {
			return nil, fmt.Errorf("ledger: scanning run row: %w", err)
		}

		r.StartedAt = time.Unix(0, started)
		if finished.Valid {
			r.FinishedAt = time.Unix(0, finished.Int64)
		}

		r.Err = errText.String
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating run rows: %w", err)
	}

	return runs, nil
}

// Streak is a slot whose most recent attempts all left it invalid.
type Streak struct {
	Layout      string    `json:"layout"`
	Mode        string    `json:"mode"`
	Language    string    `json:"language"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt"`
}

// FailureStreaks returns the slots whose latest min or more attempts were
// all invalid, in layout/mode/language order. Attempts discarded by a
// canceled run are not counted.
func (l *Ledger) FailureStreaks(ctx context.Context, minStreak int) ([]Streak, error) {
	rows, err := l.db.QueryContext(ctx, sqlAttemptsBySlot)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing attempts: %w", err)
	}
	defer rows.Close()

	var (
		out     []Streak
		cur     *Streak
		settled bool // the current slot's streak has hit a valid attempt
	)

	flush := func() {
		if cur != nil && cur.Failures >= minStreak && cur.Failures > 0 {
			out = append(out, *cur)
		}
	}

	for rows.Next() {
		var (
			layoutName, mode, lang string
			valid                  int
			errText                sql.NullString
			at                     int64
		)

		if err := rows.Scan(&layoutName, &mode, &lang, &valid, &errText, &at); err != nil {
			return nil, fmt.Errorf("ledger: scanning attempt row: %w", err)
		}

		if cur == nil || cur.Layout != layoutName || cur.Mode != mode || cur.Language != lang {
			flush()

			cur = &Streak{Layout: layoutName, Mode: mode, Language: lang, LastAttempt: time.Unix(0, at)}
			cur.LastError = errText.String
			settled = false
		}

		if settled {
			continue
		}

		if valid == 1 {
			settled = true
			continue
		}

		cur.Failures++
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating attempt rows: %w", err)
	}

	flush()

	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
