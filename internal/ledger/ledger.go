// Package ledger keeps the history of import runs and their committed
// batches in SQLite.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/systemshift/flightgraph/internal/graph"
)

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    state TEXT NOT NULL,
    error TEXT,
    nodes_created INTEGER NOT NULL DEFAULT 0,
    relationships_created INTEGER NOT NULL DEFAULT 0,
    properties_set INTEGER NOT NULL DEFAULT 0,
    upserted INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0
)`

const schemaBatches = `
CREATE TABLE IF NOT EXISTS batches (
    run_id TEXT NOT NULL REFERENCES runs(id),
    phase TEXT NOT NULL,
    source TEXT NOT NULL,
    batch_index INTEGER NOT NULL,
    nodes_created INTEGER NOT NULL,
    relationships_created INTEGER NOT NULL,
    properties_set INTEGER NOT NULL,
    upserted INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (run_id, phase, source, batch_index)
)`

const indexBatchesRun = `CREATE INDEX IF NOT EXISTS idx_batches_run ON batches(run_id)`

// StateRunning marks a run that has begun but not finished.
const StateRunning = "running"

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded import.
type Run struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	State      string         `json:"state"`
	Error      string         `json:"error,omitempty"`
	Totals     graph.Counters `json:"totals"`
}

// Batch is one committed batch of a run.
type Batch struct {
	RunID      string         `json:"run_id"`
	Phase      string         `json:"phase"`
	Source     string         `json:"source"`
	Index      int            `json:"index"`
	Counters   graph.Counters `json:"counters"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Ledger records runs and batches.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA busy_timeout=5000`,
		`PRAGMA foreign_keys=ON`,
		schemaRuns,
		schemaBatches,
		indexBatchesRun,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating ledger schema: %w", err)
		}
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Begin records the start of a run.
func (l *Ledger) Begin(ctx context.Context, runID string, startedAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, state) VALUES (?, ?, ?)`,
		runID, formatTime(startedAt), StateRunning,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// RecordBatch records a committed batch. Recording the same batch twice
// keeps the latest counters.
func (l *Ledger) RecordBatch(ctx context.Context, runID, phase, source string, index int, c graph.Counters) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO batches (run_id, phase, source, batch_index, nodes_created, relationships_created, properties_set, upserted, skipped, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, phase, source, batch_index) DO UPDATE SET
			nodes_created = excluded.nodes_created,
			relationships_created = excluded.relationships_created,
			properties_set = excluded.properties_set,
			upserted = excluded.upserted,
			skipped = excluded.skipped,
			recorded_at = excluded.recorded_at
	`, runID, phase, source, index,
		c.NodesCreated, c.RelationshipsCreated, c.PropertiesSet, c.Upserted, c.Skipped,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}

// Finish records the outcome of a run.
func (l *Ledger) Finish(ctx context.Context, runID, state string, totals graph.Counters, runErr error) error {
	var msg sql.NullString
	if runErr != nil {
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?, state = ?, error = ?,
			nodes_created = ?, relationships_created = ?, properties_set = ?, upserted = ?, skipped = ?
		WHERE id = ?
	`, formatTime(time.Now()), state, msg,
		totals.NodesCreated, totals.RelationshipsCreated, totals.PropertiesSet, totals.Upserted, totals.Skipped,
		runID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Runs returns up to limit runs, most recent first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, state, error,
		       nodes_created, relationships_created, properties_set, upserted, skipped
		FROM runs
		ORDER BY rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			started  string
			finished sql.NullString
			msg      sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &run.State, &msg,
			&run.Totals.NodesCreated, &run.Totals.RelationshipsCreated, &run.Totals.PropertiesSet,
			&run.Totals.Upserted, &run.Totals.Skipped,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, err
			}
			run.FinishedAt = &t
		}
		run.Error = msg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastBatch returns the most recently recorded batch of a run.
func (l *Ledger) LastBatch(ctx context.Context, runID string) (Batch, error) {
	var (
		b        Batch
		recorded string
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT run_id, phase, source, batch_index,
		       nodes_created, relationships_created, properties_set, upserted, skipped, recorded_at
		FROM batches
		WHERE run_id = ?
		ORDER BY rowid DESC
		LIMIT 1
	`, runID).Scan(&b.RunID, &b.Phase, &b.Source, &b.Index,
		&b.Counters.NodesCreated, &b.Counters.RelationshipsCreated, &b.Counters.PropertiesSet,
		&b.Counters.Upserted, &b.Counters.Skipped, &recorded,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, fmt.Errorf("%w: no batches for %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("querying batch: %w", err)
	}
	if b.RecordedAt, err = parseTime(recorded); err != nil {
		return Batch{}, err
	}
	return b, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}
