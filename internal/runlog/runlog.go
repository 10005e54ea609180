// Package runlog is an optional Postgres-backed history of a trainer run's
// epoch metrics, grounded on muchq-MoonBase's r3dr/short_db.go: plain
// database/sql against the lib/pq driver, $n placeholders, no ORM.
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// execer is the sliver of *sql.DB this package needs, so Store can be
// exercised against a fake in tests without a live Postgres connection.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store records training runs and their per-epoch metrics. It is an
// optional collaborator: a nil *Store never errors, it just does nothing,
// matching SPEC_FULL's "runlog and serve are optional collaborators the
// trainer can be constructed without" wiring.
type Store struct {
	db execer
}

// Open connects to a Postgres instance via the lib/pq driver.
func Open(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool, if the Store owns one.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if closer, ok := s.db.(*sql.DB); ok {
		return closer.Close()
	}
	return nil
}

// EnsureSchema creates the runs and epoch_metrics tables if they don't
// already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			reason     TEXT
		)`); err != nil {
		return fmt.Errorf("runlog: create runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS epoch_metrics (
			run_id   TEXT NOT NULL REFERENCES runs(id),
			epoch    INTEGER NOT NULL,
			cost     REAL NOT NULL,
			accuracy REAL NOT NULL,
			PRIMARY KEY (run_id, epoch)
		)`); err != nil {
		return fmt.Errorf("runlog: create epoch_metrics table: %w", err)
	}
	return nil
}

// StartRun inserts a new run row. runID is typically a uuid.NewString()
// value; it is independent of the UUID the serialize package stamps into
// the metadata sidecar of the model this run produces.
func (s *Store) StartRun(ctx context.Context, runID string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id) VALUES ($1)`, runID)
	if err != nil {
		return fmt.Errorf("runlog: start run %s: %w", runID, err)
	}
	return nil
}

// RecordEpoch appends one epoch's metrics to runID's history.
func (s *Store) RecordEpoch(ctx context.Context, runID string, epoch int, cost, accuracy float32) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO epoch_metrics (run_id, epoch, cost, accuracy) VALUES ($1, $2, $3, $4)`,
		runID, epoch, cost, accuracy)
	if err != nil {
		return fmt.Errorf("runlog: record epoch %d for run %s: %w", epoch, runID, err)
	}
	return nil
}

// FinishRun records the trainer's termination reason against runID.
func (s *Store) FinishRun(ctx context.Context, runID, reason string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET reason = $1 WHERE id = $2`, reason, runID)
	if err != nil {
		return fmt.Errorf("runlog: finish run %s: %w", runID, err)
	}
	return nil
}

// Recorder adapts a Store and a fixed run ID into the OnEpoch callback
// shape internal/trainer.Config expects. Failures are logged, not
// propagated: a history write must never abort a training run.
type Recorder struct {
	store *Store
	runID string
	ctx   context.Context
}

func NewRecorder(ctx context.Context, store *Store, runID string) *Recorder {
	return &Recorder{store: store, runID: runID, ctx: ctx}
}

// OnEpoch matches trainer.Config.OnEpoch's signature.
func (r *Recorder) OnEpoch(epoch int, cost, accuracy float32) {
	if err := r.store.RecordEpoch(r.ctx, r.runID, epoch, cost, accuracy); err != nil {
		log.Printf("runlog: %v", err)
	}
}
