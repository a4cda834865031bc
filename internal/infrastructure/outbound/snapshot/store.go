// Package snapshot persists per-step variable snapshots in SQLite.
package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

//go:embed schema.sql
var schemaSQL string

var _ ports.SnapshotStore = (*Store)(nil)

// Store keeps the variable state captured before every executed step so a
// later run can resume from any of them.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only lives as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save appends snap.
func (s *Store) Save(ctx context.Context, snap ports.Snapshot) error {
	vars, err := json.Marshal(snap.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode variables of step %q: %w", snap.Step, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, file, scenario, step, variables, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.RunID, snap.File, snap.Scenario, snap.Step, string(vars), snap.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save snapshot of step %q: %w", snap.Step, err)
	}
	return nil
}

// Latest returns the newest snapshot taken before step of scenario in file.
func (s *Store) Latest(ctx context.Context, file, scenario, step string) (ports.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, file, scenario, step, variables, created_at FROM snapshots
		 WHERE file = ? AND scenario = ? AND step = ?
		 ORDER BY id DESC LIMIT 1`,
		file, scenario, step)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Snapshot{}, fmt.Errorf("%w: no snapshot before step %q of %s", errs.ErrNotFound, step, file)
	}
	return snap, err
}

// ForRun returns every snapshot of runID in execution order.
func (s *Store) ForRun(ctx context.Context, runID string) ([]ports.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, file, scenario, step, variables, created_at FROM snapshots
		 WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []ports.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Prune deletes snapshots created before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (ports.Snapshot, error) {
	var (
		snap    ports.Snapshot
		vars    string
		created int64
	)
	if err := row.Scan(&snap.RunID, &snap.File, &snap.Scenario, &snap.Step, &vars, &created); err != nil {
		return ports.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(vars), &snap.Variables); err != nil {
		return ports.Snapshot{}, fmt.Errorf("failed to decode variables of step %q: %w", snap.Step, err)
	}
	snap.CreatedAt = time.Unix(0, created).UTC()
	return snap, nil
}
