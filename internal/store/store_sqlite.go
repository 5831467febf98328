// File: internal/store/store_sqlite.go
// Brief: SQLite persistence for deployment rows, plans, and observer configs.

// Package store persists the deployment aggregate. Status transitions are
// terminal markers; rows are never deleted.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/example/stackd/internal/deployment"
	"github.com/example/stackd/internal/observer"
	"github.com/example/stackd/internal/plan"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested deployment does not exist.
var ErrNotFound = errors.New("deployment not found")

// Store is a single-writer sqlite-backed deployment store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and if needed creates) the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS stackd_deployments (
  id TEXT PRIMARY KEY,
  environment_id TEXT NOT NULL,
  stack_id TEXT NOT NULL,
  stack_name TEXT NOT NULL,
  status TEXT NOT NULL,
  operation_mode TEXT NOT NULL,
  stack_version TEXT NOT NULL,
  target_version TEXT NOT NULL,
  variables_json TEXT NOT NULL,
  plan_json TEXT NOT NULL,
  observers_json TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_stackd_deployments_env ON stackd_deployments(environment_id);`,
		`CREATE INDEX IF NOT EXISTS idx_stackd_deployments_stack ON stackd_deployments(stack_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Record is a deployment row together with its compiled plan and observer
// configs, everything the core needs to drive the deployment after a restart.
type Record struct {
	Deployment *deployment.Deployment
	Plan       *plan.DeploymentPlan
	Observers  []observer.Config
}

// Save upserts the record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	varsJSON, err := json.Marshal(rec.Deployment.Variables)
	if err != nil {
		return err
	}
	planJSON := []byte("null")
	if rec.Plan != nil {
		if planJSON, err = json.Marshal(rec.Plan); err != nil {
			return err
		}
	}
	obsJSON, err := json.Marshal(rec.Observers)
	if err != nil {
		return err
	}

	d := rec.Deployment
	_, err = s.db.ExecContext(ctx, `
INSERT INTO stackd_deployments (
  id, environment_id, stack_id, stack_name, status, operation_mode,
  stack_version, target_version, variables_json, plan_json, observers_json,
  created_at_ns, updated_at_ns
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  stack_id = excluded.stack_id,
  status = excluded.status,
  operation_mode = excluded.operation_mode,
  stack_version = excluded.stack_version,
  target_version = excluded.target_version,
  variables_json = excluded.variables_json,
  plan_json = excluded.plan_json,
  observers_json = excluded.observers_json,
  updated_at_ns = excluded.updated_at_ns
`, d.ID, d.EnvironmentID, d.StackID, d.StackName, string(d.Status), string(d.OperationMode),
		d.StackVersion, d.TargetVersion, string(varsJSON), string(planJSON), string(obsJSON),
		d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano())
	return err
}

// Get loads one record by deployment ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, environment_id, stack_id, stack_name, status, operation_mode,
       stack_version, target_version, variables_json, plan_json, observers_json,
       created_at_ns, updated_at_ns
FROM stackd_deployments WHERE id = ?
`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns every record ordered by creation time, newest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, environment_id, stack_id, stack_name, status, operation_mode,
       stack_version, target_version, variables_json, plan_json, observers_json,
       created_at_ns, updated_at_ns
FROM stackd_deployments ORDER BY created_at_ns DESC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*Record, error) {
	var (
		d                           deployment.Deployment
		status, mode                string
		varsJSON, planJSON, obsJSON string
		createdAtNS, updatedAtNS    int64
	)
	err := row.Scan(&d.ID, &d.EnvironmentID, &d.StackID, &d.StackName, &status, &mode,
		&d.StackVersion, &d.TargetVersion, &varsJSON, &planJSON, &obsJSON,
		&createdAtNS, &updatedAtNS)
	if err != nil {
		return nil, err
	}
	d.Status = deployment.Status(status)
	d.OperationMode = deployment.Mode(mode)
	d.CreatedAt = time.Unix(0, createdAtNS).UTC()
	d.UpdatedAt = time.Unix(0, updatedAtNS).UTC()
	if err := json.Unmarshal([]byte(varsJSON), &d.Variables); err != nil {
		return nil, fmt.Errorf("decode variables for %s: %w", d.ID, err)
	}
	rec := &Record{Deployment: &d}
	if planJSON != "" && planJSON != "null" {
		var p plan.DeploymentPlan
		if err := json.Unmarshal([]byte(planJSON), &p); err != nil {
			return nil, fmt.Errorf("decode plan for %s: %w", d.ID, err)
		}
		rec.Plan = &p
	}
	if err := json.Unmarshal([]byte(obsJSON), &rec.Observers); err != nil {
		return nil, fmt.Errorf("decode observers for %s: %w", d.ID, err)
	}
	return rec, nil
}
