// Package store persists flow definitions and their lifecycle status
// (draft | deployed | stopped) in the configuration database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// Lifecycle statuses of a stored process.
const (
	StatusDraft    = "draft"
	StatusDeployed = "deployed"
	StatusStopped  = "stopped"
)

// ErrDeployed is returned by Delete while the process is still deployed.
var ErrDeployed = errors.New("process is deployed; stop it before deleting")

// ProcessRecord is one row of the processes table.
type ProcessRecord struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	DSL         json.RawMessage `json:"dsl"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ProcessSummary is the lightweight listing view.
type ProcessSummary struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	TriggerType string    `json:"trigger_type"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProcessStore reads and writes flow DSLs. The caller owns the *sql.DB.
type ProcessStore struct {
	db *sql.DB
}

// NewProcessStore returns a store backed by db.
func NewProcessStore(db *sql.DB) *ProcessStore {
	return &ProcessStore{db: db}
}

// Upsert writes a definition. New rows start as draft; updating an existing
// row keeps its status so a redeploy is an explicit act.
func (s *ProcessStore) Upsert(ctx context.Context, proc *flow.Process) (*ProcessRecord, error) {
	dsl, err := json.Marshal(proc)
	if err != nil {
		return nil, fmt.Errorf("process store: marshal DSL: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO processes (id, version, name, description, dsl, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'draft', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		  SET version     = EXCLUDED.version,
		      name        = EXCLUDED.name,
		      description = EXCLUDED.description,
		      dsl         = EXCLUDED.dsl,
		      updated_at  = NOW()
		RETURNING id, version, name, description, dsl, status, created_at, updated_at`,
		proc.Definition.ID,
		proc.Definition.Version,
		proc.Definition.Name,
		proc.Definition.Description,
		dsl,
	)
	return scanProcessRow(row)
}

// Get loads the full record for id.
func (s *ProcessStore) Get(ctx context.Context, id string) (*ProcessRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, name, description, dsl, status, created_at, updated_at
		FROM processes WHERE id = $1`, id)
	rec, err := scanProcessRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("process store: process %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("process store: get %q: %w", id, err)
	}
	return rec, nil
}

// List returns summaries ordered by updated_at descending, optionally
// filtered by status.
func (s *ProcessStore) List(ctx context.Context, statusFilter string) ([]ProcessSummary, error) {
	const cols = `id, version, name, status, COALESCE(dsl->'trigger'->>'type', '') AS trigger_type, updated_at`

	var (
		rows *sql.Rows
		err  error
	)
	if statusFilter != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM processes WHERE status = $1 ORDER BY updated_at DESC`, statusFilter)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM processes ORDER BY updated_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("process store: list: %w", err)
	}
	defer rows.Close()

	var out []ProcessSummary
	for rows.Next() {
		var sum ProcessSummary
		if err := rows.Scan(&sum.ID, &sum.Version, &sum.Name, &sum.Status, &sum.TriggerType, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("process store: scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a process. Deployed processes are protected: callers must
// stop them first.
func (s *ProcessStore) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == StatusDeployed {
		return ErrDeployed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("process store: delete %q: %w", id, err)
	}
	return nil
}

// UpdateStatus moves a process between lifecycle states.
func (s *ProcessStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE processes SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("process store: set status of %q to %q: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("process store: process %q not found", id)
	}
	return nil
}

// ParseDSL decodes the stored document back into a flow.Process.
func (r *ProcessRecord) ParseDSL() (*flow.Process, error) {
	proc, err := flow.ParseProcess(r.DSL)
	if err != nil {
		return nil, fmt.Errorf("process store: parse DSL of %q: %w", r.ID, err)
	}
	return proc, nil
}

func scanProcessRow(row *sql.Row) (*ProcessRecord, error) {
	var rec ProcessRecord
	err := row.Scan(
		&rec.ID,
		&rec.Version,
		&rec.Name,
		&rec.Description,
		&rec.DSL,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
