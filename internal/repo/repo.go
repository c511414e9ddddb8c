package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stitchline/internal/config"
	"stitchline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Stages are stored denormalized as JSON on the workflow row; the stage graph
// is always read and written as a whole.

func (r Repo) InsertWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	stages, err := json.Marshal(w.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO workflows(id,name,description,stages_json,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		w.ID, w.Name, nullable(w.Description), string(stages), boolInt(w.IsActive), w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) UpdateWorkflow(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	stages, err := json.Marshal(w.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE workflows SET name=?, description=?, stages_json=?, is_active=?, updated_at=? WHERE id=?`,
		w.Name, nullable(w.Description), string(stages), boolInt(w.IsActive), w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteWorkflow(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorkflow(scan func(dest ...any) error) (domain.Workflow, error) {
	var w domain.Workflow
	var desc sql.NullString
	var stages string
	var active int
	err := scan(&w.ID, &w.Name, &desc, &stages, &active, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if desc.Valid {
		w.Description = desc.String
	}
	w.IsActive = active != 0
	if err := json.Unmarshal([]byte(stages), &w.Stages); err != nil {
		return w, fmt.Errorf("decode stages for workflow %s: %w", w.ID, err)
	}
	return w, nil
}

const workflowColumns = `id,name,description,stages_json,is_active,created_at,updated_at`

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id=?`, id)
	return scanWorkflow(row.Scan)
}

func (r Repo) ListWorkflows(ctx context.Context, activeOnly bool) ([]domain.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// CountItemsByStatus partitions a workflow's items into active and completed
// buckets. Paused and error items count as active: they still reference the
// workflow and block deletion.
func (r Repo) CountItemsByStatus(ctx context.Context, workflowID string) (active, completed int, err error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM items WHERE workflow_id=? GROUP BY status`, workflowID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, err
		}
		if status == "completed" {
			completed += count
		} else {
			active += count
		}
	}
	return active, completed, rows.Err()
}

// Site config, stored as a single JSON row keyed by site name.

func (r Repo) UpsertSiteConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.DB.ExecContext(ctx, `INSERT INTO site_configs(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetSiteConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM site_configs WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// --- shared scan helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSONMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalJSONMap(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}
