package repo

import (
	"context"
	"database/sql"
	"strings"

	"stitchline/internal/domain"
)

const itemColumns = `id,workflow_id,order_id,current_stage_id,status,is_defective,defect_notes,metadata_json,version,stage_visit,started_at,completed_at,updated_at`

func scanItem(scan func(dest ...any) error) (domain.Item, error) {
	var it domain.Item
	var orderID, defectNotes, metadata, completedAt sql.NullString
	var defective int
	err := scan(&it.ID, &it.WorkflowID, &orderID, &it.CurrentStageID, &it.Status, &defective,
		&defectNotes, &metadata, &it.Version, &it.StageVisit, &it.StartedAt, &completedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if orderID.Valid {
		it.OrderID = orderID.String
	}
	if defectNotes.Valid {
		it.DefectNotes = defectNotes.String
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.String
	}
	it.IsDefective = defective != 0
	it.Metadata = unmarshalJSONMap(metadata)
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	meta, err := marshalJSONMap(it.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.WorkflowID, nullable(it.OrderID), it.CurrentStageID, it.Status, boolInt(it.IsDefective),
		nullable(it.DefectNotes), meta, it.Version, it.StageVisit, it.StartedAt, nullableStringPtr(it.CompletedAt), it.UpdatedAt)
	return err
}

// UpdateItemVersioned writes the item back guarded by the version it was read
// at. ErrNotFound here means another writer won the race (or the item is
// gone); callers translate it into a stale-state conflict.
func (r Repo) UpdateItemVersioned(ctx context.Context, tx *sql.Tx, it domain.Item, expectedVersion int64) error {
	meta, err := marshalJSONMap(it.Metadata)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE items SET current_stage_id=?, status=?, is_defective=?, defect_notes=?, metadata_json=?, version=?, stage_visit=?, completed_at=?, updated_at=? WHERE id=? AND version=?`,
		it.CurrentStageID, it.Status, boolInt(it.IsDefective), nullable(it.DefectNotes), meta,
		it.Version, it.StageVisit, nullableStringPtr(it.CompletedAt), it.UpdatedAt, it.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

type ItemFilters struct {
	WorkflowID      string
	OrderID         string
	StageID         string
	Status          string
	Limit           int
	CursorStartedAt string
	CursorID        string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	var clauses []string
	var args []any
	if f.WorkflowID != "" {
		clauses = append(clauses, "workflow_id=?")
		args = append(args, f.WorkflowID)
	}
	if f.OrderID != "" {
		clauses = append(clauses, "order_id=?")
		args = append(args, f.OrderID)
	}
	if f.StageID != "" {
		clauses = append(clauses, "current_stage_id=?")
		args = append(args, f.StageID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorStartedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(started_at < ? OR (started_at = ? AND id < ?))")
		args = append(args, f.CursorStartedAt, f.CursorStartedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM items ` + where + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ActiveItems returns non-completed items referencing a workflow, for the
// usage-gating report.
func (r Repo) ActiveItems(ctx context.Context, workflowID string) ([]domain.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE workflow_id=? AND status != 'completed' ORDER BY started_at ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) InsertActionCompletion(ctx context.Context, tx *sql.Tx, c domain.ActionCompletion) error {
	payload, err := marshalJSONMap(c.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO action_completions(id,item_id,stage_id,action_id,stage_visit,actor_id,payload_json,recorded_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.ItemID, c.StageID, c.ActionID, c.StageVisit, c.ActorID, payload, c.RecordedAt)
	return err
}

// CompletedActionIDs lists the distinct action ids recorded for an item's
// given stage visit. Evidence from earlier visits is invisible here, which is
// what resets the requirement when a stage is revisited.
func (r Repo) CompletedActionIDs(ctx context.Context, tx *sql.Tx, itemID string, stageVisit int64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT action_id FROM action_completions WHERE item_id=? AND stage_visit=?`, itemID, stageVisit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) ListActionCompletions(ctx context.Context, itemID string) ([]domain.ActionCompletion, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,stage_id,action_id,stage_visit,actor_id,payload_json,recorded_at FROM action_completions WHERE item_id=? ORDER BY recorded_at ASC, id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionCompletion
	for rows.Next() {
		var c domain.ActionCompletion
		var payload sql.NullString
		if err := rows.Scan(&c.ID, &c.ItemID, &c.StageID, &c.ActionID, &c.StageVisit, &c.ActorID, &payload, &c.RecordedAt); err != nil {
			return nil, err
		}
		c.Payload = unmarshalJSONMap(payload)
		res = append(res, c)
	}
	return res, rows.Err()
}
