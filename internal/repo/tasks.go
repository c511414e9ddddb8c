package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"stitchline/internal/domain"
)

const taskColumns = `id,title,description,assigned_to,assigned_team,assigned_by,status,priority,due_date,item_id,workflow_id,stage_id,notes,created_at,updated_at,completed_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var description, team, dueDate, itemID, workflowID, stageID, notes, completedAt sql.NullString
	err := scan(&t.ID, &t.Title, &description, &t.AssignedTo, &team, &t.AssignedBy, &t.Status, &t.Priority,
		&dueDate, &itemID, &workflowID, &stageID, &notes, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if team.Valid {
		t.AssignedTeam = team.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if itemID.Valid {
		t.ItemID = &itemID.String
	}
	if workflowID.Valid {
		t.WorkflowID = &workflowID.String
	}
	if stageID.Valid {
		t.StageID = &stageID.String
	}
	if notes.Valid {
		t.Notes = notes.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.AssignedTo, nullable(t.AssignedTeam), t.AssignedBy,
		t.Status, t.Priority, nullableStringPtr(t.DueDate), nullableStringPtr(t.ItemID),
		nullableStringPtr(t.WorkflowID), nullableStringPtr(t.StageID), nullable(t.Notes),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, assigned_to=?, status=?, priority=?, due_date=?, notes=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.AssignedTo, t.Status, t.Priority,
		nullableStringPtr(t.DueDate), nullable(t.Notes), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	AssignedTo      string
	AssignedTeam    string
	Status          string
	Priority        string
	ItemID          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.AssignedTo != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssignedTo)
	}
	if f.AssignedTeam != "" {
		clauses = append(clauses, "assigned_team=?")
		args = append(args, f.AssignedTeam)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.ItemID != "" {
		clauses = append(clauses, "item_id=?")
		args = append(args, f.ItemID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// TaskStatsFor aggregates counts for one assignee or one team snapshot.
// Exactly one of userID and team should be set.
func (r Repo) TaskStatsFor(ctx context.Context, userID, team string, now time.Time) (domain.TaskStats, error) {
	var stats domain.TaskStats
	clause := "assigned_to=?"
	arg := userID
	if team != "" {
		clause = "assigned_team=?"
		arg = team
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT status, due_date FROM tasks WHERE `+clause, arg)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var dueDate sql.NullString
		if err := rows.Scan(&status, &dueDate); err != nil {
			return stats, err
		}
		stats.Total++
		switch status {
		case "pending":
			stats.Pending++
		case "in_progress":
			stats.InProgress++
		case "completed":
			stats.Completed++
		case "cancelled":
			stats.Cancelled++
		}
		// Due dates may carry any zone offset, so compare as instants.
		if dueDate.Valid && status != "completed" {
			if due, err := time.Parse(time.RFC3339, dueDate.String); err == nil && due.Before(now) {
				stats.Overdue++
			}
		}
	}
	return stats, rows.Err()
}
