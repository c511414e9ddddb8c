package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stitchline/internal/domain"
)

const orderColumns = `id,workflow_id,customer,start_date,status,reject_reason,item_specs_json,created_at,decided_at`

func scanOrder(scan func(dest ...any) error) (domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var customer, rejectReason, decidedAt sql.NullString
	var specs string
	err := scan(&po.ID, &po.WorkflowID, &customer, &po.StartDate, &po.Status, &rejectReason, &specs, &po.CreatedAt, &decidedAt)
	if err == sql.ErrNoRows {
		return po, ErrNotFound
	}
	if err != nil {
		return po, err
	}
	if customer.Valid {
		po.Customer = customer.String
	}
	if rejectReason.Valid {
		po.RejectReason = rejectReason.String
	}
	if decidedAt.Valid {
		po.DecidedAt = &decidedAt.String
	}
	if err := json.Unmarshal([]byte(specs), &po.ItemSpecs); err != nil {
		return po, fmt.Errorf("decode item specs for order %s: %w", po.ID, err)
	}
	return po, nil
}

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, po domain.PurchaseOrder) error {
	specs, err := json.Marshal(po.ItemSpecs)
	if err != nil {
		return fmt.Errorf("marshal item specs: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO purchase_orders(`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		po.ID, po.WorkflowID, nullable(po.Customer), po.StartDate, po.Status, nullable(po.RejectReason),
		string(specs), po.CreatedAt, nullableStringPtr(po.DecidedAt))
	return err
}

func (r Repo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, id, status, rejectReason, decidedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE purchase_orders SET status=?, reject_reason=?, decided_at=? WHERE id=?`,
		status, nullable(rejectReason), decidedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.PurchaseOrder, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=?`, id)
	return scanOrder(row.Scan)
}

func (r Repo) ListOrders(ctx context.Context, status string) ([]domain.PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, po)
	}
	return res, rows.Err()
}
