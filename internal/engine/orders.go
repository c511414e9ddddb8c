package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stitchline/internal/domain"
	"stitchline/internal/events"
	"stitchline/internal/repo"
)

// SubmitOrder records a purchase order in pending state. Items are not
// created until the order is accepted.
func (e Engine) SubmitOrder(ctx context.Context, po domain.PurchaseOrder, actorID string) (domain.PurchaseOrder, error) {
	w, err := e.Repo.GetWorkflow(ctx, po.WorkflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PurchaseOrder{}, UnknownReferenceError{Kind: "workflow", ID: po.WorkflowID}
		}
		return domain.PurchaseOrder{}, err
	}
	if !w.IsActive {
		return domain.PurchaseOrder{}, UnknownReferenceError{Kind: "workflow", ID: po.WorkflowID}
	}
	if len(po.ItemSpecs) == 0 {
		return domain.PurchaseOrder{}, errors.New("order needs at least one item spec")
	}
	for _, spec := range po.ItemSpecs {
		if spec.Count < 1 {
			return domain.PurchaseOrder{}, fmt.Errorf("item spec count %d is invalid, must be at least 1", spec.Count)
		}
	}
	if po.ID == "" {
		po.ID = uuid.New().String()
	}
	now := e.nowString()
	po.Status = "pending"
	po.RejectReason = ""
	po.CreatedAt = now
	po.DecidedAt = nil
	if po.StartDate == "" {
		po.StartDate = now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertOrder(ctx, tx, po); err != nil {
		return domain.PurchaseOrder{}, fmt.Errorf("insert order: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "order.submitted", "order", po.ID, actorID, events.EventPayload{
		"workflow_id": po.WorkflowID,
		"customer":    po.Customer,
	}); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return po, nil
}

// AcceptOrder flips a pending order to accepted and creates its items in the
// same transaction. Either the order is accepted with every item created, or
// nothing happened.
func (e Engine) AcceptOrder(ctx context.Context, orderID, actorID string) (domain.PurchaseOrder, []domain.Item, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PurchaseOrder{}, nil, err
	}
	defer tx.Rollback()

	po, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PurchaseOrder{}, nil, UnknownReferenceError{Kind: "order", ID: orderID}
		}
		return domain.PurchaseOrder{}, nil, err
	}
	if po.Status != "pending" {
		return domain.PurchaseOrder{}, nil, fmt.Errorf("order %s is already %s", po.ID, po.Status)
	}
	w, err := e.Repo.GetWorkflow(ctx, po.WorkflowID)
	if err != nil {
		return domain.PurchaseOrder{}, nil, fmt.Errorf("load workflow %s: %w", po.WorkflowID, err)
	}

	items, err := e.createItemsTx(ctx, tx, w, po.ID, po.ItemSpecs, actorID)
	if err != nil {
		return domain.PurchaseOrder{}, nil, err
	}

	now := e.nowString()
	if err := e.Repo.UpdateOrderStatus(ctx, tx, po.ID, "accepted", "", now); err != nil {
		return domain.PurchaseOrder{}, nil, err
	}
	po.Status = "accepted"
	po.DecidedAt = &now

	if err := e.Events.Append(ctx, tx, "order.accepted", "order", po.ID, actorID, events.EventPayload{
		"workflow_id": po.WorkflowID,
		"item_count":  len(items),
	}); err != nil {
		return domain.PurchaseOrder{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// RejectOrder closes a pending order without creating items.
func (e Engine) RejectOrder(ctx context.Context, orderID, reason, actorID string) (domain.PurchaseOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	defer tx.Rollback()

	po, err := e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PurchaseOrder{}, UnknownReferenceError{Kind: "order", ID: orderID}
		}
		return domain.PurchaseOrder{}, err
	}
	if po.Status != "pending" {
		return domain.PurchaseOrder{}, fmt.Errorf("order %s is already %s", po.ID, po.Status)
	}

	now := e.nowString()
	if err := e.Repo.UpdateOrderStatus(ctx, tx, po.ID, "rejected", reason, now); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po.Status = "rejected"
	po.RejectReason = reason
	po.DecidedAt = &now

	if err := e.Events.Append(ctx, tx, "order.rejected", "order", po.ID, actorID, events.EventPayload{
		"reason": reason,
	}); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PurchaseOrder{}, err
	}
	return po, nil
}
