package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"stitchline/internal/domain"
	"stitchline/internal/events"
	"stitchline/internal/repo"
)

// createItemsTx creates the items for an accepted order inside the caller's
// transaction. Every item enters at the workflow's first stage.
func (e Engine) createItemsTx(ctx context.Context, tx *sql.Tx, w domain.Workflow, orderID string, specs []domain.ItemSpec, actorID string) ([]domain.Item, error) {
	first, ok := w.FirstStage()
	if !ok {
		return nil, EmptyWorkflowError{WorkflowID: w.ID}
	}
	now := e.nowString()
	var items []domain.Item
	for _, spec := range specs {
		for i := 0; i < spec.Count; i++ {
			it := domain.Item{
				ID:             uuid.New().String(),
				WorkflowID:     w.ID,
				OrderID:        orderID,
				CurrentStageID: first.ID,
				Status:         "active",
				Metadata:       spec.Metadata,
				Version:        1,
				StageVisit:     1,
				StartedAt:      now,
				UpdatedAt:      now,
			}
			if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
				return nil, fmt.Errorf("insert item: %w", err)
			}
			if err := e.Events.Append(ctx, tx, "item.created", "item", it.ID, actorID, events.EventPayload{
				"workflow_id": w.ID,
				"order_id":    orderID,
				"stage_id":    first.ID,
			}); err != nil {
				return nil, err
			}
			items = append(items, it)
		}
	}
	return items, nil
}

// AdvanceItem moves an item to toStageID. Action ids supplied with the
// request are recorded as evidence for the current stage visit before the
// gate is checked, so a scanner that batches its uploads with the advance
// call still passes. expectedVersion is the version the caller read; a
// mismatch at write time reports a stale conflict instead of silently
// double-advancing.
func (e Engine) AdvanceItem(ctx context.Context, itemID, toStageID string, completedActionIDs []string, expectedVersion int64, reason, actorID string) (domain.Item, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Item{}, UnknownReferenceError{Kind: "item", ID: itemID}
		}
		return domain.Item{}, err
	}
	if it.Status != "active" {
		return domain.Item{}, ItemNotActiveError{ItemID: it.ID, Status: it.Status}
	}
	if expectedVersion != 0 && expectedVersion != it.Version {
		return domain.Item{}, StaleItemError{ItemID: it.ID}
	}
	w, err := e.Repo.GetWorkflow(ctx, it.WorkflowID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("load workflow %s: %w", it.WorkflowID, err)
	}
	stage, ok := w.StageByID(it.CurrentStageID)
	if !ok {
		return domain.Item{}, UnknownReferenceError{Kind: "stage", ID: it.CurrentStageID}
	}

	now := e.nowString()
	for _, actionID := range completedActionIDs {
		if _, ok := stageAction(stage, actionID); !ok {
			return domain.Item{}, UnknownReferenceError{Kind: "action", ID: actionID}
		}
		if err := e.Repo.InsertActionCompletion(ctx, tx, domain.ActionCompletion{
			ID:         uuid.New().String(),
			ItemID:     it.ID,
			StageID:    stage.ID,
			ActionID:   actionID,
			StageVisit: it.StageVisit,
			ActorID:    actorID,
			RecordedAt: now,
		}); err != nil {
			return domain.Item{}, err
		}
	}
	recorded, err := e.Repo.CompletedActionIDs(ctx, tx, it.ID, it.StageVisit)
	if err != nil {
		return domain.Item{}, err
	}
	if err := CanAdvance(w, it.CurrentStageID, toStageID, recorded); err != nil {
		return domain.Item{}, err
	}

	target, _ := w.StageByID(toStageID)
	fromStageID := it.CurrentStageID
	readVersion := it.Version
	it.CurrentStageID = toStageID
	it.Version = readVersion + 1
	it.StageVisit++
	it.UpdatedAt = now

	terminal := IsTerminal(target)
	if terminal {
		it.Status = "completed"
		it.CompletedAt = &now
	}

	if err := e.Repo.UpdateItemVersioned(ctx, tx, it, readVersion); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Item{}, StaleItemError{ItemID: it.ID}
		}
		return domain.Item{}, err
	}

	payload := events.EventPayload{"from": fromStageID, "to": toStageID}
	if reason != "" {
		payload["reason"] = reason
	}
	if err := e.Events.Append(ctx, tx, "item.advanced", "item", it.ID, actorID, payload); err != nil {
		return domain.Item{}, err
	}
	if terminal {
		if err := e.Events.Append(ctx, tx, "item.completed", "item", it.ID, actorID, events.EventPayload{
			"stage_id": toStageID,
		}); err != nil {
			return domain.Item{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

// RecordAction stores evidence that an action was performed at the item's
// current stage. Duplicate recordings are accepted; the gate deduplicates.
func (e Engine) RecordAction(ctx context.Context, itemID, actionID string, payload map[string]any, actorID string) (domain.ActionCompletion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionCompletion{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ActionCompletion{}, UnknownReferenceError{Kind: "item", ID: itemID}
		}
		return domain.ActionCompletion{}, err
	}
	if it.Status != "active" {
		return domain.ActionCompletion{}, ItemNotActiveError{ItemID: it.ID, Status: it.Status}
	}
	w, err := e.Repo.GetWorkflow(ctx, it.WorkflowID)
	if err != nil {
		return domain.ActionCompletion{}, fmt.Errorf("load workflow %s: %w", it.WorkflowID, err)
	}
	stage, ok := w.StageByID(it.CurrentStageID)
	if !ok {
		return domain.ActionCompletion{}, UnknownReferenceError{Kind: "stage", ID: it.CurrentStageID}
	}
	if _, ok := stageAction(stage, actionID); !ok {
		return domain.ActionCompletion{}, UnknownReferenceError{Kind: "action", ID: actionID}
	}

	c := domain.ActionCompletion{
		ID:         uuid.New().String(),
		ItemID:     it.ID,
		StageID:    stage.ID,
		ActionID:   actionID,
		StageVisit: it.StageVisit,
		ActorID:    actorID,
		Payload:    payload,
		RecordedAt: e.nowString(),
	}
	if err := e.Repo.InsertActionCompletion(ctx, tx, c); err != nil {
		return domain.ActionCompletion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActionCompletion{}, err
	}
	return c, nil
}

// FlagDefective marks an item defective without moving it. Defective items
// keep advancing normally; the flag rides along for reporting and is the
// operator's cue to route the item back through a rework loop.
func (e Engine) FlagDefective(ctx context.Context, itemID, notes, actorID string) (domain.Item, error) {
	return e.mutateItem(ctx, itemID, "item.flagged", actorID,
		events.EventPayload{"notes": notes},
		func(it *domain.Item) error {
			if it.Status == "completed" {
				return ItemNotActiveError{ItemID: it.ID, Status: it.Status}
			}
			it.IsDefective = true
			it.DefectNotes = notes
			return nil
		})
}

// PauseItem takes an item out of circulation; advances and action recordings
// are refused until it is resumed.
func (e Engine) PauseItem(ctx context.Context, itemID, reason, actorID string) (domain.Item, error) {
	payload := events.EventPayload{}
	if reason != "" {
		payload["reason"] = reason
	}
	return e.mutateItem(ctx, itemID, "item.paused", actorID, payload,
		func(it *domain.Item) error {
			if it.Status != "active" {
				return ItemNotActiveError{ItemID: it.ID, Status: it.Status}
			}
			it.Status = "paused"
			return nil
		})
}

// ResumeItem returns a paused or errored item to active.
func (e Engine) ResumeItem(ctx context.Context, itemID, actorID string) (domain.Item, error) {
	return e.mutateItem(ctx, itemID, "item.resumed", actorID, nil,
		func(it *domain.Item) error {
			if it.Status != "paused" && it.Status != "error" {
				return ItemNotActiveError{ItemID: it.ID, Status: it.Status}
			}
			it.Status = "active"
			return nil
		})
}

// mutateItem is the shared status side-channel: one transaction, a version
// bump, and one audit event. The item does not change stage here.
func (e Engine) mutateItem(ctx context.Context, itemID, evtType, actorID string, payload events.EventPayload, mutate func(*domain.Item) error) (domain.Item, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Item{}, UnknownReferenceError{Kind: "item", ID: itemID}
		}
		return domain.Item{}, err
	}
	if err := mutate(&it); err != nil {
		return domain.Item{}, err
	}
	readVersion := it.Version
	it.Version = readVersion + 1
	it.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateItemVersioned(ctx, tx, it, readVersion); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Item{}, StaleItemError{ItemID: it.ID}
		}
		return domain.Item{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, "item", it.ID, actorID, payload); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func stageAction(s domain.Stage, actionID string) (domain.Action, bool) {
	for _, a := range s.Actions {
		if a.ID == actionID {
			return a, true
		}
	}
	return domain.Action{}, false
}
