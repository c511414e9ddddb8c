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

func (e Engine) knownActionType(t string) bool {
	if e.Config == nil {
		return true
	}
	return e.Config.KnownActionType(t)
}

// CreateWorkflow validates and stores a stage graph. Workflows are created
// whole; stage edits go through UpdateWorkflow with a full replacement graph.
func (e Engine) CreateWorkflow(ctx context.Context, w domain.Workflow, actorID string) (domain.Workflow, error) {
	if w.Name == "" {
		return domain.Workflow{}, errors.New("name is required")
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if err := ValidateWorkflow(w, e.knownActionType); err != nil {
		return domain.Workflow{}, err
	}
	now := e.nowString()
	w.IsActive = true
	w.CreatedAt = now
	w.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertWorkflow(ctx, tx, w); err != nil {
		return domain.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "workflow.created", "workflow", w.ID, actorID, events.EventPayload{
		"name":   w.Name,
		"stages": len(w.Stages),
	}); err != nil {
		return domain.Workflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// UpdateWorkflow replaces name, description and the stage graph. Items
// already in flight keep their current stage id; a replacement graph that
// drops a stage still referenced by an active item will surface as an
// unknown-stage failure on that item's next advance, which is the operator's
// cue to route it manually.
func (e Engine) UpdateWorkflow(ctx context.Context, w domain.Workflow, actorID string) (domain.Workflow, error) {
	existing, err := e.Repo.GetWorkflow(ctx, w.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Workflow{}, UnknownReferenceError{Kind: "workflow", ID: w.ID}
		}
		return domain.Workflow{}, err
	}
	if err := ValidateWorkflow(w, e.knownActionType); err != nil {
		return domain.Workflow{}, err
	}
	w.IsActive = existing.IsActive
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
		return domain.Workflow{}, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.updated", "workflow", w.ID, actorID, events.EventPayload{
		"name":   w.Name,
		"stages": len(w.Stages),
	}); err != nil {
		return domain.Workflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// WorkflowUsage reports the items referencing a workflow. It only reports;
// DeleteWorkflow and DeactivateWorkflow do the enforcing.
func (e Engine) WorkflowUsage(ctx context.Context, workflowID string) (domain.WorkflowUsage, error) {
	if _, err := e.Repo.GetWorkflow(ctx, workflowID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.WorkflowUsage{}, UnknownReferenceError{Kind: "workflow", ID: workflowID}
		}
		return domain.WorkflowUsage{}, err
	}
	active, err := e.Repo.ActiveItems(ctx, workflowID)
	if err != nil {
		return domain.WorkflowUsage{}, err
	}
	_, completed, err := e.Repo.CountItemsByStatus(ctx, workflowID)
	if err != nil {
		return domain.WorkflowUsage{}, err
	}
	return domain.WorkflowUsage{
		WorkflowID:         workflowID,
		ActiveItemCount:    len(active),
		ActiveItems:        active,
		CompletedItemCount: completed,
	}, nil
}

func (e Engine) workflowInUse(ctx context.Context, workflowID string) error {
	usage, err := e.WorkflowUsage(ctx, workflowID)
	if err != nil {
		return err
	}
	if usage.ActiveItemCount > 0 {
		ids := make([]string, 0, len(usage.ActiveItems))
		for _, it := range usage.ActiveItems {
			ids = append(ids, it.ID)
		}
		return WorkflowInUseError{WorkflowID: workflowID, ActiveItemIDs: ids}
	}
	return nil
}

// DeactivateWorkflow hides a workflow from new order selection. Fail-closed:
// any active item blocks it.
func (e Engine) DeactivateWorkflow(ctx context.Context, workflowID, actorID string) (domain.Workflow, error) {
	w, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Workflow{}, UnknownReferenceError{Kind: "workflow", ID: workflowID}
		}
		return domain.Workflow{}, err
	}
	if err := e.workflowInUse(ctx, workflowID); err != nil {
		return domain.Workflow{}, err
	}
	w.IsActive = false
	w.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpdateWorkflow(ctx, tx, w); err != nil {
		return domain.Workflow{}, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.deactivated", "workflow", w.ID, actorID, nil); err != nil {
		return domain.Workflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workflow{}, err
	}
	return w, nil
}

// DeleteWorkflow removes a workflow definition. Completed items keep their
// history in the events table, so only active items block deletion.
func (e Engine) DeleteWorkflow(ctx context.Context, workflowID, actorID string) error {
	if _, err := e.Repo.GetWorkflow(ctx, workflowID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return UnknownReferenceError{Kind: "workflow", ID: workflowID}
		}
		return err
	}
	if err := e.workflowInUse(ctx, workflowID); err != nil {
		return err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteWorkflow(ctx, tx, workflowID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "workflow.deleted", "workflow", workflowID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
