package engine

import (
	"fmt"
	"strings"
)

// Business-rule violations are typed so the server boundary can map them to
// statuses with errors.As instead of string matching. Store failures remain
// plain wrapped errors.

type InvalidTransitionError struct {
	FromStageID string
	ToStageID   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition from stage %s to stage %s is not allowed", e.FromStageID, e.ToStageID)
}

type MissingRequiredActionError struct {
	StageID          string
	MissingActionIDs []string
}

func (e MissingRequiredActionError) Error() string {
	return fmt.Sprintf("stage %s has incomplete required actions: %s", e.StageID, strings.Join(e.MissingActionIDs, ", "))
}

type EmptyWorkflowError struct {
	WorkflowID string
}

func (e EmptyWorkflowError) Error() string {
	return fmt.Sprintf("workflow %s has no stages", e.WorkflowID)
}

type ItemNotActiveError struct {
	ItemID string
	Status string
}

func (e ItemNotActiveError) Error() string {
	return fmt.Sprintf("item %s is %s and cannot be modified", e.ItemID, e.Status)
}

// WorkflowInUseError carries the blocking item ids so callers can surface an
// actionable message, not just a count.
type WorkflowInUseError struct {
	WorkflowID    string
	ActiveItemIDs []string
}

func (e WorkflowInUseError) Error() string {
	return fmt.Sprintf("workflow %s has %d active items: %s", e.WorkflowID, len(e.ActiveItemIDs), strings.Join(e.ActiveItemIDs, ", "))
}

type UnknownReferenceError struct {
	Kind string
	ID   string
}

func (e UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s %s", e.Kind, e.ID)
}

type NoTeamMembersError struct {
	Team string
}

func (e NoTeamMembersError) Error() string {
	return fmt.Sprintf("team %s has no active members", e.Team)
}

// StaleItemError reports a lost advance race; the caller should re-read the
// item and retry.
type StaleItemError struct {
	ItemID string
}

func (e StaleItemError) Error() string {
	return fmt.Sprintf("item %s was modified concurrently; re-read and retry", e.ItemID)
}

type InvalidWorkflowError struct {
	WorkflowID string
	Reason     string
}

func (e InvalidWorkflowError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.WorkflowID, e.Reason)
}
