package engine

import (
	"fmt"

	"stitchline/internal/domain"
)

// CanAdvance decides whether an item sitting at fromStageID may move to
// toStageID given the action completions recorded so far. It is pure: no
// store access, no side effects. Backward and sideways moves are legal
// whenever the stage's allow-list names them; the graph may be cyclic.
func CanAdvance(w domain.Workflow, fromStageID, toStageID string, completedActionIDs []string) error {
	from, ok := w.StageByID(fromStageID)
	if !ok {
		return UnknownReferenceError{Kind: "stage", ID: fromStageID}
	}
	if _, ok := w.StageByID(toStageID); !ok {
		return UnknownReferenceError{Kind: "stage", ID: toStageID}
	}
	allowed := false
	for _, next := range from.AllowedNextStageIDs {
		if next == toStageID {
			allowed = true
			break
		}
	}
	if !allowed {
		return InvalidTransitionError{FromStageID: fromStageID, ToStageID: toStageID}
	}
	completed := make(map[string]bool, len(completedActionIDs))
	for _, id := range completedActionIDs {
		completed[id] = true
	}
	var missing []string
	for _, a := range from.Actions {
		if a.Required && !completed[a.ID] {
			missing = append(missing, a.ID)
		}
	}
	if len(missing) > 0 {
		return MissingRequiredActionError{StageID: fromStageID, MissingActionIDs: missing}
	}
	return nil
}

// IsTerminal reports whether a stage has no legal forward transition.
// Items arriving at a terminal stage are completed by the lifecycle manager.
func IsTerminal(s domain.Stage) bool {
	return len(s.AllowedNextStageIDs) == 0
}

// ValidateWorkflow checks the structural invariants of a stage graph:
// at least one stage, unique stage ids, adjacency entries referencing stages
// in the same workflow, unique action ids per stage, and action types drawn
// from the catalog (knownActionType may be nil to skip catalog checks).
func ValidateWorkflow(w domain.Workflow, knownActionType func(string) bool) error {
	if len(w.Stages) == 0 {
		return EmptyWorkflowError{WorkflowID: w.ID}
	}
	stageIDs := make(map[string]bool, len(w.Stages))
	for _, s := range w.Stages {
		if s.ID == "" {
			return InvalidWorkflowError{WorkflowID: w.ID, Reason: "stage with empty id"}
		}
		if stageIDs[s.ID] {
			return InvalidWorkflowError{WorkflowID: w.ID, Reason: fmt.Sprintf("duplicate stage id %s", s.ID)}
		}
		stageIDs[s.ID] = true
	}
	for _, s := range w.Stages {
		seenActions := make(map[string]bool, len(s.Actions))
		for _, a := range s.Actions {
			if a.ID == "" {
				return InvalidWorkflowError{WorkflowID: w.ID, Reason: fmt.Sprintf("stage %s has an action with empty id", s.ID)}
			}
			if seenActions[a.ID] {
				return InvalidWorkflowError{WorkflowID: w.ID, Reason: fmt.Sprintf("stage %s has duplicate action id %s", s.ID, a.ID)}
			}
			seenActions[a.ID] = true
			if knownActionType != nil && !knownActionType(a.Type) {
				return InvalidWorkflowError{WorkflowID: w.ID, Reason: fmt.Sprintf("stage %s action %s has unknown type %s", s.ID, a.ID, a.Type)}
			}
		}
		for _, next := range s.AllowedNextStageIDs {
			if !stageIDs[next] {
				return InvalidWorkflowError{WorkflowID: w.ID, Reason: fmt.Sprintf("stage %s allows transition to unknown stage %s", s.ID, next)}
			}
		}
	}
	return nil
}
