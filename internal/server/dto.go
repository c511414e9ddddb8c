package server

import (
	"stitchline/internal/domain"
)

// Request payloads

type StageRequest struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Color               string          `json:"color,omitempty"`
	Actions             []domain.Action `json:"actions,omitempty"`
	AllowedNextStageIDs []string        `json:"allowed_next_stage_ids,omitempty"`
}

type CreateWorkflowRequest struct {
	ID          *string        `json:"id,omitempty"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Stages      []StageRequest `json:"stages"`
}

type UpdateWorkflowRequest struct {
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	Stages      []StageRequest `json:"stages"`
}

type SubmitOrderRequest struct {
	ID         *string           `json:"id,omitempty"`
	WorkflowID string            `json:"workflow_id"`
	Customer   *string           `json:"customer,omitempty"`
	StartDate  *string           `json:"start_date,omitempty" format:"date-time"`
	ItemSpecs  []domain.ItemSpec `json:"item_specs"`
}

type RejectOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type AdvanceItemRequest struct {
	ToStageID          string   `json:"to_stage_id"`
	CompletedActionIDs []string `json:"completed_action_ids,omitempty"`
	ExpectedVersion    int64    `json:"expected_version,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

type RecordActionRequest struct {
	ActionID string         `json:"action_id"`
	Payload  map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type FlagDefectRequest struct {
	Notes string `json:"notes,omitempty"`
}

type PauseItemRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateTaskRequest struct {
	AssignTo    []string `json:"assign_to" minItems:"1" doc:"User ids and/or team-<name> entries; the whole batch is created atomically"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Priority    *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	ItemID      *string  `json:"item_id,omitempty"`
	WorkflowID  *string  `json:"workflow_id,omitempty"`
	StageID     *string  `json:"stage_id,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
}

type UpdateTaskRequest struct {
	Status      *string `json:"status,omitempty" enum:"pending,in_progress,completed,cancelled"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	Notes       *string `json:"notes,omitempty"`
}

type SaveUserRequest struct {
	Name     string `json:"name"`
	Team     string `json:"team,omitempty"`
	Role     string `json:"role,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type AcceptOrderResponse struct {
	Order domain.PurchaseOrder `json:"order"`
	Items []domain.Item        `json:"items"`
}

type WorkflowListResponse struct {
	Workflows []domain.Workflow `json:"workflows"`
}

type ItemListResponse struct {
	Items      []domain.Item `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type TaskListResponse struct {
	Tasks      []domain.Task `json:"tasks"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type EventListResponse struct {
	Events     []domain.Event `json:"events"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func stagesFromRequest(in []StageRequest) []domain.Stage {
	stages := make([]domain.Stage, 0, len(in))
	for _, s := range in {
		stages = append(stages, domain.Stage{
			ID:                  s.ID,
			Name:                s.Name,
			Color:               s.Color,
			Actions:             s.Actions,
			AllowedNextStageIDs: s.AllowedNextStageIDs,
		})
	}
	return stages
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
