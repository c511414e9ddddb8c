package domain

// Action is a unit of work required (or optional) within a stage.
type Action struct {
	ID       string         `json:"id"`
	Type     string         `json:"type" enum:"scan,photo,note,approval,measurement,inspection"`
	Label    string         `json:"label,omitempty"`
	Required bool           `json:"required"`
	Config   map[string]any `json:"config,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// Stage is a node in a workflow's stage graph. AllowedNextStageIDs is the
// transition authority; the stage order in Workflow.Stages is display only.
// An empty AllowedNextStageIDs marks a terminal stage.
type Stage struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Color               string   `json:"color,omitempty"`
	Actions             []Action `json:"actions,omitempty"`
	AllowedNextStageIDs []string `json:"allowed_next_stage_ids,omitempty"`
}

type Workflow struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Stages      []Stage `json:"stages"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// FirstStage returns the entry stage (order 0). ok is false for an empty
// workflow.
func (w Workflow) FirstStage() (Stage, bool) {
	if len(w.Stages) == 0 {
		return Stage{}, false
	}
	return w.Stages[0], true
}

// StageByID looks up a stage by its id.
func (w Workflow) StageByID(id string) (Stage, bool) {
	for _, s := range w.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// Item is a single tracked garment. Version guards concurrent advancement;
// StageVisit counts stage arrivals so evidence resets on rework loops.
type Item struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	OrderID        string         `json:"order_id,omitempty"`
	CurrentStageID string         `json:"current_stage_id"`
	Status         string         `json:"status" enum:"active,paused,completed,error"`
	IsDefective    bool           `json:"is_defective"`
	DefectNotes    string         `json:"defect_notes,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Version        int64          `json:"version"`
	StageVisit     int64          `json:"stage_visit"`
	StartedAt      string         `json:"started_at" format:"date-time"`
	CompletedAt    *string        `json:"completed_at,omitempty" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

// ActionCompletion is recorded evidence that an action was performed for an
// item during a particular stage visit.
type ActionCompletion struct {
	ID         string         `json:"id"`
	ItemID     string         `json:"item_id"`
	StageID    string         `json:"stage_id"`
	ActionID   string         `json:"action_id"`
	StageVisit int64          `json:"stage_visit"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
	RecordedAt string         `json:"recorded_at" format:"date-time"`
}

// Task is always assigned to exactly one user. AssignedTeam records the team
// the task was fanned out under, if any; team stats aggregate on this
// snapshot rather than live membership.
type Task struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	AssignedTo   string  `json:"assigned_to"`
	AssignedTeam string  `json:"assigned_team,omitempty"`
	AssignedBy   string  `json:"assigned_by"`
	Status       string  `json:"status" enum:"pending,in_progress,completed,cancelled"`
	Priority     string  `json:"priority" enum:"low,medium,high,urgent"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
	ItemID       *string `json:"item_id,omitempty"`
	WorkflowID   *string `json:"workflow_id,omitempty"`
	StageID      *string `json:"stage_id,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Team      string `json:"team,omitempty"`
	Role      string `json:"role,omitempty"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ItemSpec describes items to be created when an order is accepted.
type ItemSpec struct {
	Count    int            `json:"count"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type PurchaseOrder struct {
	ID           string     `json:"id"`
	WorkflowID   string     `json:"workflow_id"`
	Customer     string     `json:"customer,omitempty"`
	StartDate    string     `json:"start_date" format:"date-time"`
	Status       string     `json:"status" enum:"pending,accepted,rejected"`
	RejectReason string     `json:"reject_reason,omitempty"`
	ItemSpecs    []ItemSpec `json:"item_specs"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	DecidedAt    *string    `json:"decided_at,omitempty" format:"date-time"`
}

// Event is an append-only audit row. Item history views are ordered reads of
// these rows, never reconstructed from mutable item state.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TaskStats is the per-user or per-team rollup consumed by dashboards.
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	Overdue    int `json:"overdue"`
}

// WorkflowUsage reports items referencing a workflow, partitioned by status.
type WorkflowUsage struct {
	WorkflowID         string `json:"workflow_id"`
	ActiveItemCount    int    `json:"active_item_count"`
	ActiveItems        []Item `json:"active_items"`
	CompletedItemCount int    `json:"completed_item_count"`
}
