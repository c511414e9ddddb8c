package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stitchline/internal/domain"
	"stitchline/internal/events"
	"stitchline/internal/repo"
)

// AssignmentTarget is either a single user or a whole team. The zero value is
// invalid; build one with Individual or Team.
type AssignmentTarget struct {
	UserID string
	Team   string
}

func Individual(userID string) AssignmentTarget { return AssignmentTarget{UserID: userID} }

func Team(name string) AssignmentTarget { return AssignmentTarget{Team: name} }

func (t AssignmentTarget) IsTeam() bool { return t.Team != "" }

func (t AssignmentTarget) String() string {
	if t.IsTeam() {
		return "team-" + t.Team
	}
	return t.UserID
}

// ParseTarget decodes the wire convention used by the API and CLI: a value
// prefixed "team-" addresses a team, anything else is a user id. The prefix
// lives only at this boundary; below it the two cases are distinct fields.
func ParseTarget(s string) (AssignmentTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AssignmentTarget{}, errors.New("assignment target is empty")
	}
	if name, ok := strings.CutPrefix(s, "team-"); ok {
		if name == "" {
			return AssignmentTarget{}, errors.New("team name is empty")
		}
		return Team(name), nil
	}
	return Individual(s), nil
}

// TaskInput carries the caller-supplied fields for task creation.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     *string
	ItemID      *string
	WorkflowID  *string
	StageID     *string
	Notes       string
}

// CreateTasks assigns a task described by in to each target, in the order
// supplied. An individual target yields one task; a team target fans out one
// identical task per active member. The whole batch runs in one transaction:
// an unknown user or a team with no active members anywhere in the batch
// creates nothing, rather than leaving a partial fan-out behind.
func (e Engine) CreateTasks(ctx context.Context, targets []AssignmentTarget, in TaskInput, actorID string) ([]domain.Task, error) {
	if len(targets) == 0 {
		return nil, errors.New("at least one assignment target is required")
	}
	if in.Title == "" {
		return nil, errors.New("title is required")
	}
	priority := in.Priority
	if priority == "" && e.Config != nil {
		priority = e.Config.DefaultPriority()
	}
	if priority == "" {
		priority = "medium"
	}
	if err := validPriority(priority); err != nil {
		return nil, err
	}
	if err := e.checkTaskRefs(ctx, in); err != nil {
		return nil, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	type assignment struct {
		userID string
		team   string
	}
	var assignments []assignment
	for _, target := range targets {
		if target.IsTeam() {
			members, err := e.Repo.TeamMembersTx(ctx, tx, target.Team)
			if err != nil {
				return nil, err
			}
			if len(members) == 0 {
				return nil, NoTeamMembersError{Team: target.Team}
			}
			for _, m := range members {
				assignments = append(assignments, assignment{userID: m.ID, team: target.Team})
			}
			continue
		}
		u, err := e.Repo.GetUser(ctx, target.UserID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, UnknownReferenceError{Kind: "user", ID: target.UserID}
			}
			return nil, err
		}
		assignments = append(assignments, assignment{userID: u.ID})
	}

	now := e.nowString()
	tasks := make([]domain.Task, 0, len(assignments))
	for _, a := range assignments {
		t := domain.Task{
			ID:           uuid.New().String(),
			Title:        in.Title,
			Description:  in.Description,
			AssignedTo:   a.userID,
			AssignedTeam: a.team,
			AssignedBy:   actorID,
			Status:       "pending",
			Priority:     priority,
			DueDate:      in.DueDate,
			ItemID:       in.ItemID,
			WorkflowID:   in.WorkflowID,
			StageID:      in.StageID,
			Notes:        in.Notes,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, actorID, events.EventPayload{
			"assigned_to":   a.userID,
			"assigned_team": a.team,
			"title":         t.Title,
		}); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTaskStatus sets a task's status. Any ordering of statuses is
// accepted; a cancelled task may be reopened, a completed one reworked.
func (e Engine) UpdateTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	if err := validTaskStatus(status); err != nil {
		return domain.Task{}, err
	}
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) {
		t.Status = status
		if status == "completed" {
			done := e.nowString()
			t.CompletedAt = &done
		} else {
			t.CompletedAt = nil
		}
	})
}

// TaskUpdate carries optional field changes; nil means leave as is.
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *string
	DueDate     *string
	Notes       *string
}

func (e Engine) UpdateTask(ctx context.Context, taskID string, upd TaskUpdate, actorID string) (domain.Task, error) {
	if upd.Priority != nil {
		if err := validPriority(*upd.Priority); err != nil {
			return domain.Task{}, err
		}
	}
	return e.mutateTask(ctx, taskID, actorID, func(t *domain.Task) {
		if upd.Title != nil {
			t.Title = *upd.Title
		}
		if upd.Description != nil {
			t.Description = *upd.Description
		}
		if upd.Priority != nil {
			t.Priority = *upd.Priority
		}
		if upd.DueDate != nil {
			t.DueDate = optionalString(*upd.DueDate)
		}
		if upd.Notes != nil {
			t.Notes = *upd.Notes
		}
	})
}

func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return UnknownReferenceError{Kind: "task", ID: taskID}
		}
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", "task", taskID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskStats aggregates task counts for a user or a team. Team stats count
// the assigned_team recorded at creation, so members who later switch teams
// keep their in-flight tasks in the old team's numbers.
func (e Engine) TaskStats(ctx context.Context, target AssignmentTarget) (domain.TaskStats, error) {
	if target.IsTeam() {
		return e.Repo.TaskStatsFor(ctx, "", target.Team, e.now())
	}
	return e.Repo.TaskStatsFor(ctx, target.UserID, "", e.now())
}

func (e Engine) mutateTask(ctx context.Context, taskID, actorID string, mutate func(*domain.Task)) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, UnknownReferenceError{Kind: "task", ID: taskID}
		}
		return domain.Task{}, err
	}
	mutate(&t)
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", t.ID, actorID, events.EventPayload{
		"status":   t.Status,
		"priority": t.Priority,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// checkTaskRefs verifies the optional item, workflow and stage references so a
// task never points at records that were never there.
func (e Engine) checkTaskRefs(ctx context.Context, in TaskInput) error {
	if in.ItemID != nil && *in.ItemID != "" {
		if _, err := e.Repo.GetItem(ctx, *in.ItemID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return UnknownReferenceError{Kind: "item", ID: *in.ItemID}
			}
			return err
		}
	}
	if in.WorkflowID != nil && *in.WorkflowID != "" {
		w, err := e.Repo.GetWorkflow(ctx, *in.WorkflowID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return UnknownReferenceError{Kind: "workflow", ID: *in.WorkflowID}
			}
			return err
		}
		if in.StageID != nil && *in.StageID != "" {
			if _, ok := w.StageByID(*in.StageID); !ok {
				return UnknownReferenceError{Kind: "stage", ID: *in.StageID}
			}
		}
	}
	return nil
}

func validPriority(p string) error {
	switch p {
	case "low", "medium", "high", "urgent":
		return nil
	}
	return fmt.Errorf("priority %q is not one of low, medium, high, urgent", p)
}

func validTaskStatus(s string) error {
	switch s {
	case "pending", "in_progress", "completed", "cancelled":
		return nil
	}
	return fmt.Errorf("status %q is not one of pending, in_progress, completed, cancelled", s)
}
