package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stitchline/internal/config"
	"stitchline/internal/db"
	"stitchline/internal/domain"
	"stitchline/internal/engine"
	"stitchline/internal/migrate"
	"stitchline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("test-site")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// garmentWorkflow is cut -> sew -> qc -> pack with a qc -> sew rework loop.
// Cut requires a scan, qc requires an inspection, pack is terminal.
func garmentWorkflow() domain.Workflow {
	return domain.Workflow{
		Name: "Basic garment",
		Stages: []domain.Stage{
			{
				ID:   "cut",
				Name: "Cutting",
				Actions: []domain.Action{
					{ID: "cut-scan", Type: "scan", Required: true},
				},
				AllowedNextStageIDs: []string{"sew"},
			},
			{
				ID:                  "sew",
				Name:                "Sewing",
				AllowedNextStageIDs: []string{"qc"},
			},
			{
				ID:   "qc",
				Name: "Quality",
				Actions: []domain.Action{
					{ID: "qc-inspect", Type: "inspection", Required: true},
					{ID: "qc-photo", Type: "photo", Required: false},
				},
				AllowedNextStageIDs: []string{"pack", "sew"},
			},
			{
				ID:   "pack",
				Name: "Packing",
			},
		},
	}
}

func setupWorkflowAndItems(t *testing.T, env testEnv, count int) (domain.Workflow, []domain.Item) {
	t.Helper()
	w, err := env.Engine.CreateWorkflow(env.Ctx, garmentWorkflow(), "tester")
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	po, err := env.Engine.SubmitOrder(env.Ctx, domain.PurchaseOrder{
		WorkflowID: w.ID,
		Customer:   "Acme Apparel",
		ItemSpecs:  []domain.ItemSpec{{Count: count}},
	}, "tester")
	if err != nil {
		t.Fatalf("submit order: %v", err)
	}
	_, items, err := env.Engine.AcceptOrder(env.Ctx, po.ID, "tester")
	if err != nil {
		t.Fatalf("accept order: %v", err)
	}
	return w, items
}

func TestAcceptOrderCreatesItems(t *testing.T) {
	env := newTestEnv(t)
	w, items := setupWorkflowAndItems(t, env, 3)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for _, it := range items {
		if it.CurrentStageID != "cut" {
			t.Fatalf("item %s starts at %s, want cut", it.ID, it.CurrentStageID)
		}
		if it.Status != "active" || it.Version != 1 || it.StageVisit != 1 {
			t.Fatalf("item %s has wrong initial state: %+v", it.ID, it)
		}
	}
	po, err := env.Engine.Repo.GetOrder(env.Ctx, items[0].OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if po.Status != "accepted" || po.WorkflowID != w.ID {
		t.Fatalf("order not accepted: %+v", po)
	}
}

func TestRejectedOrderCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, garmentWorkflow(), "tester")
	if err != nil {
		t.Fatal(err)
	}
	po, err := env.Engine.SubmitOrder(env.Ctx, domain.PurchaseOrder{
		WorkflowID: w.ID,
		ItemSpecs:  []domain.ItemSpec{{Count: 2}},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	rejected, err := env.Engine.RejectOrder(env.Ctx, po.ID, "fabric not in stock", "tester")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != "rejected" || rejected.RejectReason != "fabric not in stock" {
		t.Fatalf("unexpected order state: %+v", rejected)
	}
	usage, err := env.Engine.WorkflowUsage(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if usage.ActiveItemCount != 0 {
		t.Fatalf("rejected order should create no items, got %d", usage.ActiveItemCount)
	}
	// a decided order cannot flip
	if _, _, err := env.Engine.AcceptOrder(env.Ctx, po.ID, "tester"); err == nil {
		t.Fatal("expected accept of rejected order to fail")
	}
}

func TestAdvanceRequiresActions(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	it := items[0]

	_, err := env.Engine.AdvanceItem(env.Ctx, it.ID, "sew", nil, 0, "", "tester")
	var missing engine.MissingRequiredActionError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing action error, got %v", err)
	}
	if len(missing.MissingActionIDs) != 1 || missing.MissingActionIDs[0] != "cut-scan" {
		t.Fatalf("unexpected missing ids: %v", missing.MissingActionIDs)
	}

	if _, err := env.Engine.RecordAction(env.Ctx, it.ID, "cut-scan", nil, "tester"); err != nil {
		t.Fatalf("record action: %v", err)
	}
	moved, err := env.Engine.AdvanceItem(env.Ctx, it.ID, "sew", nil, 0, "", "tester")
	if err != nil {
		t.Fatalf("advance after recording: %v", err)
	}
	if moved.CurrentStageID != "sew" || moved.Version != 2 || moved.StageVisit != 2 {
		t.Fatalf("unexpected state after advance: %+v", moved)
	}
}

func TestAdvanceWithInlineEvidence(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	moved, err := env.Engine.AdvanceItem(env.Ctx, items[0].ID, "sew", []string{"cut-scan"}, 0, "", "tester")
	if err != nil {
		t.Fatalf("advance with inline evidence: %v", err)
	}
	if moved.CurrentStageID != "sew" {
		t.Fatalf("item stayed at %s", moved.CurrentStageID)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	_, err := env.Engine.AdvanceItem(env.Ctx, items[0].ID, "pack", []string{"cut-scan"}, 0, "", "tester")
	var bad engine.InvalidTransitionError
	if !errors.As(err, &bad) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if bad.FromStageID != "cut" || bad.ToStageID != "pack" {
		t.Fatalf("unexpected transition error: %+v", bad)
	}
}

func TestReworkLoopResetsEvidence(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	id := items[0].ID

	mustAdvance := func(to string, done []string) domain.Item {
		t.Helper()
		it, err := env.Engine.AdvanceItem(env.Ctx, id, to, done, 0, "", "tester")
		if err != nil {
			t.Fatalf("advance to %s: %v", to, err)
		}
		return it
	}

	mustAdvance("sew", []string{"cut-scan"})
	mustAdvance("qc", nil)
	mustAdvance("sew", []string{"qc-inspect"}) // rework: backward move allowed by qc's list
	it := mustAdvance("qc", nil)
	if it.StageVisit != 5 {
		t.Fatalf("expected stage visit 5, got %d", it.StageVisit)
	}

	// the inspection recorded on the first qc visit must not satisfy this one
	_, err := env.Engine.AdvanceItem(env.Ctx, id, "pack", nil, 0, "", "tester")
	var missing engine.MissingRequiredActionError
	if !errors.As(err, &missing) {
		t.Fatalf("expected fresh inspection requirement, got %v", err)
	}
}

func TestTerminalStageCompletesItem(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	id := items[0].ID

	for _, step := range []struct {
		to   string
		done []string
	}{
		{"sew", []string{"cut-scan"}},
		{"qc", nil},
		{"pack", []string{"qc-inspect"}},
	} {
		if _, err := env.Engine.AdvanceItem(env.Ctx, id, step.to, step.done, 0, "", "tester"); err != nil {
			t.Fatalf("advance to %s: %v", step.to, err)
		}
	}

	it, err := env.Engine.Repo.GetItem(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if it.Status != "completed" || it.CompletedAt == nil {
		t.Fatalf("item not completed: %+v", it)
	}

	// completed items are frozen
	_, err = env.Engine.AdvanceItem(env.Ctx, id, "sew", nil, 0, "", "tester")
	var notActive engine.ItemNotActiveError
	if !errors.As(err, &notActive) {
		t.Fatalf("expected not-active error, got %v", err)
	}

	evts, err := env.Engine.Repo.ItemHistory(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	var sawCompleted bool
	for _, ev := range evts {
		if ev.Type == "item.completed" {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Fatal("history missing item.completed event")
	}
	if evts[0].Type != "item.created" {
		t.Fatalf("history should start with item.created, got %s", evts[0].Type)
	}
}

func TestStaleVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	id := items[0].ID

	if _, err := env.Engine.AdvanceItem(env.Ctx, id, "sew", []string{"cut-scan"}, 1, "", "tester"); err != nil {
		t.Fatalf("first advance: %v", err)
	}
	// a second caller still holding version 1 must lose
	_, err := env.Engine.AdvanceItem(env.Ctx, id, "qc", nil, 1, "", "tester")
	var stale engine.StaleItemError
	if !errors.As(err, &stale) {
		t.Fatalf("expected stale conflict, got %v", err)
	}
}

func TestPauseResumeAndDefect(t *testing.T) {
	env := newTestEnv(t)
	_, items := setupWorkflowAndItems(t, env, 1)
	id := items[0].ID

	if _, err := env.Engine.PauseItem(env.Ctx, id, "machine down", "tester"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := env.Engine.AdvanceItem(env.Ctx, id, "sew", []string{"cut-scan"}, 0, "", "tester"); err == nil {
		t.Fatal("paused item must not advance")
	}
	if _, err := env.Engine.RecordAction(env.Ctx, id, "cut-scan", nil, "tester"); err == nil {
		t.Fatal("paused item must not record actions")
	}
	if _, err := env.Engine.ResumeItem(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	it, err := env.Engine.FlagDefective(env.Ctx, id, "loose seam", "tester")
	if err != nil {
		t.Fatalf("flag defective: %v", err)
	}
	if !it.IsDefective || it.DefectNotes != "loose seam" {
		t.Fatalf("defect flag not set: %+v", it)
	}
	// defective items keep moving
	if _, err := env.Engine.AdvanceItem(env.Ctx, id, "sew", []string{"cut-scan"}, 0, "rework", "tester"); err != nil {
		t.Fatalf("defective item should still advance: %v", err)
	}
}

func TestTeamFanOut(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []domain.User{
		{ID: "maria", Name: "Maria", Team: "sewing", IsActive: true},
		{ID: "li", Name: "Li", Team: "sewing", IsActive: true},
		{ID: "amir", Name: "Amir", Team: "sewing", IsActive: true},
		{ID: "noor", Name: "Noor", Team: "sewing", IsActive: false},
	} {
		if _, err := env.Engine.SaveUser(env.Ctx, u); err != nil {
			t.Fatalf("save user %s: %v", u.ID, err)
		}
	}

	tasks, err := env.Engine.CreateTasks(env.Ctx, []engine.AssignmentTarget{engine.Team("sewing")}, engine.TaskInput{
		Title: "Clear the backlog",
	}, "supervisor")
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks for the 3 active members, got %d", len(tasks))
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		seen[task.AssignedTo] = true
		if task.AssignedTeam != "sewing" {
			t.Fatalf("task missing team snapshot: %+v", task)
		}
		if task.Title != "Clear the backlog" || task.Status != "pending" || task.Priority != "medium" {
			t.Fatalf("fan-out task differs: %+v", task)
		}
	}
	if seen["noor"] {
		t.Fatal("inactive member received a task")
	}
}

func TestEmptyTeamFanOutFails(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTasks(env.Ctx, []engine.AssignmentTarget{engine.Team("cutting")}, engine.TaskInput{
		Title: "Nobody home",
	}, "supervisor")
	var noMembers engine.NoTeamMembersError
	if !errors.As(err, &noMembers) {
		t.Fatalf("expected no-members error, got %v", err)
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{AssignedTeam: "cutting"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("failed fan-out must create nothing, got %d tasks", len(tasks))
	}
}

func TestTeamStatsUseSnapshot(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveUser(env.Ctx, domain.User{ID: "maria", Name: "Maria", Team: "sewing", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.CreateTasks(env.Ctx, []engine.AssignmentTarget{engine.Team("sewing")}, engine.TaskInput{Title: "Hem run"}, "supervisor")
	if err != nil || len(tasks) != 1 {
		t.Fatalf("fan out: %v", err)
	}
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, tasks[0].ID, "completed", "maria"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Maria moves teams; her finished task stays in sewing's numbers.
	if _, err := env.Engine.SaveUser(env.Ctx, domain.User{ID: "maria", Name: "Maria", Team: "quality", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	stats, err := env.Engine.TaskStats(env.Ctx, engine.Team("sewing"))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Fatalf("snapshot stats wrong: %+v", stats)
	}
	qualityStats, err := env.Engine.TaskStats(env.Ctx, engine.Team("quality"))
	if err != nil {
		t.Fatal(err)
	}
	if qualityStats.Total != 0 {
		t.Fatalf("quality should have no tasks, got %+v", qualityStats)
	}
}

func TestTaskStatusIsPermissive(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveUser(env.Ctx, domain.User{ID: "li", Name: "Li", Team: "sewing", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	tasks, err := env.Engine.CreateTasks(env.Ctx, []engine.AssignmentTarget{engine.Individual("li")}, engine.TaskInput{Title: "Fix bobbin"}, "supervisor")
	if err != nil {
		t.Fatal(err)
	}
	id := tasks[0].ID
	for _, status := range []string{"completed", "pending", "cancelled", "in_progress"} {
		task, err := env.Engine.UpdateTaskStatus(env.Ctx, id, status, "li")
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if task.Status != status {
			t.Fatalf("status not applied: %+v", task)
		}
		if status == "completed" && task.CompletedAt == nil {
			t.Fatal("completed task missing completed_at")
		}
		if status != "completed" && task.CompletedAt != nil {
			t.Fatalf("reopened task kept completed_at: %+v", task)
		}
	}
}

func TestUsageGatingBlocksDeleteAndDeactivate(t *testing.T) {
	env := newTestEnv(t)
	w, items := setupWorkflowAndItems(t, env, 2)

	var inUse engine.WorkflowInUseError
	if err := env.Engine.DeleteWorkflow(env.Ctx, w.ID, "tester"); !errors.As(err, &inUse) {
		t.Fatalf("expected in-use error, got %v", err)
	}
	if len(inUse.ActiveItemIDs) != 2 {
		t.Fatalf("in-use error should list both items: %v", inUse.ActiveItemIDs)
	}
	if _, err := env.Engine.DeactivateWorkflow(env.Ctx, w.ID, "tester"); !errors.As(err, &inUse) {
		t.Fatalf("deactivate should also be blocked, got %v", err)
	}

	// paused items still count as active
	if _, err := env.Engine.PauseItem(env.Ctx, items[0].ID, "", "tester"); err != nil {
		t.Fatal(err)
	}
	usage, err := env.Engine.WorkflowUsage(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if usage.ActiveItemCount != 2 {
		t.Fatalf("paused item left the active count: %+v", usage)
	}

	// run both items to completion, then the gate opens
	if _, err := env.Engine.ResumeItem(env.Ctx, items[0].ID, "tester"); err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		for _, step := range []struct {
			to   string
			done []string
		}{
			{"sew", []string{"cut-scan"}},
			{"qc", nil},
			{"pack", []string{"qc-inspect"}},
		} {
			if _, err := env.Engine.AdvanceItem(env.Ctx, it.ID, step.to, step.done, 0, "", "tester"); err != nil {
				t.Fatalf("advance %s to %s: %v", it.ID, step.to, err)
			}
		}
	}
	usage, err = env.Engine.WorkflowUsage(env.Ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if usage.ActiveItemCount != 0 || usage.CompletedItemCount != 2 {
		t.Fatalf("usage after completion: %+v", usage)
	}
	if _, err := env.Engine.DeactivateWorkflow(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("deactivate after completion: %v", err)
	}
	if err := env.Engine.DeleteWorkflow(env.Ctx, w.ID, "tester"); err != nil {
		t.Fatalf("delete after completion: %v", err)
	}

	// completed items and their history outlive the workflow row
	for _, it := range items {
		got, err := env.Engine.Repo.GetItem(env.Ctx, it.ID)
		if err != nil {
			t.Fatalf("item %s gone after workflow delete: %v", it.ID, err)
		}
		if got.Status != "completed" {
			t.Fatalf("item %s status after workflow delete: %+v", it.ID, got)
		}
		evts, err := env.Engine.Repo.ItemHistory(env.Ctx, it.ID)
		if err != nil || len(evts) == 0 {
			t.Fatalf("history %s after workflow delete: %d events, %v", it.ID, len(evts), err)
		}
	}
	po, err := env.Engine.Repo.GetOrder(env.Ctx, items[0].OrderID)
	if err != nil {
		t.Fatalf("order gone after workflow delete: %v", err)
	}
	if po.Status != "accepted" {
		t.Fatalf("order status after workflow delete: %+v", po)
	}
}

func TestMixedTargetBatchIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveUser(env.Ctx, domain.User{ID: "maria", Name: "Maria", Team: "sewing", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveUser(env.Ctx, domain.User{ID: "li", Name: "Li", Team: "sewing", IsActive: true}); err != nil {
		t.Fatal(err)
	}

	// the cutting team is empty, so the whole batch must fail
	targets := []engine.AssignmentTarget{engine.Individual("maria"), engine.Team("cutting")}
	var noMembers engine.NoTeamMembersError
	if _, err := env.Engine.CreateTasks(env.Ctx, targets, engine.TaskInput{Title: "Morning run"}, "supervisor"); !errors.As(err, &noMembers) {
		t.Fatalf("expected no-team-members, got %v", err)
	}
	leaked, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{AssignedTo: "maria"})
	if err != nil {
		t.Fatal(err)
	}
	if len(leaked) != 0 {
		t.Fatalf("failed batch left %d tasks behind", len(leaked))
	}

	// a valid mixed batch creates tasks in target order
	targets = []engine.AssignmentTarget{engine.Individual("maria"), engine.Team("sewing")}
	tasks, err := env.Engine.CreateTasks(env.Ctx, targets, engine.TaskInput{Title: "Morning run"}, "supervisor")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks (1 individual + 2 team), got %d", len(tasks))
	}
	if tasks[0].AssignedTo != "maria" || tasks[0].AssignedTeam != "" {
		t.Fatalf("individual target first: %+v", tasks[0])
	}
	for _, task := range tasks[1:] {
		if task.AssignedTeam != "sewing" {
			t.Fatalf("team task missing snapshot: %+v", task)
		}
	}

	if _, err := env.Engine.CreateTasks(env.Ctx, nil, engine.TaskInput{Title: "No one"}, "supervisor"); err == nil {
		t.Fatal("empty target list must fail")
	}
}

func TestOverdueHonorsZoneOffsets(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SaveUser(env.Ctx, domain.User{ID: "maria", Name: "Maria", Team: "sewing", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	// now is fixed at 2024-01-01T00:00:00Z; the first due date is one hour
	// in the past despite sorting after it as a string, the second is one
	// hour in the future despite sorting before it.
	past := "2024-01-01T04:00:00+05:00"
	future := "2023-12-31T22:00:00-03:00"
	for _, due := range []string{past, future} {
		d := due
		if _, err := env.Engine.CreateTasks(env.Ctx, []engine.AssignmentTarget{engine.Individual("maria")},
			engine.TaskInput{Title: "Press order", DueDate: &d}, "supervisor"); err != nil {
			t.Fatal(err)
		}
	}
	stats, err := env.Engine.TaskStats(env.Ctx, engine.Individual("maria"))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Overdue != 1 {
		t.Fatalf("expected 1 of 2 overdue, got %+v", stats)
	}
}

func TestSubmitOrderRejectsNonPositiveCounts(t *testing.T) {
	env := newTestEnv(t)
	w, err := env.Engine.CreateWorkflow(env.Ctx, garmentWorkflow(), "tester")
	if err != nil {
		t.Fatal(err)
	}
	for _, count := range []int{0, -2} {
		_, err := env.Engine.SubmitOrder(env.Ctx, domain.PurchaseOrder{
			WorkflowID: w.ID,
			ItemSpecs:  []domain.ItemSpec{{Count: count}},
		}, "tester")
		if err == nil {
			t.Fatalf("count %d must be rejected", count)
		}
	}
}

func TestParseTarget(t *testing.T) {
	target, err := engine.ParseTarget("team-sewing")
	if err != nil || !target.IsTeam() || target.Team != "sewing" {
		t.Fatalf("team parse: %+v %v", target, err)
	}
	target, err = engine.ParseTarget("maria")
	if err != nil || target.IsTeam() || target.UserID != "maria" {
		t.Fatalf("user parse: %+v %v", target, err)
	}
	if _, err := engine.ParseTarget(""); err == nil {
		t.Fatal("empty target must fail")
	}
	if _, err := engine.ParseTarget("team-"); err == nil {
		t.Fatal("empty team name must fail")
	}
}
