package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stitchline/internal/domain"
)

func linearWorkflow() domain.Workflow {
	return domain.Workflow{
		ID: "wf",
		Stages: []domain.Stage{
			{ID: "a", Name: "A", Actions: []domain.Action{
				{ID: "a-scan", Type: "scan", Required: true},
				{ID: "a-note", Type: "note", Required: false},
			}, AllowedNextStageIDs: []string{"b"}},
			{ID: "b", Name: "B", AllowedNextStageIDs: []string{"c", "a"}},
			{ID: "c", Name: "C"},
		},
	}
}

func TestCanAdvance(t *testing.T) {
	w := linearWorkflow()

	t.Run("allowed with evidence", func(t *testing.T) {
		assert.NoError(t, CanAdvance(w, "a", "b", []string{"a-scan"}))
	})

	t.Run("optional actions never gate", func(t *testing.T) {
		assert.NoError(t, CanAdvance(w, "a", "b", []string{"a-scan"}))
		err := CanAdvance(w, "a", "b", []string{"a-note"})
		var missing MissingRequiredActionError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"a-scan"}, missing.MissingActionIDs)
	})

	t.Run("not in allow list", func(t *testing.T) {
		err := CanAdvance(w, "a", "c", []string{"a-scan"})
		var bad InvalidTransitionError
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, "a", bad.FromStageID)
		assert.Equal(t, "c", bad.ToStageID)
	})

	t.Run("backward move is legal when listed", func(t *testing.T) {
		assert.NoError(t, CanAdvance(w, "b", "a", nil))
	})

	t.Run("unknown stages", func(t *testing.T) {
		var unknown UnknownReferenceError
		require.ErrorAs(t, CanAdvance(w, "zz", "b", nil), &unknown)
		assert.Equal(t, "stage", unknown.Kind)
		require.ErrorAs(t, CanAdvance(w, "a", "zz", []string{"a-scan"}), &unknown)
		assert.Equal(t, "zz", unknown.ID)
	})
}

func TestIsTerminal(t *testing.T) {
	w := linearWorkflow()
	a, _ := w.StageByID("a")
	c, _ := w.StageByID("c")
	assert.False(t, IsTerminal(a))
	assert.True(t, IsTerminal(c))
}

func TestValidateWorkflow(t *testing.T) {
	known := func(string) bool { return true }

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, ValidateWorkflow(linearWorkflow(), known))
	})

	t.Run("no stages", func(t *testing.T) {
		var empty EmptyWorkflowError
		require.ErrorAs(t, ValidateWorkflow(domain.Workflow{ID: "wf"}, known), &empty)
	})

	t.Run("duplicate stage ids", func(t *testing.T) {
		w := linearWorkflow()
		w.Stages = append(w.Stages, domain.Stage{ID: "a", Name: "dup"})
		var invalid InvalidWorkflowError
		require.ErrorAs(t, ValidateWorkflow(w, known), &invalid)
		assert.Contains(t, invalid.Reason, "duplicate stage id")
	})

	t.Run("dangling adjacency", func(t *testing.T) {
		w := linearWorkflow()
		w.Stages[0].AllowedNextStageIDs = []string{"ghost"}
		var invalid InvalidWorkflowError
		require.ErrorAs(t, ValidateWorkflow(w, known), &invalid)
		assert.Contains(t, invalid.Reason, "unknown stage ghost")
	})

	t.Run("duplicate action ids in a stage", func(t *testing.T) {
		w := linearWorkflow()
		w.Stages[0].Actions = append(w.Stages[0].Actions, domain.Action{ID: "a-scan", Type: "scan"})
		var invalid InvalidWorkflowError
		require.ErrorAs(t, ValidateWorkflow(w, known), &invalid)
	})

	t.Run("unknown action type", func(t *testing.T) {
		w := linearWorkflow()
		err := ValidateWorkflow(w, func(typ string) bool { return typ == "note" })
		var invalid InvalidWorkflowError
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, invalid.Reason, "unknown type scan")
	})

	t.Run("cycles are fine", func(t *testing.T) {
		w := domain.Workflow{ID: "wf", Stages: []domain.Stage{
			{ID: "x", AllowedNextStageIDs: []string{"y"}},
			{ID: "y", AllowedNextStageIDs: []string{"x"}},
		}}
		assert.NoError(t, ValidateWorkflow(w, known))
	})
}
