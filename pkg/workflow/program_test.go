package workflow

import (
	"testing"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func email(id string) models.Action {
	return models.Action{ID: id, Spec: models.SendEmail{Message: models.Message{BodyTemplate: "hi", RecipientPath: "user.email"}}}
}

func TestCompile_LinearSequence(t *testing.T) {
	program, err := Compile(&models.WorkflowDefinition{ID: "wf", Version: 2, Actions: []models.Action{
		{ID: "wait", Spec: models.Delay{Hours: 1}},
		email("send"),
	}})
	require.NoError(t, err)

	assert.Equal(t, "wf", program.WorkflowID)
	assert.Equal(t, 2, program.Version)
	require.Equal(t, 2, program.Len())
	assert.Equal(t, OpAction, program.Instructions[0].Op)
	assert.Equal(t, "send", program.Instructions[1].ActionID())
}

func TestCompile_BranchLayout(t *testing.T) {
	program, err := Compile(&models.WorkflowDefinition{Actions: []models.Action{
		{ID: "check", Spec: models.Branch{
			Conditions:   []models.Condition{{Field: "a", Operator: models.OperatorExists}},
			TrueActions:  []models.Action{email("t1"), email("t2")},
			FalseActions: []models.Action{email("f1")},
		}},
		email("after"),
	}})
	require.NoError(t, err)

	// 0 branch, 1 t1, 2 t2, 3 jump, 4 f1, 5 after
	require.Equal(t, 6, program.Len())

	branch := program.Instructions[0]
	assert.Equal(t, OpBranch, branch.Op)
	assert.Equal(t, 4, branch.FalseTarget)
	assert.Equal(t, 5, branch.End)

	jump := program.Instructions[3]
	assert.Equal(t, OpJump, jump.Op)
	assert.Equal(t, 5, jump.Target)

	assert.Equal(t, "0.false.0", program.Instructions[4].Path)
	assert.Equal(t, "after", program.Instructions[5].ActionID())
}

func TestCompile_BranchWithoutFalseActions(t *testing.T) {
	program, err := Compile(&models.WorkflowDefinition{Actions: []models.Action{
		{Spec: models.Branch{TrueActions: []models.Action{email("t1")}}},
	}})
	require.NoError(t, err)

	require.Equal(t, 2, program.Len())
	assert.Equal(t, 2, program.Instructions[0].FalseTarget)
	assert.Equal(t, 2, program.Instructions[0].End)
	assert.Equal(t, "0", program.Instructions[0].ActionID())
}

func TestCompile_JumpsOnlyGoForward(t *testing.T) {
	for _, wf := range PredefinedWorkflows(time.Now()) {
		program, err := Compile(wf)
		require.NoError(t, err, wf.Key)

		for pc, ins := range program.Instructions {
			switch ins.Op {
			case OpBranch:
				assert.Greater(t, ins.FalseTarget, pc)
				assert.GreaterOrEqual(t, ins.End, ins.FalseTarget)
				assert.LessOrEqual(t, ins.End, program.Len())
			case OpJump:
				assert.Greater(t, ins.Target, pc)
			case OpAction:
			}
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		actions []models.Action
		message string
	}{
		{name: "empty", actions: nil, message: "no actions"},
		{name: "missing type", actions: []models.Action{{ID: "a"}}, message: "missing type"},
		{name: "duplicate id", actions: []models.Action{email("a"), email("a")}, message: "duplicate id"},
		{name: "negative delay", actions: []models.Action{{Spec: models.Delay{Hours: -1}}}, message: "negative"},
		{
			name: "bad operator",
			actions: []models.Action{{Spec: models.Branch{
				Conditions: []models.Condition{{Field: "a", Operator: "like"}},
			}}},
			message: "operator",
		},
		{
			name:    "missing recipient",
			actions: []models.Action{{Spec: models.SendEmail{Message: models.Message{BodyTemplate: "x"}}}},
			message: "recipient_path",
		},
		{
			name:    "chat without template",
			actions: []models.Action{{Spec: models.SendChatMessage{Message: models.Message{BodyTemplate: "x", RecipientPath: "p"}}}},
			message: "template_ref",
		},
		{name: "webhook without url", actions: []models.Action{{Spec: models.Webhook{}}}, message: "url"},
		{
			name:    "update status without field",
			actions: []models.Action{{Spec: models.UpdateStatus{StatusValue: "x"}}},
			message: "status_field",
		},
		{
			name: "nested error",
			actions: []models.Action{{Spec: models.Branch{
				FalseActions: []models.Action{{Spec: models.Webhook{}}},
			}}},
			message: "0.false.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(&models.WorkflowDefinition{Actions: tt.actions})
			require.ErrorIs(t, err, ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestPredefinedWorkflows(t *testing.T) {
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

	first := PredefinedWorkflows(now)
	second := PredefinedWorkflows(now)

	require.Len(t, first, 2)
	assert.Equal(t, KeyApplicationIncomplete, first[0].Key)
	assert.Equal(t, KeyReferrerInactive, first[1].Key)

	first[0].Name = "changed"
	assert.NotEqual(t, first[0].Name, second[0].Name)

	for _, wf := range first {
		assert.Equal(t, models.WorkflowStatusPaused, wf.Status)
		assert.Equal(t, now, wf.CreatedAt)
	}
}

func TestApplicationIncompleteDelays(t *testing.T) {
	program, err := Compile(applicationIncomplete(time.Now()))
	require.NoError(t, err)

	var total time.Duration

	var checkpoints []time.Duration

	for _, ins := range program.Instructions {
		if delay, ok := ins.Action.Spec.(models.Delay); ok && ins.Op == OpAction {
			total += delay.Duration()
			checkpoints = append(checkpoints, total)
		}
	}

	assert.Equal(t, []time.Duration{24 * time.Hour, 72 * time.Hour, 7 * 24 * time.Hour}, checkpoints)
}
