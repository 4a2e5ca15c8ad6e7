package definition

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/dukex/followup/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onboardingYAML = `
key: onboarding-nudge
name: Onboarding nudge
trigger_type: no_activity_window
entity_type: user
entry_conditions:
  - field: user.status
    operator: equals
    value: active
actions:
  - id: wait
    type: delay
    config:
      hours: 2
  - id: check
    type: condition
    config:
      conditions:
        - field: user.onboarded
          operator: equals
          value: false
          value_type: boolean
      true_actions:
        - id: email
          type: send_email
          config:
            recipient_path: user.email
            body_template: "Hi {{user.name}}"
settings:
  cooldown_hours: 24
`

func newParser(t *testing.T) *Parser {
	t.Helper()

	parser, err := NewParser()
	require.NoError(t, err)

	return parser
}

func TestParse_YAML(t *testing.T) {
	wf, err := newParser(t).Parse([]byte(onboardingYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "onboarding-nudge", wf.Key)
	assert.Equal(t, models.TriggerTypeNoActivityWindow, wf.TriggerType)
	assert.Equal(t, 24, wf.Settings.CooldownHours)
	require.Len(t, wf.Actions, 2)
	assert.Equal(t, models.Delay{Hours: 2}, wf.Actions[0].Spec)

	branch, ok := wf.Actions[1].Spec.(models.Branch)
	require.True(t, ok)
	require.Len(t, branch.TrueActions, 1)
	assert.Equal(t, models.ActionTypeSendEmail, branch.TrueActions[0].Type())
	assert.Equal(t, false, branch.Conditions[0].Value)
}

func TestParse_PredefinedWorkflowsRoundTrip(t *testing.T) {
	parser := newParser(t)

	for _, wf := range workflow.PredefinedWorkflows(time.Now()) {
		data, err := json.Marshal(wf)
		require.NoError(t, err)

		parsed, err := parser.Parse(data, FormatJSON)
		require.NoError(t, err, wf.Key)
		assert.Equal(t, wf.Key, parsed.Key)
		assert.Len(t, parsed.Actions, len(wf.Actions))
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		document string
		message  string
	}{
		{name: "not json", document: `{`, message: "invalid workflow document"},
		{name: "missing key", document: `{"name":"abc","trigger_type":"entity_inactive","entity_type":"user","actions":[{"type":"delay","config":{}}]}`, message: "key"},
		{name: "unknown trigger", document: `{"key":"abc","name":"abc","trigger_type":"tick","entity_type":"user","actions":[{"type":"delay","config":{}}]}`, message: "trigger_type"},
		{name: "no actions", document: `{"key":"abc","name":"abc","trigger_type":"entity_inactive","entity_type":"user","actions":[]}`, message: "actions"},
		{name: "unknown action type", document: `{"key":"abc","name":"abc","trigger_type":"entity_inactive","entity_type":"user","actions":[{"type":"sms","config":{}}]}`, message: "type"},
		{name: "unknown operator", document: `{"key":"abc","name":"abc","trigger_type":"entity_inactive","entity_type":"user","entry_conditions":[{"field":"a","operator":"like"}],"actions":[{"type":"delay","config":{}}]}`, message: "operator"},
		{name: "chat without template", document: `{"key":"abc","name":"abc","trigger_type":"entity_inactive","entity_type":"user","actions":[{"type":"send_chat_message","config":{"recipient_path":"user.phone"}}]}`, message: "template_ref"},
		{name: "nested webhook without url", document: `{"key":"abc","name":"abc","trigger_type":"entity_inactive","entity_type":"user","actions":[{"type":"condition","config":{"conditions":[],"false_actions":[{"type":"webhook","config":{}}]}}]}`, message: "url"},
	}

	parser := newParser(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.document), FormatJSON)
			require.ErrorIs(t, err, ErrInvalidDocument)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "onboarding.yaml"), []byte(onboardingYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	workflows, err := newParser(t).ParseDir(dir)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "onboarding-nudge", workflows[0].Key)
}

func TestParseFile_ReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"key":"x"}`), 0o600))

	_, err := newParser(t).ParseFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("a.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("a.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("a.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("a"))
}

func TestNewVocabulary(t *testing.T) {
	vocabulary := NewVocabulary()

	assert.Len(t, vocabulary.ActionTypes, 7)
	assert.Len(t, vocabulary.Operators, 12)
	assert.Contains(t, vocabulary.Schema, "definitions")
}
