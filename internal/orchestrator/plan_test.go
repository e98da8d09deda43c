package orchestrator

import (
	"testing"

	"autotool/internal/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantIDs []string
		wantErr bool
	}{
		{
			name:    "object with subtasks inside commentary",
			text:    "Sure! {\"subtasks\": [{\"taskId\": \"t1:fetch\", \"script\": \"return 1, nil\"}]} Hope that helps.",
			wantIDs: []string{"t1"},
		},
		{
			name:    "bare array",
			text:    "```json\n[{\"taskId\": \"a\", \"script\": \"return 1, nil\"}, {\"taskId\": \"b\", \"script\": \"return 2, nil\"}]\n```",
			wantIDs: []string{"a", "b"},
		},
		{
			name:    "skips malformed candidate before the plan",
			text:    "{broken: } then {\"subtasks\": [{\"taskId\": \"t1\", \"script\": \"return \\\"}\\\", nil\"}]}",
			wantIDs: []string{"t1"},
		},
		{
			name:    "missing ids are numbered",
			text:    `[{"script": "return 1, nil"}, {"script": "return 2, nil"}]`,
			wantIDs: []string{"t1", "t2"},
		},
		{
			name:    "subtasks without scripts are dropped",
			text:    `{"subtasks": [{"taskId": "t1"}]}`,
			wantErr: true,
		},
		{
			name:    "no JSON",
			text:    "I cannot help with that.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePlan(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEmptyPlan)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, st := range plan {
				ids = append(ids, st.TaskID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestParsePlan_SplitsDescription(t *testing.T) {
	plan, err := ParsePlan(`{"subtasks": [{"taskId": "t1: look up the weather", "script": "return 1, nil", "resultVar": "weather"}]}`)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "t1", plan[0].TaskID)
	assert.Equal(t, "look up the weather", plan[0].Name)
	assert.Equal(t, "weather", plan[0].ResultVar)
}

func TestUsedCapabilities(t *testing.T) {
	script := `a, _ := env.Call("weather", nil)
b, _ := env.Call( "add", map[string]any{})
c, _ := env.Call("weather", nil)
d, _ := env.Call("unknown", nil)
e, _ := api.CallTool("add", nil)`

	got := UsedCapabilities(script, []string{"add", "weather", "unused"})
	assert.Equal(t, []string{"add", "weather"}, got)
	assert.Empty(t, UsedCapabilities("return 1, nil", []string{"add"}))
}

func TestBuildPlanPrompt(t *testing.T) {
	hits := []memory.Scored{{Match: memory.Match{
		Record:     &memory.Record{Input: "old request", Response: "old answer", Confidence: 0.7},
		Similarity: 0.93,
	}}}
	prompt := buildPlanPrompt("new request", "add(a, b): Adds\n", hits)

	assert.Contains(t, prompt, "new request")
	assert.Contains(t, prompt, "add(a, b): Adds")
	assert.Contains(t, prompt, `"old request" (similarity 0.93, confidence 0.70)`)
	assert.Contains(t, buildPlanPrompt("x", "", nil), "(none registered)")
}
