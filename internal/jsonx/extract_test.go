package jsonx

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAll(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []any
	}{
		{
			name: "braces inside strings do not move depth",
			in:   `prefix {"a":1} middle [1,2,{"b":"}"}] suffix`,
			want: []any{
				map[string]any{"a": float64(1)},
				[]any{float64(1), float64(2), map[string]any{"b": "}"}},
			},
		},
		{
			name: "malformed candidate is dropped",
			in:   `{a:} then {"ok":true}`,
			want: []any{map[string]any{"ok": true}},
		},
		{
			name: "escaped quote stays inside string",
			in:   `{"q":"say \"{hi}\""}`,
			want: []any{map[string]any{"q": `say "{hi}"`}},
		},
		{
			name: "code fence",
			in:   "Here is the plan:\n```json\n[{\"taskId\":\"t1\"}]\n```\nDone.",
			want: []any{[]any{map[string]any{"taskId": "t1"}}},
		},
		{
			name: "unbalanced",
			in:   `{"a": [1, 2`,
			want: []any{},
		},
		{
			name: "no json",
			in:   "plain prose",
			want: []any{},
		},
		{
			name: "stray closer ignored",
			in:   `} ] {"x":1}`,
			want: []any{map[string]any{"x": float64(1)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAll(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractAll mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCandidatesKeepsUnparseable(t *testing.T) {
	got := Candidates(`x {a:} y {"b":2}`)
	assert.Equal(t, []string{`{a:}`, `{"b":2}`}, got)
}

func TestExtractFirst(t *testing.T) {
	var plan []struct {
		TaskID string `json:"taskId"`
	}
	// The leading object does not fit the slice and is skipped.
	err := ExtractFirst(`{"note":"x"} [{"taskId":"t1"},{"taskId":"t2"}]`, &plan)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "t2", plan[1].TaskID)

	var v map[string]any
	assert.ErrorIs(t, ExtractFirst("nothing", &v), ErrNoJSON)
}

func TestExtractObjects(t *testing.T) {
	got := ExtractObjects(`[1] {"a":1} "s" {"b":2}`)
	require.Len(t, got, 2)
	assert.Equal(t, float64(2), got[1]["b"])
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "package main", StripFences("```go\npackage main\n```"))
	assert.Equal(t, "x := 1", StripFences("  x := 1  "))
	assert.Equal(t, "", StripFences("```"))
}
