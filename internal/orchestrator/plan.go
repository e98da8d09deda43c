package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"autotool/internal/apperr"
	"autotool/internal/jsonx"
	"autotool/internal/llm"
	"autotool/internal/memory"
)

// Subtask is one step of a plan.
type Subtask struct {
	TaskID      string `json:"taskId"`
	Name        string `json:"name"`
	Script      string `json:"script"`
	Explanation string `json:"explanation,omitempty"`
	ResultVar   string `json:"resultVar,omitempty"`

	ScriptResult any    `json:"scriptResult,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ErrEmptyPlan means the model reply held no usable subtask.
var ErrEmptyPlan = errors.New("plan contains no subtasks")

const decomposeSystemPrompt = `You break a request into an ordered list of subtasks. Each subtask is solved by a short Go script.

A script is either a bare function body or a full file declaring:

    func Run(env *capkit.Env) (any, error)

Inside a script:
- env.Call("name", map[string]any{...}) invokes a capability from the list below
- env.Result("key") reads the result of an earlier subtask by its taskId or resultVar
- env.Request is the original request text
- only these imports are allowed: bytes, encoding/base64, encoding/json, errors, fmt, math, path, path/filepath, regexp, sort, strconv, strings, time, unicode, unicode/utf8
- return the subtask's result; never print it

Subtasks run strictly in order. Later subtasks may read earlier results.

Respond with JSON only:
{"subtasks": [{"taskId": "t1:short description", "script": "...", "explanation": "...", "resultVar": "optionalName"}]}`

// buildPlanPrompt assembles the user prompt for decomposition.
func buildPlanPrompt(request, listing string, hits []memory.Scored) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n\n", request)

	b.WriteString("Capabilities:\n")
	if strings.TrimSpace(listing) == "" {
		b.WriteString("(none registered)\n")
	} else {
		b.WriteString(listing)
	}

	if len(hits) > 0 {
		b.WriteString("\nSimilar past requests and how they were solved:\n")
		for _, h := range hits {
			fmt.Fprintf(&b, "- %q (similarity %.2f, confidence %.2f)\n  %s\n",
				h.Record.Input, h.Similarity, h.Record.Confidence, truncate(h.Record.Response, 600))
		}
	}
	return b.String()
}

// decompose asks the model for a plan.
func (o *Orchestrator) decompose(ctx context.Context, request, listing string, hits []memory.Scored) ([]Subtask, error) {
	text, err := llm.CompleteText(ctx, o.client, decomposeSystemPrompt, buildPlanPrompt(request, listing, hits))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "orchestrator.decompose", err)
	}
	plan, err := ParsePlan(text)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "orchestrator.decompose", err).With("reply", truncate(text, 200))
	}
	return plan, nil
}

// ParsePlan recovers the subtask list from a model reply. The list may be
// the reply's top-level array or the "subtasks" field of an object; the
// first JSON value holding a usable list wins. A taskId of the form
// "id:description" is split, the description becoming the subtask name.
func ParsePlan(text string) ([]Subtask, error) {
	for _, v := range jsonx.ExtractAll(text) {
		var raw []any
		switch t := v.(type) {
		case []any:
			raw = t
		case map[string]any:
			raw, _ = t["subtasks"].([]any)
		}
		if plan := subtasksFrom(raw); len(plan) > 0 {
			return plan, nil
		}
	}
	return nil, ErrEmptyPlan
}

func subtasksFrom(raw []any) []Subtask {
	var out []Subtask
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		st := Subtask{
			TaskID:      str(m["taskId"]),
			Name:        str(m["name"]),
			Script:      str(m["script"]),
			Explanation: str(m["explanation"]),
			ResultVar:   str(m["resultVar"]),
		}
		if strings.TrimSpace(st.Script) == "" {
			continue
		}
		if id, desc, ok := strings.Cut(st.TaskID, ":"); ok {
			st.TaskID = strings.TrimSpace(id)
			if st.Name == "" {
				st.Name = strings.TrimSpace(desc)
			}
		}
		if st.TaskID == "" {
			st.TaskID = fmt.Sprintf("t%d", i+1)
		}
		if st.Name == "" {
			st.Name = st.TaskID
		}
		st.Script = jsonx.StripFences(st.Script)
		out = append(out, st)
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var capabilityUse = regexp.MustCompile(`(?:env\.Call|CallTool)\(\s*"([^"]+)"`)

// UsedCapabilities returns the known capability names a script calls,
// sorted and de-duplicated.
func UsedCapabilities(script string, known []string) []string {
	isKnown := make(map[string]bool, len(known))
	for _, n := range known {
		isKnown[n] = true
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range capabilityUse.FindAllStringSubmatch(script, -1) {
		if name := m[1]; isKnown[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
