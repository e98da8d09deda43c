package resilience

import (
	"context"
	"fmt"
	"strings"

	"autotool/internal/apperr"
	"autotool/internal/events"
	"autotool/internal/llm"
	"autotool/internal/logging"
	"autotool/internal/sandbox"
	"autotool/internal/telemetry"
)

// CapabilitySource lets the repair loop short-circuit to a registered
// capability whose source matches the failing script.
type CapabilitySource interface {
	FindBySource(script string) (string, bool)
	Execute(ctx context.Context, name string, params map[string]any) (any, error)
}

// Patch is the model's reply to a failure report.
type Patch struct {
	ModifiedScript string `json:"modifiedScript"`
	Explanation    string `json:"explanation"`
}

// FailureContext is everything the model sees about one failure.
type FailureContext struct {
	TaskID       string
	Attempt      int
	MaxAttempts  int
	Error        string
	Stack        string
	Script       string
	Line         int
	Capabilities []string
	ContextKeys  []string
	// Rethink asks for a materially different approach.
	Rethink bool
}

// Prompt renders the failure for the model.
func (f FailureContext) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "A subtask script failed (attempt %d of %d).\n\n", f.Attempt, f.MaxAttempts)
	fmt.Fprintf(&b, "--- ERROR ---\n%s\n\n", f.Error)
	if f.Line > 0 {
		fmt.Fprintf(&b, "--- FAILING LINE ---\n%d: %s\n\n", f.Line, lineAt(f.Script, f.Line))
	}
	if f.Stack != "" {
		fmt.Fprintf(&b, "--- STACK ---\n%s\n\n", truncate(f.Stack, 4000))
	}
	fmt.Fprintf(&b, "--- SCRIPT ---\n%s\n\n", f.Script)
	fmt.Fprintf(&b, "--- AVAILABLE CAPABILITIES (env.Call) ---\n%s\n\n", strings.Join(f.Capabilities, ", "))
	fmt.Fprintf(&b, "--- AVAILABLE RESULTS (env.Result) ---\n%s\n", strings.Join(f.ContextKeys, ", "))
	if f.Rethink {
		b.WriteString("\nThe previous fixes did not work. Do not patch the same approach again: " +
			"solve the subtask with a materially different approach.\n")
	}
	return b.String()
}

const repairSystemPrompt = `You repair Go scripts for the autotool agent.
A script is the body of func Run(env *capkit.Env) (any, error), or a full
package main file defining that function. It may only call capabilities through
env.Call(name, params) and read earlier results through env.Result(key).
Allowed imports: the Go standard library packages for text, numbers, time and
JSON. Never use os, net or os/exec.`

var patchFormat = llm.Format{
	Hint:     `{"modifiedScript": "<the full corrected script>", "explanation": "<one sentence>"}`,
	Required: []string{"modifiedScript"},
}

// RepairRequest is one script to run under the repair loop.
type RepairRequest struct {
	TaskID string
	Script string
	// Run executes a script against a freshly built context.
	Run func(ctx context.Context, script string) (any, error)
	// Params are passed when a matching capability is invoked directly.
	Params       map[string]any
	Capabilities []string
	ContextKeys  []string
}

// RepairResult is the outcome of a successful repair loop.
type RepairResult struct {
	Value      any
	Script     string
	Attempts   int
	Capability string
}

// Repairer runs scripts, asking the model for patches on failure.
type Repairer struct {
	client      llm.Client
	emitter     events.Emitter
	source      CapabilitySource
	maxAttempts int
}

// NewRepairer creates a Repairer. source may be nil.
func NewRepairer(client llm.Client, emitter events.Emitter, source CapabilitySource, maxAttempts int) *Repairer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if emitter == nil {
		emitter = events.Nop
	}
	return &Repairer{client: client, emitter: emitter, source: source, maxAttempts: maxAttempts}
}

// MaxAttempts returns the attempt budget.
func (r *Repairer) MaxAttempts() int { return r.maxAttempts }

// Run executes req.Script, repairing it up to the attempt budget. Terminal
// errors (the global retry ceiling) end the loop at once. Exhausting the
// budget returns ScriptExecutionFailed.
func (r *Repairer) Run(ctx context.Context, req RepairRequest) (*RepairResult, error) {
	script := req.Script
	var lastErr error
	halfway := (r.maxAttempts + 1) / 2

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		v, err := req.Run(ctx, script)
		if err == nil {
			return &RepairResult{Value: v, Script: script, Attempts: attempt}, nil
		}
		lastErr = err
		if apperr.IsTerminal(err) {
			return nil, err
		}

		if r.source != nil {
			if name, ok := r.source.FindBySource(script); ok {
				logging.Resilience("task %s: script matches capability %s, invoking it directly", req.TaskID, name)
				v, cerr := r.source.Execute(ctx, name, req.Params)
				if cerr == nil {
					return &RepairResult{Value: v, Script: script, Attempts: attempt, Capability: name}, nil
				}
				if apperr.IsTerminal(cerr) {
					return nil, cerr
				}
				lastErr = cerr
			}
		}

		if attempt == r.maxAttempts {
			break
		}

		fc := FailureContext{
			TaskID:       req.TaskID,
			Attempt:      attempt,
			MaxAttempts:  r.maxAttempts,
			Error:        lastErr.Error(),
			Script:       script,
			Capabilities: req.Capabilities,
			ContextKeys:  req.ContextKeys,
			Rethink:      attempt >= halfway,
		}
		if ee, ok := sandbox.AsExecError(lastErr); ok {
			fc.Stack = ee.Stack
			fc.Line = ee.Line
		}
		logging.Get(logging.CategoryResilience).With(
			"task", req.TaskID,
			"attempt", attempt,
			"line", fc.Line,
			"capabilities", fc.Capabilities,
			"contextKeys", fc.ContextKeys,
		).Warn("script failed: %s\nscript:\n%s\nstack:\n%s", fc.Error, fc.Script, fc.Stack)
		telemetry.Metrics().Repairs.Add(ctx, 1)

		patched, explanation := r.requestPatch(ctx, fc)
		if patched == "" {
			continue
		}
		script = patched
		r.emitter.Emit(events.TaskEvent(req.TaskID, events.SuffixScript), script)
		if explanation != "" {
			r.emitter.Emit(events.TaskEvent(req.TaskID, events.SuffixChat), explanation)
		}
	}

	return nil, &apperr.Error{
		Kind:    apperr.KindScriptExecutionFailed,
		Op:      "repair",
		Message: fmt.Sprintf("task %s failed after %d attempts", req.TaskID, r.maxAttempts),
		Err:     lastErr,
		Context: map[string]any{"attempts": r.maxAttempts, "taskId": req.TaskID},
	}
}

// requestPatch asks the model for a fix. An empty script means no usable patch.
func (r *Repairer) requestPatch(ctx context.Context, fc FailureContext) (string, string) {
	if r.client == nil {
		return "", ""
	}
	var p Patch
	_, err := llm.CompleteStructured(ctx, r.client, r.emitter,
		[]llm.Message{llm.System(repairSystemPrompt), llm.User(fc.Prompt())},
		patchFormat, &p)
	if err != nil {
		logging.ResilienceWarn("task %s: no usable patch from model: %v", fc.TaskID, err)
		return "", ""
	}
	return strings.TrimSpace(p.ModifiedScript), p.Explanation
}

func lineAt(script string, line int) string {
	lines := strings.Split(script, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n..."
}
