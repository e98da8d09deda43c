package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"autotool/internal/events"
	"autotool/internal/execctx"
	"autotool/internal/resilience"
	"autotool/internal/store"
	"autotool/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runPlan executes plan in order, filling in each subtask's result. It stops
// at the first subtask that cannot be repaired and returns the union of
// capabilities the executed scripts referenced.
func (o *Orchestrator) runPlan(ctx context.Context, r *run, plan []Subtask) ([]string, error) {
	repairer := resilience.NewRepairer(o.client, r.emit, o.caps, o.repairs)
	used := map[string]bool{}

	for i := range plan {
		st := &plan[i]
		r.emit.Emit(events.TaskID, st.TaskID)
		r.emit.Emit(events.TaskEvent(st.TaskID, events.SuffixTask), st.Name)
		r.emit.Emit(events.TaskEvent(st.TaskID, events.SuffixScript), st.Script)
		if st.Explanation != "" {
			r.emit.Emit(events.TaskEvent(st.TaskID, events.SuffixChat), st.Explanation)
		}
		r.log.Debug("subtask %s: %s", st.TaskID, st.Name)

		sctx, span := telemetry.Tracer("orchestrator").Start(ctx, "orchestrator.subtask",
			trace.WithAttributes(attribute.String("task_id", st.TaskID)))
		start := time.Now()
		res, err := repairer.Run(sctx, resilience.RepairRequest{
			TaskID: st.TaskID,
			Script: st.Script,
			Run: func(ctx context.Context, script string) (any, error) {
				env := execctx.Build(ctx, execctx.Config{
					Request: r.request,
					Results: r.results,
					Invoker: o.caps,
					Names:   r.names,
					Emitter: r.emit,
				})
				return o.executor.ExecuteScript(ctx, script, env)
			},
			Capabilities: r.names,
			ContextKeys:  r.results.Keys(),
		})
		elapsed := time.Since(start)

		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			st.Error = err.Error()
			st.Attempts = o.repairs
			o.recordSubtask(ctx, r, i, st, elapsed)
			return nil, fmt.Errorf("subtask %s failed: %w", st.TaskID, err)
		}

		span.SetAttributes(attribute.Int("attempts", res.Attempts))
		span.End()
		st.Script = res.Script
		st.Attempts = res.Attempts
		st.ScriptResult = res.Value
		r.results.Put(st.TaskID, st.ResultVar, res.Value)
		for _, name := range UsedCapabilities(st.Script, r.names) {
			used[name] = true
		}
		if res.Capability != "" {
			used[res.Capability] = true
		}

		r.emit.Emit(events.TaskEvent(st.TaskID, events.SuffixResults), res.Value)
		o.recordSubtask(ctx, r, i, st, elapsed)
	}

	out := make([]string, 0, len(used))
	for name := range used {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (o *Orchestrator) recordSubtask(ctx context.Context, r *run, seq int, st *Subtask, elapsed time.Duration) {
	if o.runs == nil {
		return
	}
	rec := store.SubtaskRecord{
		RunID:       r.id,
		Seq:         seq,
		TaskID:      st.TaskID,
		Name:        st.Name,
		Script:      st.Script,
		Explanation: st.Explanation,
		ResultVar:   st.ResultVar,
		Result:      jsonSafe(st.ScriptResult),
		Error:       st.Error,
		Attempts:    st.Attempts,
		DurationMs:  elapsed.Milliseconds(),
	}
	if err := o.runs.RecordSubtask(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn("failed to record subtask %s: %v", st.TaskID, err)
	}
}

// jsonSafe replaces values encoding/json cannot represent with their text.
func jsonSafe(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
