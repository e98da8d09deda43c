package registry

import (
	"context"
	"time"

	"autotool/internal/apperr"
	"autotool/internal/capability"
	"autotool/internal/capkit"
	"autotool/internal/logging"
	"autotool/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxCallDepth bounds capabilities calling capabilities.
const maxCallDepth = 8

type depthKey struct{}

// Execute runs an active unit with params through the invocation retry
// policy and records its metrics.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	return r.Invoke(ctx, name, params, nil)
}

// Invoke is Execute with a caller-provided scratch store, shared with the
// unit as api.Store.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any, scratch map[string]any) (any, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= maxCallDepth {
		return nil, apperr.Errorf(apperr.KindValidation, "capability."+name,
			"call depth %d exceeded", maxCallDepth)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	u, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, apperr.Errorf(apperr.KindValidation, "capability."+name, "capability %s is inactive", name)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := u.Schema.ValidateParams(name, params); err != nil {
		return nil, err
	}
	if scratch == nil {
		scratch = map[string]any{}
	}

	ctx, span := telemetry.Tracer("registry").Start(ctx, "capability.execute",
		trace.WithAttributes(
			attribute.String("capability", name),
			attribute.String("version", u.Version.String()),
		))
	defer span.End()

	api := capkit.NewAPI(scratch, r.emitFunc(), r.nestedInvoke(ctx, scratch))
	start := time.Now()
	v, err := r.retrier.Do(ctx, "capability."+name, func(ctx context.Context) (any, error) {
		return r.executor.ExecuteUnit(ctx, u.Source, params, api)
	})
	ms := float64(time.Since(start).Microseconds()) / 1000

	telemetry.RecordExecution(ctx, name, ms, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	usage := capability.MetricsEvent{Kind: capability.MetricUsage}
	if err != nil {
		usage.Kind = capability.MetricError
	}
	if mErr := r.recordExecution(ctx, name, ms, usage); mErr != nil {
		logging.RegistryWarn("Failed to record metrics for %s: %v", name, mErr)
	}

	if err != nil {
		logging.Get(logging.CategoryRegistry).With("capability", name, "ms", ms).Warn("execution failed: %v", err)
		return nil, err
	}
	logging.RegistryDebug("Executed %s in %.1fms", name, ms)
	return v, nil
}

// recordExecution applies the execution and usage events together and saves
// the metrics document once.
func (r *Registry) recordExecution(ctx context.Context, name string, ms float64, usage capability.MetricsEvent) error {
	_, err := r.do(context.WithoutCancel(ctx), func(st *state) (any, error) {
		m, ok := st.metrics[name]
		if !ok {
			return nil, notFound("registry.metrics", name)
		}
		now := r.now()
		m.Apply(capability.MetricsEvent{Kind: capability.MetricExecution, DurationMs: ms, At: now})
		usage.At = now
		m.Apply(usage)
		return nil, r.saveMetrics(st)
	})
	return err
}

// nestedInvoke backs api.CallTool for a running unit.
func (r *Registry) nestedInvoke(ctx context.Context, scratch map[string]any) capkit.InvokeFunc {
	return func(name string, params map[string]any) (any, error) {
		return r.Invoke(ctx, name, params, scratch)
	}
}
