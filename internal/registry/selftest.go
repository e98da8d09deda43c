package registry

import (
	"context"
	"strings"

	"autotool/internal/apperr"
	"autotool/internal/capability"
	"autotool/internal/capkit"
	"autotool/internal/events"
	"autotool/internal/logging"
)

// RunTests runs the unit's harness: BeforeAll first, then every Test step.
// The outcome is stored as the unit's LastTestResult and counted in its
// test metrics. A harness that cannot be evaluated counts as a failed run.
func (r *Registry) RunTests(ctx context.Context, name string) (*capability.TestResult, error) {
	u, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(u.TestHarness) == "" {
		return nil, apperr.Errorf(apperr.KindNoHarness, "registry.run_tests", "capability %s has no test harness", name)
	}

	timer := logging.StartTimer(logging.CategoryRegistry, "RunTests "+name)
	scratch := map[string]any{}
	api := capkit.NewAPI(scratch, r.emitFunc(), r.nestedInvoke(ctx, scratch))
	report, runErr := r.executor.RunHarness(ctx, u.Source, u.TestHarness, capkit.NewT(api))
	timer.Stop()

	result := &capability.TestResult{At: r.now()}
	switch {
	case runErr != nil:
		result.Message = runErr.Error()
	default:
		result.Success = report.Passed
		result.Message = report.Message
	}

	_, err = r.do(ctx, func(st *state) (any, error) {
		cur, ok := st.get(name)
		if !ok {
			return nil, notFound("registry.run_tests", name)
		}
		tr := *result
		cur.LastTestResult = &tr
		cur.Metrics.Apply(capability.MetricsEvent{Kind: capability.MetricTest, Passed: result.Success, At: result.At})
		return nil, r.saveAll(st)
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		logging.Registry("Tests passed for %s: %s", name, result.Message)
	} else {
		logging.RegistryWarn("Tests failed for %s: %s", name, result.Message)
		r.emitter.Emit(events.Error, "tests failed for "+name+": "+result.Message)
	}
	return result, nil
}

func (r *Registry) emitFunc() capkit.EmitFunc {
	return func(event string, payload any) { r.emitter.Emit(event, payload) }
}
