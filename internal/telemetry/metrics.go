package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the counters and histograms autotool records.
type Instruments struct {
	Executions   metric.Int64Counter
	ExecDuration metric.Float64Histogram
	Retries      metric.Int64Counter
	Repairs      metric.Int64Counter
	Runs         metric.Int64Counter
	MemoryHits   metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     *Instruments
)

// Metrics returns the process-wide instruments. They are created against the
// global meter provider, which forwards to whatever Setup installs later.
func Metrics() *Instruments {
	instOnce.Do(func() {
		meter := otel.Meter("autotool")
		inst = &Instruments{}
		inst.Executions, _ = meter.Int64Counter("autotool.capability.executions",
			metric.WithDescription("Capability executions by name and outcome"))
		inst.ExecDuration, _ = meter.Float64Histogram("autotool.capability.duration",
			metric.WithDescription("Capability execution time"), metric.WithUnit("ms"))
		inst.Retries, _ = meter.Int64Counter("autotool.resilience.retries",
			metric.WithDescription("Capability invocation attempts counted against the global ceiling"))
		inst.Repairs, _ = meter.Int64Counter("autotool.resilience.repairs",
			metric.WithDescription("Script repair attempts"))
		inst.Runs, _ = meter.Int64Counter("autotool.orchestrator.runs",
			metric.WithDescription("Orchestrator runs by outcome"))
		inst.MemoryHits, _ = meter.Int64Counter("autotool.memory.hits",
			metric.WithDescription("Memory records matched above threshold"))
	})
	return inst
}

// RecordExecution counts one capability execution.
func RecordExecution(ctx context.Context, name string, ms float64, err error) {
	m := Metrics()
	attrs := metric.WithAttributes(
		attribute.String("capability", name),
		attribute.Bool("success", err == nil),
	)
	m.Executions.Add(ctx, 1, attrs)
	m.ExecDuration.Record(ctx, ms, attrs)
}

// RecordRun counts one orchestrator run.
func RecordRun(ctx context.Context, success, fromMemory bool) {
	Metrics().Runs.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("from_memory", fromMemory),
	))
}
