package capability

import (
	"time"
)

// MetricKind selects which aggregate an update touches.
type MetricKind string

const (
	MetricVersion   MetricKind = "version"
	MetricTest      MetricKind = "test"
	MetricExecution MetricKind = "execution"
	MetricError     MetricKind = "error"
	MetricUsage     MetricKind = "usage"
)

// MetricsEvent is the single input to Metrics.Apply.
type MetricsEvent struct {
	Kind MetricKind
	At   time.Time

	Version Version // MetricVersion
	Passed  bool    // MetricTest

	// DurationMs is the execution time for MetricExecution.
	DurationMs float64

	// IsError marks a MetricUsage call as failed. MetricError implies it.
	IsError bool
}

// TestStats aggregates harness runs.
type TestStats struct {
	TotalRuns int        `json:"totalRuns"`
	Passed    int        `json:"passed"`
	Failed    int        `json:"failed"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
}

// ExecutionStats aggregates execution timings in milliseconds.
type ExecutionStats struct {
	TotalExecutions      int     `json:"totalExecutions"`
	AverageExecutionTime float64 `json:"averageExecutionTime"`
	LastExecutionTime    float64 `json:"lastExecutionTime"`
	FastestExecutionTime float64 `json:"fastestExecutionTime"`
	SlowestExecutionTime float64 `json:"slowestExecutionTime"`
}

// Metrics are append-only usage and performance counters for one unit.
type Metrics struct {
	Versions       []string       `json:"versions"`
	TotalUpdates   int            `json:"totalUpdates"`
	LastUpdated    time.Time      `json:"lastUpdated"`
	TestResults    TestStats      `json:"testResults"`
	ExecutionStats ExecutionStats `json:"executionStats"`
	ErrorRate      float64        `json:"errorRate"`
	UsageCount     int            `json:"usageCount"`
}

// NewMetrics starts the metrics for a unit created at v.
func NewMetrics(v Version, at time.Time) *Metrics {
	return &Metrics{Versions: []string{v.String()}, LastUpdated: at}
}

// Apply folds one event into the aggregates.
func (m *Metrics) Apply(ev MetricsEvent) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Kind {
	case MetricVersion:
		m.Versions = append(m.Versions, ev.Version.String())
		m.TotalUpdates++
		m.LastUpdated = at

	case MetricTest:
		m.TestResults.TotalRuns++
		if ev.Passed {
			m.TestResults.Passed++
		} else {
			m.TestResults.Failed++
		}
		m.TestResults.LastRun = &at

	case MetricExecution:
		s := &m.ExecutionStats
		s.TotalExecutions++
		n := float64(s.TotalExecutions)
		x := ev.DurationMs
		s.AverageExecutionTime = (s.AverageExecutionTime*(n-1) + x) / n
		s.LastExecutionTime = x
		if s.TotalExecutions == 1 || x < s.FastestExecutionTime {
			s.FastestExecutionTime = x
		}
		if x > s.SlowestExecutionTime {
			s.SlowestExecutionTime = x
		}

	case MetricError, MetricUsage:
		isErr := 0.0
		if ev.IsError || ev.Kind == MetricError {
			isErr = 1
		}
		// Rate uses the usage count from before this call.
		u := float64(m.UsageCount)
		m.ErrorRate = (m.ErrorRate*u + isErr) / (u + 1)
		m.UsageCount++
	}
}

// Clone deep-copies the metrics.
func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	out := *m
	out.Versions = append([]string(nil), m.Versions...)
	if m.TestResults.LastRun != nil {
		t := *m.TestResults.LastRun
		out.TestResults.LastRun = &t
	}
	return &out
}
