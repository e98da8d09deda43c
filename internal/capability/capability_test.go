package capability

import (
	"encoding/json"
	"testing"
	"time"

	"autotool/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	v, err := ParseVersion("v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 2, 3}, v)
	assert.Equal(t, "1.2.4", v.BumpPatch().String())
	assert.Equal(t, -1, v.Compare(v.BumpPatch()))
	assert.Equal(t, 1, Version{2, 0, 0}.Compare(v))
	assert.Equal(t, 0, v.Compare(v))

	for _, bad := range []string{"1.2", "a.b.c", "1.-1.0", ""} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestVersionJSON(t *testing.T) {
	data, err := json.Marshal(struct{ V Version }{Version{1, 0, 7}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"V":"1.0.7"}`, string(data))

	var out struct{ V Version }
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 7, out.V.Patch)
}

func TestMetricsExecutionRunningMean(t *testing.T) {
	m := NewMetrics(InitialVersion, time.Now())
	for _, ms := range []float64{10, 20, 60} {
		m.Apply(MetricsEvent{Kind: MetricExecution, DurationMs: ms})
	}
	s := m.ExecutionStats
	assert.Equal(t, 3, s.TotalExecutions)
	assert.InDelta(t, 30.0, s.AverageExecutionTime, 1e-9)
	assert.Equal(t, 60.0, s.LastExecutionTime)
	assert.Equal(t, 10.0, s.FastestExecutionTime)
	assert.Equal(t, 60.0, s.SlowestExecutionTime)
}

func TestMetricsErrorRateUsesPriorUsage(t *testing.T) {
	m := NewMetrics(InitialVersion, time.Now())

	m.Apply(MetricsEvent{Kind: MetricUsage})
	assert.Equal(t, 0.0, m.ErrorRate)
	assert.Equal(t, 1, m.UsageCount)

	// (0*1 + 1) / 2
	m.Apply(MetricsEvent{Kind: MetricError})
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.Equal(t, 2, m.UsageCount)

	// (0.5*2 + 1) / 3
	m.Apply(MetricsEvent{Kind: MetricUsage, IsError: true})
	assert.InDelta(t, 2.0/3.0, m.ErrorRate, 1e-9)
}

func TestMetricsVersionAndTest(t *testing.T) {
	m := NewMetrics(InitialVersion, time.Now())
	m.Apply(MetricsEvent{Kind: MetricVersion, Version: Version{1, 0, 1}})
	m.Apply(MetricsEvent{Kind: MetricTest, Passed: true})
	m.Apply(MetricsEvent{Kind: MetricTest, Passed: false})

	assert.Equal(t, []string{"1.0.0", "1.0.1"}, m.Versions)
	assert.Equal(t, 1, m.TotalUpdates)
	assert.Equal(t, TestStats{TotalRuns: 2, Passed: 1, Failed: 1, LastRun: m.TestResults.LastRun}, m.TestResults)
	assert.NotNil(t, m.TestResults.LastRun)
}

func TestUnitValidate(t *testing.T) {
	u := &Unit{Name: "weather", Source: "package main"}
	assert.NoError(t, u.Validate())

	assert.ErrorIs(t, (&Unit{Source: "x"}).Validate(), apperr.ErrValidation)
	assert.ErrorIs(t, (&Unit{Name: "bad name", Source: "x"}).Validate(), apperr.ErrValidation)
	assert.ErrorIs(t, (&Unit{Name: "empty", Source: "  "}).Validate(), apperr.ErrValidation)
}

func TestSnapshots(t *testing.T) {
	u := &Unit{Name: "w", Version: InitialVersion, Source: "v1"}
	u.RecordSnapshot(time.Now())
	u.Version = u.Version.BumpPatch()
	u.Source = "v2"
	u.RecordSnapshot(time.Now())
	u.Source = "v2b"
	u.RecordSnapshot(time.Now())

	require.Len(t, u.Snapshots, 2)
	s, ok := u.Snapshot(InitialVersion)
	require.True(t, ok)
	assert.Equal(t, "v1", s.Source)
	s, _ = u.Snapshot(Version{1, 0, 1})
	assert.Equal(t, "v2b", s.Source)
	_, ok = u.Snapshot(Version{9, 9, 9})
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	u := &Unit{
		Name:    "w",
		Tags:    []string{"a"},
		Schema:  Schema{Parameters: Parameters{Required: []string{"city"}}},
		Metrics: NewMetrics(InitialVersion, time.Now()),
	}
	c := u.Clone()
	c.Tags[0] = "b"
	c.Schema.Parameters.Required[0] = "zip"
	c.Metrics.UsageCount = 9

	assert.Equal(t, "a", u.Tags[0])
	assert.Equal(t, "city", u.Schema.Parameters.Required[0])
	assert.Equal(t, 0, u.Metrics.UsageCount)
}

func TestSchema(t *testing.T) {
	s := Schema{
		Signature:  "weather(city)",
		Parameters: Parameters{Required: []string{"city", "units"}, Properties: map[string]Property{"city": {Type: "string"}}},
	}
	err := s.ValidateParams("weather", map[string]any{"city": "Paris"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "units")
	assert.NoError(t, s.ValidateParams("weather", map[string]any{"city": "Paris", "units": "metric"}))

	o := s.Clone()
	o.Parameters.Required = []string{"units", "city"}
	assert.True(t, s.Equal(o))
	o.Parameters.Properties["city"] = Property{Type: "number"}
	assert.False(t, s.Equal(o))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []string{"api", "weather"}, NormalizeTags([]string{" Weather", "api", "weather", ""}))
	assert.Equal(t,
		NormalizeSource("x := 1 // one\n\treturn x, nil"),
		NormalizeSource("x   :=   1\nreturn x, nil\n"),
	)
}
