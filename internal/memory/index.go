package memory

import (
	"context"
	"fmt"

	"autotool/internal/logging"
	"autotool/internal/telemetry"
)

// Scored is a match with its derived confidence values.
type Scored struct {
	Match
	// Adjusted is the stored confidence weighed by similarity.
	Adjusted float64
	// Score ranks candidates: stored confidence times similarity.
	Score float64
}

// IndexConfig holds the thresholds the index applies.
type IndexConfig struct {
	// Threshold is the minimum similarity for a hit.
	Threshold float64
	// Baseline is the starting confidence of new records.
	Baseline float64
}

// Index is the memory index used by the orchestrator.
type Index struct {
	backend Backend
	cfg     IndexConfig
}

// NewIndex wraps backend.
func NewIndex(backend Backend, cfg IndexConfig) *Index {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.9
	}
	if cfg.Baseline <= 0 {
		cfg.Baseline = 0.5
	}
	return &Index{backend: backend, cfg: cfg}
}

// Threshold returns the similarity floor.
func (x *Index) Threshold() float64 { return x.cfg.Threshold }

// FindSimilar returns scored hits above the index threshold.
func (x *Index) FindSimilar(ctx context.Context, text string) ([]Scored, error) {
	return x.Search(ctx, text, x.cfg.Threshold)
}

// Search is FindSimilar with an explicit threshold.
func (x *Index) Search(ctx context.Context, text string, threshold float64) ([]Scored, error) {
	matches, err := x.backend.FindSimilar(ctx, text, threshold)
	if err != nil {
		return nil, fmt.Errorf("memory lookup failed: %w", err)
	}
	out := make([]Scored, 0, len(matches))
	for _, m := range matches {
		out = append(out, Scored{
			Match:    m,
			Adjusted: AdjustedConfidence(m.Record.Confidence, m.Similarity),
			Score:    Score(m.Record.Confidence, m.Similarity),
		})
	}
	if len(out) > 0 {
		telemetry.Metrics().MemoryHits.Add(ctx, int64(len(out)))
	}
	logging.MemoryDebug("memory lookup: %d hits above %.2f", len(out), threshold)
	return out, nil
}

// Best returns the hit with the highest Score, or nil.
func Best(hits []Scored) *Scored {
	var best *Scored
	for i := range hits {
		if best == nil || hits[i].Score > best.Score {
			best = &hits[i]
		}
	}
	return best
}

// Store remembers a successful run with an initial confidence derived from
// the baseline and the response text.
func (x *Index) Store(ctx context.Context, input, response string, used []string) (*Record, error) {
	rec := NewRecord(input, response, InitialConfidence(x.cfg.Baseline, response), used)
	if err := x.backend.Put(ctx, rec); err != nil {
		return nil, err
	}
	logging.Memory("remembered %q (confidence=%.2f, capabilities=%v)", truncate(input, 60), rec.Confidence, used)
	return rec, nil
}

// Boost raises a matched record's confidence.
func (x *Index) Boost(ctx context.Context, hit Scored) (float64, error) {
	c := Boost(hit.Record.Confidence, hit.Similarity)
	if err := x.backend.UpdateConfidence(ctx, hit.Record.ID, c); err != nil {
		return hit.Record.Confidence, err
	}
	hit.Record.Confidence = c
	return c, nil
}

// Refresh updates every matched record after a run: boosted when the run
// succeeded, decayed when it failed. Errors are logged and skipped.
func (x *Index) Refresh(ctx context.Context, hits []Scored, success bool) {
	for _, h := range hits {
		next := Decay(h.Record.Confidence, h.Similarity)
		if success {
			next = Boost(h.Record.Confidence, h.Similarity)
		}
		if err := x.backend.UpdateConfidence(ctx, h.Record.ID, next); err != nil {
			logging.MemoryWarn("failed to refresh memory %s: %v", h.Record.ID, err)
			continue
		}
		logging.MemoryDebug("memory %s confidence %.3f -> %.3f", h.Record.ID, h.Record.Confidence, next)
		h.Record.Confidence = next
	}
}

// Close closes the backend.
func (x *Index) Close() error { return x.backend.Close() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
