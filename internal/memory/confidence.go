package memory

import "math"

// Confidence tuning. Boost moves a record part of the way towards 1, decay
// scales it down; neither can leave [0,1].
const (
	BoostRate    = 0.1
	DecayRate    = 0.05
	MaxTextBonus = 0.2
	// textScale is the response length at which the text bonus reaches
	// about 63% of MaxTextBonus.
	textScale = 2000.0
)

// AdjustedConfidence weighs a stored confidence by how closely the record
// matched. It never decreases as either input grows and never exceeds the
// stored confidence.
func AdjustedConfidence(stored, similarity float64) float64 {
	return clamp01(clamp01(stored) * (0.5 + 0.5*clamp01(similarity)))
}

// Score ranks matches: stored confidence times similarity.
func Score(stored, similarity float64) float64 {
	return clamp01(stored) * clamp01(similarity)
}

// InitialConfidence is the confidence of a freshly stored record. A longer,
// more detailed response earns up to MaxTextBonus above baseline; an empty
// one gets half the baseline.
func InitialConfidence(baseline float64, response string) float64 {
	if response == "" {
		return clamp01(baseline / 2)
	}
	bonus := MaxTextBonus * (1 - math.Exp(-float64(len(response))/textScale))
	return clamp01(baseline + bonus)
}

// Boost raises c towards 1, weighted by similarity.
func Boost(c, similarity float64) float64 {
	c = clamp01(c)
	return clamp01(c + (1-c)*BoostRate*clamp01(similarity))
}

// Decay lowers c, weighted by similarity.
func Decay(c, similarity float64) float64 {
	c = clamp01(c)
	return clamp01(c * (1 - DecayRate*clamp01(similarity)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
