package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustedConfidence_Monotone(t *testing.T) {
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1}

	for _, stored := range steps {
		prev := -1.0
		for _, sim := range steps {
			got := AdjustedConfidence(stored, sim)
			assert.GreaterOrEqual(t, got, prev, "stored=%v sim=%v", stored, sim)
			assert.LessOrEqual(t, got, stored+1e-12)
			prev = got
		}
	}
	for _, sim := range steps {
		prev := -1.0
		for _, stored := range steps {
			got := AdjustedConfidence(stored, sim)
			assert.GreaterOrEqual(t, got, prev, "stored=%v sim=%v", stored, sim)
			prev = got
		}
	}
}

func TestAdjustedConfidence_ClampsInputs(t *testing.T) {
	assert.Equal(t, 1.0, AdjustedConfidence(3, 2))
	assert.Equal(t, 0.0, AdjustedConfidence(-1, 0.5))
	assert.Equal(t, 0.5, AdjustedConfidence(1, -4))
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 0.45, Score(0.5, 0.9), 1e-12)
	assert.Greater(t, Score(0.9, 0.92), Score(0.95, 0.85))
}

func TestInitialConfidence(t *testing.T) {
	assert.Equal(t, 0.25, InitialConfidence(0.5, ""))

	short := InitialConfidence(0.5, "ok")
	long := InitialConfidence(0.5, strings.Repeat("x", 10000))
	assert.Greater(t, short, 0.5)
	assert.Greater(t, long, short)
	assert.LessOrEqual(t, long, 0.5+MaxTextBonus)
	assert.LessOrEqual(t, InitialConfidence(0.95, strings.Repeat("x", 10000)), 1.0)
}

func TestBoostAndDecay(t *testing.T) {
	c := 0.5
	for i := 0; i < 100; i++ {
		next := Boost(c, 1)
		assert.GreaterOrEqual(t, next, c)
		c = next
	}
	assert.LessOrEqual(t, c, 1.0)
	assert.Greater(t, c, 0.99)

	assert.InDelta(t, 0.55, Boost(0.5, 1), 1e-12)
	assert.InDelta(t, 0.475, Decay(0.5, 1), 1e-12)
	assert.Equal(t, 0.5, Decay(0.5, 0))
	assert.Equal(t, 0.0, Decay(0, 1))
}
