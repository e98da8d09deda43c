package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"autotool/internal/apperr"
	"autotool/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteIndex(t *testing.T) (*Index, *SQLiteBackend) {
	t.Helper()
	b, err := OpenSQLiteBackend(filepath.Join(t.TempDir(), "memory.db"), store.DriverPure, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return NewIndex(b, IndexConfig{Threshold: 0.9, Baseline: 0.5}), b
}

func TestLexicalEmbedder(t *testing.T) {
	e := NewLexicalEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "What is the weather in Oslo?")
	require.NoError(t, err)
	b, _ := e.Embed(ctx, "what is the WEATHER in oslo")
	c, _ := e.Embed(ctx, "convert 12 euros to dollars")

	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, store.CosineSimilarity(a, b), 1e-6)
	assert.Less(t, store.CosineSimilarity(a, c), 0.9)
	assert.Equal(t, "lexical", e.Name())
}

func TestIndex_StoreAndFind(t *testing.T) {
	ctx := context.Background()
	idx, _ := newSQLiteIndex(t)

	rec, err := idx.Store(ctx, "weather in Oslo tomorrow", `[{"taskId":"t1"}]`, []string{"weather"})
	require.NoError(t, err)
	assert.Greater(t, rec.Confidence, 0.5)
	_, err = idx.Store(ctx, "convert 12 euros to dollars", `[]`, nil)
	require.NoError(t, err)

	hits, err := idx.FindSimilar(ctx, "Weather in Oslo tomorrow")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].Record.ID)
	assert.Equal(t, []string{"weather"}, hits[0].Record.UsedCapabilities)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.InDelta(t, AdjustedConfidence(rec.Confidence, hits[0].Similarity), hits[0].Adjusted, 1e-9)

	none, err := idx.FindSimilar(ctx, "something unrelated entirely")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndex_BoostAndRefresh(t *testing.T) {
	ctx := context.Background()
	idx, _ := newSQLiteIndex(t)

	rec, err := idx.Store(ctx, "weather in Oslo", "plan", nil)
	require.NoError(t, err)

	hits, err := idx.FindSimilar(ctx, "weather in Oslo")
	require.NoError(t, err)
	require.Len(t, hits, 1)

	boosted, err := idx.Boost(ctx, hits[0])
	require.NoError(t, err)
	assert.Greater(t, boosted, rec.Confidence)

	hits, err = idx.FindSimilar(ctx, "weather in Oslo")
	require.NoError(t, err)
	assert.InDelta(t, boosted, hits[0].Record.Confidence, 1e-9)
	assert.Equal(t, 1, hits[0].Record.Hits)

	idx.Refresh(ctx, hits, false)
	hits, err = idx.FindSimilar(ctx, "weather in Oslo")
	require.NoError(t, err)
	assert.Less(t, hits[0].Record.Confidence, boosted)
	assert.Equal(t, 2, hits[0].Record.Hits)
}

func TestSQLiteBackend_UpdateMissing(t *testing.T) {
	_, b := newSQLiteIndex(t)
	err := b.UpdateConfidence(context.Background(), "nope", 0.5)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSQLiteBackend_ScanFallback(t *testing.T) {
	ctx := context.Background()
	_, b := newSQLiteIndex(t)
	b.distance = ""

	require.NoError(t, b.Put(ctx, NewRecord("weather in Oslo", "plan", 0.6, nil)))
	matches, err := b.FindSimilar(ctx, "weather in oslo", 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.6, matches[0].Record.Confidence)
}

func TestBest(t *testing.T) {
	assert.Nil(t, Best(nil))
	hits := []Scored{
		{Match: Match{Record: &Record{ID: "a"}}, Score: 0.4},
		{Match: Match{Record: &Record{ID: "b"}}, Score: 0.8},
		{Match: Match{Record: &Record{ID: "c"}}, Score: 0.6},
	}
	assert.Equal(t, "b", Best(hits).Record.ID)
}
