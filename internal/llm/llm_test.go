package llm

import (
	"context"
	"errors"
	"testing"

	"autotool/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteText(t *testing.T) {
	c := NewScriptedClient("hello")
	got, err := CompleteText(context.Background(), c, "be brief", "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	require.Len(t, c.Calls, 1)
	assert.Equal(t, []Message{System("be brief"), User("say hi")}, c.Calls[0])

	_, err = CompleteText(context.Background(), c, "", "again")
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestCompleteTextRejectsBlankReply(t *testing.T) {
	c := NewScriptedClient("   ")
	_, err := CompleteText(context.Background(), c, "", "x")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSplitSystemAppendsFormatHint(t *testing.T) {
	sys, rest := SplitSystem(
		[]Message{System("a"), User("u"), System("b"), Assistant("m")},
		Apply(WithResponseFormat(`{"likely":[]}`)),
	)
	assert.Equal(t, "a\n\nb\n\nRespond using this format:\n{\"likely\":[]}", sys)
	assert.Equal(t, []Message{User("u"), Assistant("m")}, rest)
}

func TestCompleteStructured(t *testing.T) {
	type patch struct {
		ModifiedScript string `json:"modifiedScript"`
		Explanation    string `json:"explanation"`
	}
	format := Format{Hint: `{"modifiedScript": "...", "explanation": "..."}`, Required: []string{"modifiedScript"}}

	t.Run("conforming reply decodes", func(t *testing.T) {
		c := NewScriptedClient("Sure:\n```json\n{\"note\":1}\n{\"modifiedScript\":\"return 1, nil\",\"explanation\":\"fixed\"}\n```")
		rec := &events.Recorder{}

		var p patch
		raw, err := CompleteStructured(context.Background(), c, rec, []Message{User("fix")}, format, &p)
		require.NoError(t, err)
		assert.Contains(t, raw, "modifiedScript")
		assert.Equal(t, "return 1, nil", p.ModifiedScript)
		assert.Empty(t, rec.Events())
	})

	t.Run("mismatch returns raw text and emits error", func(t *testing.T) {
		c := NewScriptedClient("I could not do it")
		rec := &events.Recorder{}

		var p patch
		raw, err := CompleteStructured(context.Background(), c, rec, []Message{User("fix")}, format, &p)
		assert.ErrorIs(t, err, ErrStructureMismatch)
		assert.Equal(t, "I could not do it", raw)
		assert.Equal(t, []string{events.Error}, rec.Names())
	})

	t.Run("transport error propagates", func(t *testing.T) {
		c := NewScriptedClient()
		c.Err = errors.New("connection refused")
		var p patch
		raw, err := CompleteStructured(context.Background(), c, nil, []Message{User("fix")}, format, &p)
		assert.EqualError(t, err, "connection refused")
		assert.Empty(t, raw)
	})
}

func TestScriptedClientRoute(t *testing.T) {
	c := NewScriptedClient("queued")
	c.Route = func(msgs []Message) (string, bool) {
		if msgs[len(msgs)-1].Content == "ping" {
			return "pong", true
		}
		return "", false
	}

	got, err := CompleteText(context.Background(), c, "", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	got, err = CompleteText(context.Background(), c, "", "other")
	require.NoError(t, err)
	assert.Equal(t, "queued", got)
	assert.Equal(t, 2, c.CallCount())
	assert.Contains(t, c.LastPrompt(), "other")
}

func TestTracedPassesThrough(t *testing.T) {
	c := Traced(NewScriptedClient("ok"), "scripted")
	resp, err := c.Complete(context.Background(), []Message{User("x")})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())

	_, err = c.Complete(context.Background(), []Message{User("x")})
	assert.Error(t, err)
}

func TestClientFunc(t *testing.T) {
	var got Options
	f := ClientFunc(func(ctx context.Context, m []Message, opts ...Option) (*Response, error) {
		got = Apply(opts...)
		return TextResponse("f"), nil
	})
	resp, err := f.Complete(context.Background(), nil, WithTemperature(0.5), WithJSON())
	require.NoError(t, err)
	assert.Equal(t, "f", resp.Text())
	require.NotNil(t, got.Temperature)
	assert.Equal(t, float32(0.5), *got.Temperature)
	assert.True(t, got.JSON)
	assert.Equal(t, "", (*Response)(nil).Text())
}
