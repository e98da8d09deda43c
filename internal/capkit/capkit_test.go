package capkit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvCall(t *testing.T) {
	var got map[string]any
	env := NewEnv(EnvConfig{
		Names:   []string{"weather", "add"},
		Results: map[string]any{"t1": 3, "sum": 3},
		Invoke: func(name string, params map[string]any) (any, error) {
			got = params
			return name + "!", nil
		},
	})

	out, err := env.Call("weather", nil)
	require.NoError(t, err)
	assert.Equal(t, "weather!", out)
	assert.NotNil(t, got)

	_, err = env.Call("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownCapability)

	assert.Equal(t, []string{"add", "weather"}, env.Capabilities())
	assert.Equal(t, []string{"sum", "t1"}, env.ResultKeys())
	assert.Equal(t, 3, env.Result("sum"))
	assert.True(t, env.Has("add"))
}

func TestAPIEmitShapes(t *testing.T) {
	var payloads []any
	api := NewAPI(nil, func(_ string, p any) { payloads = append(payloads, p) }, nil)
	api.Emit("a")
	api.Emit("b", 1)
	api.Emit("c", 1, 2)

	assert.Equal(t, []any{nil, 1, []any{1, 2}}, payloads)
	api.Store["k"] = "v"
	assert.Equal(t, "v", api.Store["k"])

	_, err := api.CallTool("x", nil)
	assert.ErrorIs(t, err, ErrUnknownCapability)
}

func TestTAssert(t *testing.T) {
	h := NewT(nil)
	h.SetStep("TestSunny")
	h.Log("starting")
	h.Assert(true, "fine")

	defer func() {
		r := recover()
		require.NotNil(t, r)
		var ae *AssertionError
		require.True(t, errors.As(r.(error), &ae))
		assert.Equal(t, "TestSunny: assertion failed: expected sunny", ae.Error())
		assert.Equal(t, ae, h.Failure())
		assert.Equal(t, []string{"starting"}, h.Logs())
	}()
	h.Assert(false, "expected sunny")
}
