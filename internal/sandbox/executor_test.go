package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"autotool/internal/capkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnv(results map[string]any) *capkit.Env {
	return capkit.NewEnv(capkit.EnvConfig{
		Names:   []string{"double"},
		Results: results,
		Invoke: func(name string, params map[string]any) (any, error) {
			return params["n"].(int) * 2, nil
		},
	})
}

func TestExecuteScript_BareBody(t *testing.T) {
	ex := New(Config{})
	out, err := ex.ExecuteScript(context.Background(), `
x, err := env.Call("double", map[string]any{"n": 21})
if err != nil {
	return nil, err
}
return x, nil`, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestExecuteScript_FullFile(t *testing.T) {
	ex := New(Config{})
	out, err := ex.ExecuteScript(context.Background(), `package main

import (
	"strings"

	"autotool/capkit"
)

func Run(env *capkit.Env) (any, error) {
	return strings.ToUpper(env.Result("greeting").(string)), nil
}
`, newEnv(map[string]any{"greeting": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "HI", out)
}

func TestExecuteScript_AutoImports(t *testing.T) {
	ex := New(Config{})
	out, err := ex.ExecuteScript(context.Background(),
		`return strings.Repeat("ab", 2) + fmt.Sprint(1), nil`, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, "abab1", out)
}

func TestExecuteScript_ForbiddenImport(t *testing.T) {
	ex := New(Config{})
	_, err := ex.ExecuteScript(context.Background(), `package main

import (
	"os"

	"autotool/capkit"
)

func Run(env *capkit.Env) (any, error) { return os.Getpid(), nil }
`, newEnv(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden imports detected: [os]")
}

func TestExecuteScript_CompileErrorLine(t *testing.T) {
	ex := New(Config{})
	_, err := ex.ExecuteScript(context.Background(), "y := 1\nreturn undefinedThing + y, nil", newEnv(nil))
	require.Error(t, err)
	ee, ok := AsExecError(err)
	require.True(t, ok)
	assert.Contains(t, ee.Message, "undefinedThing")
	assert.Equal(t, 2, ee.Line)
}

func TestExecuteScript_ReturnedErrorKeepsMessage(t *testing.T) {
	ex := New(Config{})
	_, err := ex.ExecuteScript(context.Background(),
		`return nil, errors.New("connection refused while dialing")`, newEnv(nil))
	require.Error(t, err)
	assert.Equal(t, "connection refused while dialing", err.Error())
	_, ok := AsExecError(err)
	assert.True(t, ok)
}

func TestExecuteScript_CapabilityErrorUnwraps(t *testing.T) {
	sentinel := errors.New("upstream broke")
	env := capkit.NewEnv(capkit.EnvConfig{
		Names:  []string{"flaky"},
		Invoke: func(string, map[string]any) (any, error) { return nil, sentinel },
	})
	ex := New(Config{})
	_, err := ex.ExecuteScript(context.Background(), `return env.Call("flaky", nil)`, env)
	assert.ErrorIs(t, err, sentinel)
}

func TestExecuteScript_PanicCarriesStack(t *testing.T) {
	ex := New(Config{})
	_, err := ex.ExecuteScript(context.Background(), `
var m map[string]int
m["a"] = 1
return m, nil`, newEnv(nil))
	require.Error(t, err)
	ee, ok := AsExecError(err)
	require.True(t, ok)
	assert.Contains(t, ee.Message, "panic")
	assert.NotEmpty(t, ee.Stack)
}

func TestExecuteScript_Timeout(t *testing.T) {
	ex := New(Config{Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := ex.ExecuteScript(context.Background(), `
time.Sleep(300 * time.Millisecond)
return 1, nil`, newEnv(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

const doubler = `package main

import "autotool/capkit"

func Execute(params map[string]any, api *capkit.API) (any, error) {
	n, ok := params["n"].(int)
	if !ok {
		return nil, fmt.Errorf("n must be an int")
	}
	api.Store["last"] = n
	api.Emit("doubled", n*2)
	return n * 2, nil
}
`

func TestExecuteUnit(t *testing.T) {
	// doubler uses fmt without importing it.
	ex := New(Config{})
	_, err := ex.ExecuteUnit(context.Background(), doubler, map[string]any{"n": 2}, capkit.NewAPI(nil, nil, nil))
	require.Error(t, err)

	fixed := `package main

import (
	"fmt"

	"autotool/capkit"
)

func Execute(params map[string]any, api *capkit.API) (any, error) {
	n, ok := params["n"].(int)
	if !ok {
		return nil, fmt.Errorf("n must be an int")
	}
	api.Store["last"] = n
	api.Emit("doubled", n*2)
	return n * 2, nil
}
`
	var emitted []string
	api := capkit.NewAPI(nil, func(ev string, _ any) { emitted = append(emitted, ev) }, nil)
	out, err := ex.ExecuteUnit(context.Background(), fixed, map[string]any{"n": 4}, api)
	require.NoError(t, err)
	assert.Equal(t, 8, out)
	assert.Equal(t, 4, api.Store["last"])
	assert.Equal(t, []string{"doubled"}, emitted)

	_, err = ex.ExecuteUnit(context.Background(), fixed, map[string]any{"n": "x"}, api)
	assert.EqualError(t, err, "n must be an int")

	assert.NoError(t, ex.Validate(fixed))
}

func TestValidate(t *testing.T) {
	ex := New(Config{})
	assert.ErrorContains(t, ex.Validate(`package main

func Run() {}
`), "does not declare func Execute")

	assert.ErrorContains(t, ex.Validate(`package main

func Execute(x int) int { return x }
`), "incorrect signature")

	// No package clause: one is added.
	assert.NoError(t, ex.Validate(`func Execute(params map[string]any, api *capkit.API) (any, error) { return len(params), nil }`))
}

const unitUnderTest = `package main

import "autotool/capkit"

func Execute(params map[string]any, api *capkit.API) (any, error) {
	a, _ := params["a"].(int)
	b, _ := params["b"].(int)
	return a + b, nil
}
`

func TestRunHarness(t *testing.T) {
	ex := New(Config{})

	t.Run("passing", func(t *testing.T) {
		harness := `package main

import "autotool/capkit"

var base int

func TestAdds(t *capkit.T) {
	got, err := Execute(map[string]any{"a": base, "b": 2}, t.API())
	t.Assert(err == nil, "no error")
	t.Assert(got == 3, "1+2 should be 3")
}

func BeforeAll(t *capkit.T) {
	base = 1
	t.Log("ready")
}
`
		report, err := ex.RunHarness(context.Background(), unitUnderTest, harness, nil)
		require.NoError(t, err)
		assert.True(t, report.Passed, report.Message)
		require.Len(t, report.Steps, 2)
		assert.Equal(t, "BeforeAll", report.Steps[0].Name)
		assert.Equal(t, []string{"ready"}, report.Logs)
	})

	t.Run("failing assertion message", func(t *testing.T) {
		harness := `package main

import "autotool/capkit"

func BeforeAll(t *capkit.T) {}

func TestWrong(t *capkit.T) {
	got, _ := Execute(map[string]any{"a": 1, "b": 1}, t.API())
	t.Assert(got == 3, "1+1 should be 3")
}

func TestRight(t *capkit.T) {
	got, _ := Execute(map[string]any{"a": 1, "b": 1}, t.API())
	t.Assert(got == 2, "1+1 should be 2")
}
`
		report, err := ex.RunHarness(context.Background(), unitUnderTest, harness, nil)
		require.NoError(t, err)
		assert.False(t, report.Passed)
		assert.Contains(t, report.Message, "1+1 should be 3")
		require.Len(t, report.Steps, 3)
		assert.True(t, report.Steps[2].Passed)
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := ex.RunHarness(context.Background(), unitUnderTest, "package main\n", nil)
		assert.ErrorContains(t, err, "no BeforeAll or Test steps")
	})
}
