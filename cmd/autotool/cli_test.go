package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliAdder = `package main

import "autotool/capkit"

func Execute(params map[string]any, api *capkit.API) (any, error) {
	a, _ := params["a"].(float64)
	b, _ := params["b"].(float64)
	return a + b, nil
}
`

const cliSchema = `{"signature":"add(a: number, b: number)","description":"Adds two numbers",
"parameters":{"required":["a","b"],"properties":{"a":{"type":"number"},"b":{"type":"number"}}}}`

// execute runs the root command with args against a fresh data directory.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--data-dir", dir, "--config", filepath.Join(dir, "missing.yaml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestToolsLifecycle(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("AUTOTOOL_DATA_DIR", "")
	dir := t.TempDir()

	src := filepath.Join(dir, "add.go")
	schema := filepath.Join(dir, "add.json")
	require.NoError(t, os.WriteFile(src, []byte(cliAdder), 0644))
	require.NoError(t, os.WriteFile(schema, []byte(cliSchema), 0644))

	out, err := execute(t, dir, "tools", "add", "add", src, "--schema", schema, "--tags", "math")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Added add 1.0.0")

	out, err = execute(t, dir, "tools", "exec", "add", "--params", `{"a":2,"b":3}`)
	require.NoError(t, err, out)
	assert.Equal(t, "5", strings.TrimSpace(out))

	out, err = execute(t, dir, "tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "add")
	assert.Contains(t, out, "untested")

	_, err = execute(t, dir, "tools", "exec", "missing")
	assert.Error(t, err)

	out, err = execute(t, dir, "tools", "remove", "add")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed add")
}

func TestModelCommandsNeedAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("AUTOTOOL_DATA_DIR", "")

	_, err := execute(t, t.TempDir(), "run", "add 2 and 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestRunsListEmpty(t *testing.T) {
	t.Setenv("AUTOTOOL_DATA_DIR", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	out, err := execute(t, t.TempDir(), "runs", "list")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestPayloadString(t *testing.T) {
	assert.Equal(t, "plain", payloadString("plain"))
	assert.Equal(t, "", payloadString(nil))
	assert.Equal(t, `{"a":1}`, payloadString(map[string]int{"a": 1}))
}
