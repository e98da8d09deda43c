package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clearEnv blanks every variable applyEnvOverrides reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "AUTOTOOL_MODEL",
		"AUTOTOOL_DATA_DIR", "AUTOTOOL_QDRANT_ADDR", "AUTOTOOL_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "autotool", cfg.Name)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 0.9, cfg.Orchestrator.MemoryThreshold)
	assert.Equal(t, 0.8, cfg.Orchestrator.AdaptThreshold)
	assert.Equal(t, 0.5, cfg.Orchestrator.BaselineConfidence)
	assert.Equal(t, 30*time.Second, cfg.GetSandboxTimeout())
	assert.Equal(t, time.Hour, cfg.GetMaintenanceInterval())
	assert.Equal(t, time.Second, cfg.GetBaseDelay())
	assert.NoError(t, cfg.Validate())
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sandbox.Timeout = "soon"
	cfg.LLM.Timeout = "-5s"

	assert.Equal(t, 30*time.Second, cfg.GetSandboxTimeout())
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "autotool.yaml")

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.Sandbox.Timeout = "5s"
	cfg.Registry.DropInDir = "capabilities"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", loaded.LLM.APIKey)
	assert.Equal(t, 5*time.Second, loaded.GetSandboxTimeout())
	assert.Equal(t, "capabilities", loaded.Registry.DropInDir)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autotool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  adapt_threshold: 0.7\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Orchestrator.AdaptThreshold)
	assert.Equal(t, 0.9, cfg.Orchestrator.MemoryThreshold)
	assert.Equal(t, "registry.json", cfg.Registry.RegistryFile)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autotool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

// =============================================================================
// ENV OVERRIDES
// =============================================================================

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY sets provider if empty", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "g-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "g-key", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("GOOGLE_API_KEY only fills an empty key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GOOGLE_API_KEY", "google-key")

		cfg := &Config{LLM: LLMConfig{APIKey: "from-file"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "from-file", cfg.LLM.APIKey)

		cfg = &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "google-key", cfg.LLM.APIKey)
	})

	t.Run("paths and levels", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("AUTOTOOL_DATA_DIR", "/var/lib/autotool")
		t.Setenv("AUTOTOOL_QDRANT_ADDR", "qdrant:6334")
		t.Setenv("AUTOTOOL_LOG_LEVEL", "debug")
		t.Setenv("AUTOTOOL_MODEL", "gemini-2.5-pro")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/lib/autotool", cfg.DataDir)
		assert.Equal(t, "qdrant:6334", cfg.Memory.QdrantAddr)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	})
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad provider", func(c *Config) { c.LLM.Provider = "oracle" }, "invalid llm provider"},
		{"bad backend", func(c *Config) { c.Memory.Backend = "redis" }, "invalid memory backend"},
		{"qdrant without embedder", func(c *Config) { c.Memory.Backend = "qdrant" }, "requires an embedding provider"},
		{"zero attempts", func(c *Config) { c.Resilience.MaxAttempts = 0 }, "max_attempts"},
		{"threshold above one", func(c *Config) { c.Orchestrator.AdaptThreshold = 1.5 }, "adapt_threshold"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.RequireAPIKey())
	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestPathResolution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "autotool.db"), cfg.MemoryDatabasePath())
	cfg.Memory.DatabasePath = "/elsewhere/memory.db"
	assert.Equal(t, "/elsewhere/memory.db", cfg.MemoryDatabasePath())

	cfg.Logging.File = "logs/autotool.log"
	assert.Equal(t, filepath.Join("/data", "logs", "autotool.log"), cfg.LoggingOptions().File)
}

// =============================================================================
// WATCHER
// =============================================================================

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autotool.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	defer func() {
		cancel()
		<-w.Done()
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	next := DefaultConfig()
	next.Registry.MaintenanceInterval = "5m"
	require.NoError(t, next.Save(path))

	select {
	case c := <-changed:
		assert.Equal(t, 5*time.Minute, c.GetMaintenanceInterval())
		assert.Equal(t, 5*time.Minute, w.Config().GetMaintenanceInterval())
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_KeepsPreviousOnInvalidConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "autotool.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  adapt_threshold: 3\n"), 0644))
	w.reload()

	assert.Equal(t, 0.8, w.Config().Orchestrator.AdaptThreshold)
}
