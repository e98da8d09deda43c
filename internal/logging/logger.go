// Package logging provides config-driven categorized logging for autotool.
// Each subsystem logs under its own category; categories can be switched off
// individually. Output goes through a single zap core so console, JSON and
// file sinks behave the same for every category.
// Before Initialize is called every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Boot/initialization
	CategoryConfig       Category = "config"       // Config loading and reloads
	CategoryAPI          Category = "api"          // Generative model calls
	CategoryRegistry     Category = "registry"     // Capability registry lifecycle
	CategorySandbox      Category = "sandbox"      // Script and unit interpretation
	CategoryResilience   Category = "resilience"   // Retry and repair loops
	CategoryOrchestrator Category = "orchestrator" // Request decomposition and runs
	CategoryMemory       Category = "memory"       // Memory index and confidence
	CategoryStore        Category = "store"        // Run history persistence
	CategoryEvents       Category = "events"       // Event bus delivery
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional log file; empty means stderr
	Categories map[string]bool // per-category switches; missing means enabled
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
	logFile    *os.File
)

// Initialize builds the shared zap logger from cfg.
// Calling it again replaces the previous logger.
func Initialize(cfg Config) error {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		sink = zapcore.AddSync(f)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level))

	mu.Lock()
	old := logFile
	base = logger
	logFile = file
	categories = cfg.Categories
	loggers = make(map[Category]*Logger)
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s file=%q", level.String(), cfg.Format, cfg.File)
	return nil
}

// UseZap installs an existing zap logger, e.g. zaptest.NewLogger in tests.
func UseZap(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// Zap returns the shared zap logger.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes buffered output and closes the log file, if any.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...any) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...any) { Get(CategoryBoot).Debug(format, args...) }

// API logs to the api category
func API(format string, args ...any) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...any) { Get(CategoryAPI).Debug(format, args...) }

// APIWarn logs a warning to the api category
func APIWarn(format string, args ...any) { Get(CategoryAPI).Warn(format, args...) }

// Registry logs to the registry category
func Registry(format string, args ...any) { Get(CategoryRegistry).Info(format, args...) }

// RegistryDebug logs debug to the registry category
func RegistryDebug(format string, args ...any) { Get(CategoryRegistry).Debug(format, args...) }

// RegistryWarn logs a warning to the registry category
func RegistryWarn(format string, args ...any) { Get(CategoryRegistry).Warn(format, args...) }

// RegistryError logs an error to the registry category
func RegistryError(format string, args ...any) { Get(CategoryRegistry).Error(format, args...) }

// Sandbox logs to the sandbox category
func Sandbox(format string, args ...any) { Get(CategorySandbox).Info(format, args...) }

// SandboxDebug logs debug to the sandbox category
func SandboxDebug(format string, args ...any) { Get(CategorySandbox).Debug(format, args...) }

// Resilience logs to the resilience category
func Resilience(format string, args ...any) { Get(CategoryResilience).Info(format, args...) }

// ResilienceDebug logs debug to the resilience category
func ResilienceDebug(format string, args ...any) { Get(CategoryResilience).Debug(format, args...) }

// ResilienceWarn logs a warning to the resilience category
func ResilienceWarn(format string, args ...any) { Get(CategoryResilience).Warn(format, args...) }

// Orchestrator logs to the orchestrator category
func Orchestrator(format string, args ...any) { Get(CategoryOrchestrator).Info(format, args...) }

// OrchestratorDebug logs debug to the orchestrator category
func OrchestratorDebug(format string, args ...any) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// OrchestratorError logs an error to the orchestrator category
func OrchestratorError(format string, args ...any) {
	Get(CategoryOrchestrator).Error(format, args...)
}

// Memory logs to the memory category
func Memory(format string, args ...any) { Get(CategoryMemory).Info(format, args...) }

// MemoryDebug logs debug to the memory category
func MemoryDebug(format string, args ...any) { Get(CategoryMemory).Debug(format, args...) }

// MemoryWarn logs a warning to the memory category
func MemoryWarn(format string, args ...any) { Get(CategoryMemory).Warn(format, args...) }

// Store logs to the store category
func Store(format string, args ...any) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }

// StoreError logs an error to the store category
func StoreError(format string, args ...any) { Get(CategoryStore).Error(format, args...) }

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// WithRequestID creates a run-scoped logger carrying a correlation ID.
func WithRequestID(category Category, requestID string) *Logger {
	return Get(category).With("req", requestID)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
