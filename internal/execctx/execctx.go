// Package execctx assembles the context a subtask script runs against: the
// capabilities it may call and the results of the subtasks before it.
package execctx

import (
	"context"
	"sort"
	"sync"

	"autotool/internal/capkit"
	"autotool/internal/events"
)

// Invoker runs a capability by name. scratch is the run's shared store,
// exposed to the capability as api.Store.
type Invoker interface {
	Invoke(ctx context.Context, name string, params map[string]any, scratch map[string]any) (any, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name string, params map[string]any, scratch map[string]any) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, name string, params map[string]any, scratch map[string]any) (any, error) {
	return f(ctx, name, params, scratch)
}

// Entry is one stored subtask result.
type Entry struct {
	TaskID    string `json:"taskId"`
	ResultVar string `json:"resultVar,omitempty"`
	Value     any    `json:"result"`
}

// ResultStore accumulates subtask results for one run. Each result is
// addressable by its task id and, when declared, its resultVar.
type ResultStore struct {
	mu      sync.RWMutex
	values  map[string]any
	entries []Entry
	scratch map[string]any
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{values: map[string]any{}, scratch: map[string]any{}}
}

// Put records the result of taskID. A later result for the same key wins.
func (s *ResultStore) Put(taskID, resultVar string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[taskID] = value
	if resultVar != "" {
		s.values[resultVar] = value
	}
	s.entries = append(s.entries, Entry{TaskID: taskID, ResultVar: resultVar, Value: value})
}

// Get returns the value stored under key.
func (s *ResultStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot copies the key→value view.
func (s *ResultStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Keys lists every addressable key, sorted.
func (s *ResultStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns the results in the order they were stored.
func (s *ResultStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}

// Values returns the result values in the order they were stored.
func (s *ResultStore) Values() []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]any, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Value
	}
	return out
}

// Scratch is the run-wide mutable store shared with capabilities.
func (s *ResultStore) Scratch() map[string]any {
	return s.scratch
}

// Config describes one context to build.
type Config struct {
	Request string
	Results *ResultStore
	Invoker Invoker
	// Names are the capabilities the script may call.
	Names   []string
	Emitter events.Emitter
}

// Build returns a fresh Env. It must be rebuilt for every script execution
// because the result store grows between subtasks.
func Build(ctx context.Context, cfg Config) *capkit.Env {
	results := cfg.Results
	if results == nil {
		results = NewResultStore()
	}
	var invoke capkit.InvokeFunc
	if cfg.Invoker != nil {
		invoke = func(name string, params map[string]any) (any, error) {
			return cfg.Invoker.Invoke(ctx, name, params, results.Scratch())
		}
	}
	var emit capkit.EmitFunc
	if cfg.Emitter != nil {
		emit = cfg.Emitter.Emit
	}
	return capkit.NewEnv(capkit.EnvConfig{
		Request: cfg.Request,
		Results: results.Snapshot(),
		Store:   results.Scratch(),
		Names:   cfg.Names,
		Invoke:  invoke,
		Emit:    emit,
	})
}
