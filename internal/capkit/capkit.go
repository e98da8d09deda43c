// Package capkit is the surface scripts, capabilities and test harnesses see
// from inside the interpreter. Scripts import it as "autotool/capkit".
//
// A subtask script:
//
//	func Run(env *capkit.Env) (any, error) {
//		forecast, err := env.Call("weather", map[string]any{"city": "Oslo"})
//		...
//	}
//
// A capability:
//
//	func Execute(params map[string]any, api *capkit.API) (any, error)
//
// A test harness:
//
//	func BeforeAll(t *capkit.T) { ... }
//	func TestSunny(t *capkit.T) { t.Assert(ok, "expected sunny") }
package capkit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ImportPath is the path scripts use to import this package.
const ImportPath = "autotool/capkit"

// InvokeFunc calls a capability by name.
type InvokeFunc func(name string, params map[string]any) (any, error)

// EmitFunc publishes an event.
type EmitFunc func(event string, payload any)

// ErrUnknownCapability is returned by Env.Call for names not bound in the env.
var ErrUnknownCapability = errors.New("capability not available in this context")

// Env is the per-invocation context of a subtask script: the bound
// capabilities and every earlier subtask result.
type Env struct {
	// Request is the original request text.
	Request string
	// Results holds earlier subtask results under their task id and resultVar.
	Results map[string]any
	// Store is scratch space that lives for the whole run.
	Store map[string]any

	names  []string
	bound  map[string]bool
	invoke InvokeFunc
	emit   EmitFunc
}

// EnvConfig builds an Env.
type EnvConfig struct {
	Request string
	Results map[string]any
	Store   map[string]any
	Names   []string
	Invoke  InvokeFunc
	Emit    EmitFunc
}

// NewEnv creates an Env from cfg.
func NewEnv(cfg EnvConfig) *Env {
	names := append([]string(nil), cfg.Names...)
	sort.Strings(names)
	bound := make(map[string]bool, len(names))
	for _, n := range names {
		bound[n] = true
	}
	results := cfg.Results
	if results == nil {
		results = map[string]any{}
	}
	store := cfg.Store
	if store == nil {
		store = map[string]any{}
	}
	return &Env{
		Request: cfg.Request,
		Results: results,
		Store:   store,
		names:   names,
		bound:   bound,
		invoke:  cfg.Invoke,
		emit:    cfg.Emit,
	}
}

// Call invokes a bound capability.
func (e *Env) Call(name string, params map[string]any) (any, error) {
	if !e.bound[name] || e.invoke == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	if params == nil {
		params = map[string]any{}
	}
	return e.invoke(name, params)
}

// Result returns an earlier subtask result by task id or resultVar.
func (e *Env) Result(key string) any {
	return e.Results[key]
}

// Has reports whether a capability is bound.
func (e *Env) Has(name string) bool {
	return e.bound[name]
}

// Capabilities lists the bound capability names, sorted.
func (e *Env) Capabilities() []string {
	return append([]string(nil), e.names...)
}

// ResultKeys lists the available result keys, sorted.
func (e *Env) ResultKeys() []string {
	keys := make([]string, 0, len(e.Results))
	for k := range e.Results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Emit publishes a "text" style event from the script.
func (e *Env) Emit(event string, payload any) {
	if e.emit != nil {
		e.emit(event, payload)
	}
}

// API is handed to a capability's Execute function.
type API struct {
	// Store is mutable key/value scratch space shared for the run.
	Store map[string]any

	emit   EmitFunc
	invoke InvokeFunc
}

// NewAPI creates an API. Store may be nil.
func NewAPI(store map[string]any, emit EmitFunc, invoke InvokeFunc) *API {
	if store == nil {
		store = map[string]any{}
	}
	return &API{Store: store, emit: emit, invoke: invoke}
}

// Emit publishes an event. Multiple args are sent as a slice.
func (a *API) Emit(event string, args ...any) {
	if a.emit == nil {
		return
	}
	switch len(args) {
	case 0:
		a.emit(event, nil)
	case 1:
		a.emit(event, args[0])
	default:
		a.emit(event, args)
	}
}

// CallTool invokes another capability through the registry.
func (a *API) CallTool(name string, params map[string]any) (any, error) {
	if a.invoke == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	if params == nil {
		params = map[string]any{}
	}
	return a.invoke(name, params)
}

// AssertionError is the panic value raised by a failed T.Assert.
type AssertionError struct {
	Step    string
	Message string
}

func (e *AssertionError) Error() string {
	if e.Step == "" {
		return "assertion failed: " + e.Message
	}
	return e.Step + ": assertion failed: " + e.Message
}

// T is passed to every harness step.
type T struct {
	mu     sync.Mutex
	step   string
	logs   []string
	failed *AssertionError
	api    *API
}

// NewT creates a harness context whose API() is api.
func NewT(api *API) *T {
	if api == nil {
		api = NewAPI(nil, nil, nil)
	}
	return &T{api: api}
}

// Assert stops the current step when cond is false.
func (t *T) Assert(cond bool, message string) {
	if cond {
		return
	}
	t.mu.Lock()
	err := &AssertionError{Step: t.step, Message: message}
	if t.failed == nil {
		t.failed = err
	}
	t.mu.Unlock()
	panic(err)
}

// Log records a message in the harness transcript.
func (t *T) Log(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logs = append(t.logs, message)
}

// API returns the API to pass to Execute from a test step.
func (t *T) API() *API {
	return t.api
}

// SetStep names the step being run. Called by the harness runner.
func (t *T) SetStep(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = name
}

// Failure returns the first failed assertion, or nil.
func (t *T) Failure() *AssertionError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Logs returns the transcript.
func (t *T) Logs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.logs...)
}
