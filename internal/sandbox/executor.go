// Package sandbox evaluates agent-authored Go with the Yaegi interpreter.
//
// Every evaluation gets a fresh interpreter loaded with the standard library
// symbols and package capkit. Imports are checked against an allow-list before
// anything runs, and a wall-clock timeout bounds each evaluation. None of this
// is a security boundary against hostile code.
package sandbox

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"autotool/internal/capkit"
	"autotool/internal/logging"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultTimeout bounds an evaluation when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config configures an Executor.
type Config struct {
	Timeout       time.Duration
	ExtraPackages []string
}

// Executor runs scripts, capability units and test harnesses.
type Executor struct {
	allowed map[string]bool
	timeout time.Duration
}

// New creates an Executor.
func New(cfg Config) *Executor {
	allowed := make(map[string]bool, len(defaultAllowed)+len(cfg.ExtraPackages)+1)
	for _, p := range defaultAllowed {
		allowed[p] = true
	}
	for _, p := range cfg.ExtraPackages {
		allowed[p] = true
	}
	allowed[capkit.ImportPath] = true

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{allowed: allowed, timeout: timeout}
}

// Timeout returns the per-evaluation bound.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// ExecuteScript runs a subtask script against env and returns Run's result.
func (e *Executor) ExecuteScript(ctx context.Context, script string, env *capkit.Env) (any, error) {
	p := prepareScript(script)
	i, err := e.load(p)
	if err != nil {
		return nil, err
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, &ExecError{Message: "Run function not found: " + err.Error(), Script: script}
	}
	run, ok := v.Interface().(func(*capkit.Env) (any, error))
	if !ok {
		return nil, &ExecError{
			Message: "Run has incorrect signature (expected: func(env *capkit.Env) (any, error))",
			Script:  script,
		}
	}

	logging.SandboxDebug("running script (%d bytes)", len(script))
	return e.call(ctx, script, func() (any, error) { return run(env) })
}

// ExecuteUnit runs a capability's Execute entry point.
func (e *Executor) ExecuteUnit(ctx context.Context, source string, params map[string]any, api *capkit.API) (any, error) {
	p := prepareFile(source)
	i, err := e.load(p)
	if err != nil {
		return nil, err
	}

	execute, err := lookupExecute(i, source)
	if err != nil {
		return nil, err
	}
	return e.call(ctx, source, func() (any, error) { return execute(params, api) })
}

// Validate checks that source parses, passes the import allow-list, compiles
// and exposes Execute with the capability signature.
func (e *Executor) Validate(source string) error {
	p := prepareFile(source)
	if !declares(p.code, "Execute") {
		return &ExecError{Message: "source does not declare func Execute", Script: source}
	}
	i, err := e.load(p)
	if err != nil {
		return err
	}
	_, err = lookupExecute(i, source)
	return err
}

// StepResult is the outcome of one harness step.
type StepResult struct {
	Name     string
	Passed   bool
	Message  string
	Duration time.Duration
}

// HarnessReport is the outcome of a harness run.
type HarnessReport struct {
	Passed  bool
	Message string
	Steps   []StepResult
	Logs    []string
}

// RunHarness evaluates the unit source and the harness in one interpreter,
// then runs BeforeAll followed by every TestXxx step. A failing BeforeAll
// skips the remaining steps. Later steps still run after a failed test; the
// report message is the first failure.
func (e *Executor) RunHarness(ctx context.Context, unitSource, harness string, t *capkit.T) (*HarnessReport, error) {
	if t == nil {
		t = capkit.NewT(nil)
	}
	unit := prepareFile(unitSource)
	suite := prepareFile(harness)

	steps, err := harnessSteps(suite.code)
	if err != nil {
		return nil, &ExecError{Message: err.Error(), Script: harness}
	}
	if len(steps) == 0 {
		return nil, &ExecError{Message: "harness declares no BeforeAll or Test steps", Script: harness}
	}

	i, err := e.load(unit)
	if err != nil {
		return nil, err
	}
	if err := e.checkImports(suite.code, harness); err != nil {
		return nil, err
	}
	if _, err := i.Eval(suite.code); err != nil {
		return nil, compileError(err, harness, suite.offset)
	}

	fns := make(map[string]func(*capkit.T), len(steps))
	for _, name := range steps {
		v, err := i.Eval("main." + name)
		if err != nil {
			return nil, &ExecError{Message: fmt.Sprintf("step %s not found: %v", name, err), Script: harness}
		}
		fn, ok := v.Interface().(func(*capkit.T))
		if !ok {
			return nil, &ExecError{Message: fmt.Sprintf("step %s has incorrect signature (expected: func(t *capkit.T))", name), Script: harness}
		}
		fns[name] = fn
	}

	report := &HarnessReport{Passed: true}
	_, err = e.call(ctx, harness, func() (any, error) {
		for _, name := range steps {
			res := runStep(t, name, fns[name])
			report.Steps = append(report.Steps, res)
			if !res.Passed && report.Passed {
				report.Passed = false
				report.Message = res.Message
			}
			if !res.Passed && name == "BeforeAll" {
				break
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	report.Logs = t.Logs()
	if report.Passed {
		report.Message = fmt.Sprintf("%d step(s) passed", len(report.Steps))
	}
	return report, nil
}

func runStep(t *capkit.T, name string, fn func(*capkit.T)) (res StepResult) {
	start := time.Now()
	res = StepResult{Name: name, Passed: true}
	t.SetStep(name)
	defer func() {
		res.Duration = time.Since(start)
		r := recover()
		if r == nil {
			return
		}
		res.Passed = false
		if ae, ok := r.(*capkit.AssertionError); ok {
			res.Message = ae.Error()
			return
		}
		// The interpreter may rewrap the panic value; the T still holds the
		// assertion if one fired in this step.
		if ae := t.Failure(); ae != nil && ae.Step == name {
			res.Message = ae.Error()
			return
		}
		res.Message = fmt.Sprintf("%s: panic: %v", name, r)
	}()
	fn(t)
	return res
}

// load prepares an interpreter with p evaluated.
func (e *Executor) load(p prepared) (*interp.Interpreter, error) {
	if err := e.checkImports(p.code, p.code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(capkitSymbols); err != nil {
		return nil, fmt.Errorf("failed to load capkit: %w", err)
	}
	if _, err := i.Eval(p.code); err != nil {
		return nil, compileError(err, p.code, p.offset)
	}
	return i, nil
}

func (e *Executor) checkImports(code, original string) error {
	paths, err := imports(code)
	if err != nil {
		return compileError(err, original, 0)
	}
	var forbidden []string
	for _, p := range paths {
		if !e.allowed[p] {
			forbidden = append(forbidden, p)
		}
	}
	if len(forbidden) > 0 {
		return &ExecError{
			Message: fmt.Sprintf("forbidden imports detected: %v (allowed: %s)", forbidden, strings.Join(e.allowedList(), ", ")),
			Script:  original,
		}
	}
	return nil
}

func (e *Executor) allowedList() []string {
	out := make([]string, 0, len(e.allowed))
	for p := range e.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// call runs fn on its own goroutine, bounded by the executor timeout and ctx.
// Panics become ExecErrors carrying the goroutine stack.
func (e *Executor) call(ctx context.Context, script string, fn func() (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		v   any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &ExecError{
					Message: fmt.Sprintf("panic: %v", r),
					Stack:   string(debug.Stack()),
					Script:  script,
				}}
			}
		}()
		v, err := fn()
		done <- outcome{v: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if _, ok := o.err.(*ExecError); !ok {
				return nil, &ExecError{Message: o.err.Error(), Script: script, Cause: o.err}
			}
		}
		return o.v, o.err
	case <-ctx.Done():
		// The interpreted goroutine cannot be stopped; it is abandoned.
		logging.Get(logging.CategorySandbox).Warn("evaluation abandoned after %v: %v", e.timeout, ctx.Err())
		return nil, &ExecError{
			Message: fmt.Sprintf("script execution timed out after %v", e.timeout),
			Script:  script,
			Cause:   ctx.Err(),
		}
	}
}

func lookupExecute(i *interp.Interpreter, source string) (func(map[string]any, *capkit.API) (any, error), error) {
	v, err := i.Eval("main.Execute")
	if err != nil {
		return nil, &ExecError{Message: "Execute function not found: " + err.Error(), Script: source}
	}
	fn, ok := v.Interface().(func(map[string]any, *capkit.API) (any, error))
	if !ok {
		return nil, &ExecError{
			Message: "Execute has incorrect signature (expected: func(params map[string]any, api *capkit.API) (any, error))",
			Script:  source,
		}
	}
	return fn, nil
}
