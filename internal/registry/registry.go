// Package registry owns the capability units: their lifecycle, persistence,
// self-tests and model-driven maintenance.
//
// All registry state belongs to one goroutine. Public methods send it a
// closure and wait for the reply, so foreground calls and the maintenance
// loop never touch units concurrently. Model and interpreter calls run
// outside that goroutine; only their results are applied through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"autotool/internal/capability"
	"autotool/internal/events"
	"autotool/internal/llm"
	"autotool/internal/logging"
	"autotool/internal/resilience"
	"autotool/internal/sandbox"

	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("registry is closed")

// Options configures a Registry.
type Options struct {
	// Dir holds RegistryFile and MetricsFile.
	Dir          string
	RegistryFile string
	MetricsFile  string

	Author string
	// Standardize passes added sources through the model first.
	Standardize bool

	Client   llm.Client
	Executor *sandbox.Executor
	Retrier  *resilience.Retrier
	Emitter  events.Emitter

	// Now is replaced in tests.
	Now func() time.Time
}

// Registry is the capability registry.
type Registry struct {
	opts     Options
	client   llm.Client
	executor *sandbox.Executor
	retrier  *resilience.Retrier
	emitter  events.Emitter
	now      func() time.Time

	registryPath string
	metricsPath  string

	requests chan request
	quit     chan struct{}
	done     chan struct{}
	closed   atomic.Bool

	baseCtx    context.Context
	cancelBase context.CancelFunc
	bgMu       sync.Mutex
	background sync.WaitGroup
	improving  atomic.Bool

	predictions singleflight.Group
	interval    chan time.Duration
}

// state is only touched by the owner goroutine.
type state struct {
	units []*capability.Unit
	index map[string]int
	// metrics outlive units across rollback; removal drops them.
	metrics map[string]*capability.Metrics
}

type request struct {
	fn    func(*state) (any, error)
	reply chan response
}

type response struct {
	value any
	err   error
}

// New loads the registry documents from opts.Dir (missing files mean an
// empty registry) and starts the owner goroutine.
func New(opts Options) (*Registry, error) {
	if opts.RegistryFile == "" {
		opts.RegistryFile = "registry.json"
	}
	if opts.MetricsFile == "" {
		opts.MetricsFile = "metrics.json"
	}
	if opts.Executor == nil {
		opts.Executor = sandbox.New(sandbox.Config{})
	}
	if opts.Retrier == nil {
		opts.Retrier = resilience.NewRetrier(resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}, nil)
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Author == "" {
		opts.Author = "autotool"
	}

	r := &Registry{
		opts:         opts,
		client:       opts.Client,
		executor:     opts.Executor,
		retrier:      opts.Retrier,
		emitter:      opts.Emitter,
		now:          opts.Now,
		registryPath: filepath.Join(opts.Dir, opts.RegistryFile),
		metricsPath:  filepath.Join(opts.Dir, opts.MetricsFile),
		requests:     make(chan request),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		interval:     make(chan time.Duration, 1),
	}
	r.baseCtx, r.cancelBase = context.WithCancel(context.Background())

	st, err := r.load()
	if err != nil {
		r.cancelBase()
		return nil, err
	}
	logging.Registry("Loaded %d capabilities from %s", len(st.units), r.registryPath)

	go r.loop(st)
	return r, nil
}

func (r *Registry) loop(st *state) {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case req := <-r.requests:
			v, err := r.apply(st, req.fn)
			req.reply <- response{value: v, err: err}
		}
	}
}

// apply runs fn with panic protection so one bad request cannot kill the owner.
func (r *Registry) apply(st *state, fn func(*state) (any, error)) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			logging.RegistryError("registry request panicked: %v", p)
			err = fmt.Errorf("registry request panicked: %v", p)
		}
	}()
	return fn(st)
}

// do sends fn to the owner goroutine and waits for its reply.
func (r *Registry) do(ctx context.Context, fn func(*state) (any, error)) (any, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	req := request{fn: fn, reply: make(chan response, 1)}
	select {
	case r.requests <- req:
	case <-r.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// Once accepted the request runs to completion; wait for it.
	resp := <-req.reply
	return resp.value, resp.err
}

// Close stops background work and the owner goroutine.
func (r *Registry) Close() error {
	r.bgMu.Lock()
	if !r.closed.CompareAndSwap(false, true) {
		r.bgMu.Unlock()
		return nil
	}
	r.bgMu.Unlock()
	r.cancelBase()
	r.background.Wait()
	close(r.quit)
	<-r.done
	return nil
}

func (s *state) get(name string) (*capability.Unit, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.units[i], true
}

func (s *state) reindex() {
	s.index = make(map[string]int, len(s.units))
	for i, u := range s.units {
		s.index[u.Name] = i
	}
}
