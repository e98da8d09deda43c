// Package orchestrator turns a natural-language request into an ordered plan
// of scripts, runs them against the capability registry and remembers what
// worked.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"autotool/internal/apperr"
	"autotool/internal/capability"
	"autotool/internal/capkit"
	"autotool/internal/config"
	"autotool/internal/events"
	"autotool/internal/execctx"
	"autotool/internal/llm"
	"autotool/internal/logging"
	"autotool/internal/memory"
	"autotool/internal/registry"
	"autotool/internal/resilience"
	"autotool/internal/store"
	"autotool/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Capabilities is the registry surface the orchestrator uses.
type Capabilities interface {
	execctx.Invoker
	resilience.CapabilitySource
	Names(ctx context.Context) ([]string, error)
	CompactListing(ctx context.Context, names []string) (string, error)
	PredictLikelyCapabilities(ctx context.Context, request string) (*registry.Prediction, error)
	CreateFromScript(ctx context.Context, request, script string) (*capability.Unit, error)
	TriggerImprove()
}

// ScriptRunner executes one subtask script.
type ScriptRunner interface {
	ExecuteScript(ctx context.Context, script string, env *capkit.Env) (any, error)
}

// RunRecorder persists run history.
type RunRecorder interface {
	BeginRun(ctx context.Context, runID, request string) error
	FinishRun(ctx context.Context, runID string, success, fromMemory bool, runErr string) error
	RecordSubtask(ctx context.Context, rec store.SubtaskRecord) error
}

// runScoped is implemented by emitters that can tag events with a run id.
type runScoped interface {
	WithRun(runID string) events.Emitter
}

// Options configures an Orchestrator.
type Options struct {
	Client       llm.Client
	Capabilities Capabilities
	Executor     ScriptRunner
	// Memory may be nil to disable recall.
	Memory *memory.Index
	// Runs may be nil to skip run history.
	Runs    RunRecorder
	Emitter events.Emitter

	Config config.OrchestratorConfig
	// MaxRepairAttempts bounds the script repair loop.
	MaxRepairAttempts int
}

// Result is the outcome of Run. Run never returns an error; failures are
// reported here.
type Result struct {
	RunID      string    `json:"runId"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Response   string    `json:"response,omitempty"`
	Results    []any     `json:"results,omitempty"`
	Subtasks   []Subtask `json:"subtasks,omitempty"`
	FromMemory bool      `json:"fromMemory"`
	MemoryID   string    `json:"memoryId,omitempty"`
}

// Orchestrator runs requests.
type Orchestrator struct {
	client   llm.Client
	caps     Capabilities
	executor ScriptRunner
	memory   *memory.Index
	runs     RunRecorder
	emitter  events.Emitter
	cfg      config.OrchestratorConfig
	repairs  int
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("orchestrator requires a model client")
	}
	if opts.Capabilities == nil {
		return nil, fmt.Errorf("orchestrator requires a capability registry")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("orchestrator requires a script executor")
	}
	if opts.Emitter == nil {
		opts.Emitter = events.Nop
	}
	if opts.MaxRepairAttempts < 1 {
		opts.MaxRepairAttempts = 3
	}
	if opts.Config == (config.OrchestratorConfig{}) {
		opts.Config = config.DefaultOrchestratorConfig()
	}
	return &Orchestrator{
		client:   opts.Client,
		caps:     opts.Capabilities,
		executor: opts.Executor,
		memory:   opts.Memory,
		runs:     opts.Runs,
		emitter:  opts.Emitter,
		cfg:      opts.Config,
		repairs:  opts.MaxRepairAttempts,
	}, nil
}

// run carries the state of one Run call.
type run struct {
	id      string
	request string
	emit    events.Emitter
	log     *logging.Logger
	hits    []memory.Scored
	names   []string
	results *execctx.ResultStore
}

// Run executes request end to end. Panics and errors anywhere in the
// pipeline become Result{Success: false}.
func (o *Orchestrator) Run(ctx context.Context, request string) (res Result) {
	runID := uuid.NewString()
	res.RunID = runID

	emit := o.emitter
	if rs, ok := o.emitter.(runScoped); ok {
		emit = rs.WithRun(runID)
	}

	ctx, span := telemetry.Tracer("orchestrator").Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("run_id", runID)))
	start := time.Now()

	o.beginRun(ctx, runID, request)
	defer func() {
		if p := recover(); p != nil {
			logging.OrchestratorError("run %s panicked: %v\n%s", runID, p, debug.Stack())
			res = Result{RunID: runID, Success: false, Error: fmt.Sprintf("internal error: %v", p), Subtasks: res.Subtasks}
		}
		if !res.Success {
			span.SetStatus(codes.Error, res.Error)
			emit.Emit(events.Error, res.Error)
		}
		span.SetAttributes(attribute.Bool("from_memory", res.FromMemory), attribute.Int("subtasks", len(res.Subtasks)))
		span.End()
		telemetry.RecordRun(ctx, res.Success, res.FromMemory)
		o.finishRun(ctx, res)
		logging.WithRequestID(logging.CategoryOrchestrator, runID).Info("run finished success=%v memory=%v in %v",
			res.Success, res.FromMemory, time.Since(start).Round(time.Millisecond))
	}()

	r := &run{
		id:      runID,
		request: request,
		emit:    emit,
		log:     logging.WithRequestID(logging.CategoryOrchestrator, runID),
		results: execctx.NewResultStore(),
	}
	r.log.Info("run started: %s", truncate(request, 120))
	emit.Emit(events.Info, "run started")

	out, err := o.execute(ctx, r)
	if err != nil {
		out.RunID = runID
		out.Success = false
		out.Error = err.Error()
		span.RecordError(err)
		return out
	}
	out.RunID = runID
	out.Success = true
	return out
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (Result, error) {
	// 1. Likely capabilities and similar memories.
	listingNames, err := o.listingNames(ctx, r)
	if err != nil {
		return Result{}, err
	}
	if o.memory != nil {
		hits, err := o.memory.Search(ctx, r.request, o.cfg.MemoryThreshold)
		if err != nil {
			r.log.Warn("memory lookup failed, continuing without: %v", err)
		}
		r.hits = hits
	}

	// 2. Reuse a confident memory.
	if best := memory.Best(r.hits); best != nil && best.Adjusted > o.cfg.AdaptThreshold {
		out, err := o.adapt(ctx, r, best)
		if err == nil {
			return out, nil
		}
		r.log.Warn("adapting memory %s failed, decomposing instead: %v", best.Record.ID, err)
	}

	// 3. Plan.
	listing, err := o.caps.CompactListing(ctx, listingNames)
	if err != nil {
		return Result{}, err
	}
	plan, err := o.decompose(ctx, r.request, listing, r.hits)
	if err != nil {
		return Result{}, err
	}
	r.log.Info("plan has %d subtask(s)", len(plan))

	// 4. Execute in order.
	used, err := o.runPlan(ctx, r, plan)
	if err != nil {
		if o.memory != nil {
			o.memory.Refresh(ctx, r.hits, false)
		}
		return Result{Subtasks: plan}, err
	}

	out := Result{Subtasks: plan, Results: r.results.Values()}
	out.Response = summarize(plan)
	r.emit.Emit(events.Text, out.Response)

	// 5. Remember, refresh, improve.
	if o.memory != nil {
		data, _ := json.Marshal(plan)
		rec, err := o.memory.Store(ctx, r.request, string(data), used)
		if err != nil {
			r.log.Warn("failed to store memory: %v", err)
		} else {
			out.MemoryID = rec.ID
		}
		o.memory.Refresh(ctx, r.hits, true)
	}
	if o.cfg.PromoteScripts {
		o.promote(ctx, r, plan)
	}
	if o.cfg.ImproveAfterRun {
		o.caps.TriggerImprove()
	}
	return out, nil
}

// listingNames picks the capabilities shown to the planner and binds every
// active name for scripts.
func (o *Orchestrator) listingNames(ctx context.Context, r *run) ([]string, error) {
	names, err := o.caps.Names(ctx)
	if err != nil {
		return nil, err
	}
	r.names = names
	if !o.cfg.PredictCapabilities || len(names) == 0 {
		return nil, nil
	}
	p, err := o.caps.PredictLikelyCapabilities(ctx, r.request)
	if err != nil {
		r.log.Warn("capability prediction failed, listing all: %v", err)
		return nil, nil
	}
	if len(p.NewlyNeeded) > 0 {
		r.log.Debug("capabilities not yet available: %v", p.NewlyNeeded)
	}
	if len(p.Likely) == 0 {
		return nil, nil
	}
	return p.Likely, nil
}

const adaptSystemPrompt = `You adapt a previous answer to a new, similar request.
Keep what still applies, change what the new request changes, and reply with the adapted answer only.`

// adapt answers from a remembered response with one model call.
func (o *Orchestrator) adapt(ctx context.Context, r *run, best *memory.Scored) (Result, error) {
	r.log.Info("reusing memory %s (adjusted confidence %.2f)", best.Record.ID, best.Adjusted)
	userPrompt := fmt.Sprintf("Previous request:\n%s\n\nPrevious answer:\n%s\n\nNew request:\n%s",
		best.Record.Input, best.Record.Response, r.request)
	text, err := llm.CompleteText(ctx, o.client, adaptSystemPrompt, userPrompt)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "orchestrator.adapt", err)
	}
	if _, err := o.memory.Boost(ctx, *best); err != nil {
		r.log.Warn("failed to boost memory %s: %v", best.Record.ID, err)
	}
	r.emit.Emit(events.Text, text)
	return Result{
		Response:   text,
		Results:    []any{text},
		FromMemory: true,
		MemoryID:   best.Record.ID,
	}, nil
}

// promote turns successful scripts that called no capability into new
// capabilities.
func (o *Orchestrator) promote(ctx context.Context, r *run, plan []Subtask) {
	for _, st := range plan {
		if len(UsedCapabilities(st.Script, r.names)) > 0 {
			continue
		}
		if _, ok := o.caps.FindBySource(st.Script); ok {
			continue
		}
		u, err := o.caps.CreateFromScript(ctx, r.request, st.Script)
		if err != nil {
			r.log.Warn("could not promote subtask %s: %v", st.TaskID, err)
			continue
		}
		r.emit.Emit(events.Info, fmt.Sprintf("subtask %s promoted to capability %s", st.TaskID, u.Name))
	}
}

func summarize(plan []Subtask) string {
	if len(plan) == 0 {
		return ""
	}
	last := plan[len(plan)-1].ScriptResult
	if s, ok := last.(string); ok {
		return s
	}
	data, err := json.Marshal(last)
	if err != nil {
		return fmt.Sprint(last)
	}
	return string(data)
}

func (o *Orchestrator) beginRun(ctx context.Context, runID, request string) {
	if o.runs == nil {
		return
	}
	if err := o.runs.BeginRun(context.WithoutCancel(ctx), runID, request); err != nil {
		logging.OrchestratorError("failed to record run %s: %v", runID, err)
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, res Result) {
	if o.runs == nil {
		return
	}
	if err := o.runs.FinishRun(context.WithoutCancel(ctx), res.RunID, res.Success, res.FromMemory, res.Error); err != nil {
		logging.OrchestratorError("failed to finish run %s: %v", res.RunID, err)
	}
}
