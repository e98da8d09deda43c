package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"autotool/internal/apperr"
	"autotool/internal/capability"
	"autotool/internal/jsonx"
	"autotool/internal/llm"
	"autotool/internal/logging"
)

// contractPrompt describes the module contract every unit must follow.
const contractPrompt = `A capability is a Go file in package main that exposes exactly one entry point:

    func Execute(params map[string]any, api *capkit.API) (any, error)

Rules:
- import "autotool/capkit" for the API type
- only these imports are allowed: bytes, encoding/base64, encoding/json, errors, fmt, math, path, path/filepath, regexp, sort, strconv, strings, time, unicode, unicode/utf8
- read inputs from params; numbers arrive as float64
- api.Store is scratch space shared for the run
- api.Emit(event, args...) publishes progress
- api.CallTool(name, params) invokes another capability
- return an error instead of panicking`

const harnessSystemPrompt = `You write test suites for autotool capabilities.

` + contractPrompt + `

A test suite is a Go file in package main, evaluated together with the capability source, that declares:
- func BeforeAll(t *capkit.T) for shared setup (optional)
- one or more independent func TestXxx(t *capkit.T) steps

Inside a step call Execute(params, t.API()) directly, check results with t.Assert(cond, "message") and record progress with t.Log("message"). Do not use the testing package. Do not call external services.

Respond with the Go source only.`

const standardizeSystemPrompt = `You convert arbitrary code into an autotool capability.

` + contractPrompt + `

Keep the behaviour of the original code. Respond with the Go source only.`

const improveSystemPrompt = `You improve autotool capabilities whose tests fail.

` + contractPrompt + `

Given the source, its schema and the last test failure, return an improved source that keeps the same contract.
If the source is already correct and the test is wrong, respond with the single word UNCHANGED.
Otherwise respond with the Go source only.`

// GenerateTestHarness asks the model for a test suite for the named unit and
// stores it.
func (r *Registry) GenerateTestHarness(ctx context.Context, name string) (string, error) {
	if r.client == nil {
		return "", apperr.New(apperr.KindInternal, "registry.generate_harness", "no model client configured")
	}
	u, err := r.Get(ctx, name)
	if err != nil {
		return "", err
	}

	userPrompt := fmt.Sprintf(`Generate a test suite for this capability:

Name: %s
Signature: %s
Description: %s
Parameters: %s

Source:
%s

Cover the happy path and at least one missing or invalid parameter case.`,
		u.Name, u.Schema.Signature, u.Schema.Description, paramsJSON(u.Schema), u.Source)

	text, err := llm.CompleteText(ctx, r.client, harnessSystemPrompt, userPrompt)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "registry.generate_harness", err)
	}
	harness := jsonx.StripFences(text)
	if harness == "" {
		return "", apperr.Errorf(apperr.KindInternal, "registry.generate_harness", "empty harness for %s", name)
	}

	_, err = r.do(ctx, func(st *state) (any, error) {
		cur, ok := st.get(name)
		if !ok {
			return nil, notFound("registry.generate_harness", name)
		}
		cur.TestHarness = harness
		return nil, r.saveAll(st)
	})
	if err != nil {
		return "", err
	}
	logging.RegistryDebug("Generated test harness for %s (%d bytes)", name, len(harness))
	return harness, nil
}

// Standardize rewrites source into the module contract. The result must
// declare Execute and pass the interpreter's import allow-list.
func (r *Registry) Standardize(ctx context.Context, name, source string, schema capability.Schema) (string, error) {
	if r.client == nil {
		return "", apperr.New(apperr.KindInternal, "registry.standardize", "no model client configured")
	}
	userPrompt := fmt.Sprintf(`Convert this code into a capability.

Name: %s
Signature: %s
Description: %s

Code:
%s`, name, schema.Signature, schema.Description, source)

	text, err := llm.CompleteText(ctx, r.client, standardizeSystemPrompt, userPrompt)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "registry.standardize", err)
	}
	out := jsonx.StripFences(text)
	if err := r.executor.Validate(out); err != nil {
		return "", apperr.Wrap(apperr.KindValidation, "registry.standardize", err)
	}
	return out, nil
}

// errUnchanged means the model kept the source as is.
var errUnchanged = errors.New("source unchanged")

// improve asks the model for a better source for a unit with a failing test
// and applies it through Update.
func (r *Registry) improve(ctx context.Context, name string) error {
	if r.client == nil {
		return apperr.New(apperr.KindInternal, "registry.improve", "no model client configured")
	}
	u, err := r.Get(ctx, name)
	if err != nil {
		return err
	}
	failure := "no test result recorded"
	if u.LastTestResult != nil {
		failure = u.LastTestResult.Message
	}

	userPrompt := fmt.Sprintf(`Improve this capability.

Name: %s
Signature: %s
Description: %s
Parameters: %s

Last test failure:
%s

Source:
%s

Test suite:
%s`, u.Name, u.Schema.Signature, u.Schema.Description, paramsJSON(u.Schema), failure, u.Source, u.TestHarness)

	text, err := llm.CompleteText(ctx, r.client, improveSystemPrompt, userPrompt)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "registry.improve", err)
	}
	out := jsonx.StripFences(text)
	if strings.EqualFold(strings.TrimSpace(out), "UNCHANGED") ||
		capability.NormalizeSource(out) == capability.NormalizeSource(u.Source) {
		return errUnchanged
	}
	if err := r.executor.Validate(out); err != nil {
		return apperr.Wrap(apperr.KindValidation, "registry.improve", err)
	}
	if _, err := r.Update(ctx, name, UpdateRequest{Source: &out}); err != nil {
		return err
	}
	logging.Registry("Improved capability %s", name)
	return nil
}

// Prediction is the model's view of which capabilities a request needs.
type Prediction struct {
	Likely      []string `json:"likely"`
	NewlyNeeded []string `json:"newlyNeeded"`
}

var predictionFormat = llm.Format{
	Hint:     `{"likely": ["capability names"], "newlyNeeded": ["short descriptions of missing capabilities"]}`,
	Required: []string{"likely"},
}

// PredictLikelyCapabilities asks the model which registered capabilities the
// request will need. Names the registry does not know are dropped. Without a
// model client every active name is returned. Concurrent calls for the same
// request share one model round trip.
func (r *Registry) PredictLikelyCapabilities(ctx context.Context, request string) (*Prediction, error) {
	names, err := r.Names(ctx)
	if err != nil {
		return nil, err
	}
	if r.client == nil || len(names) == 0 {
		return &Prediction{Likely: names}, nil
	}

	v, err, _ := r.predictions.Do(request, func() (any, error) {
		listing, err := r.CompactListing(ctx, nil)
		if err != nil {
			return nil, err
		}
		msgs := []llm.Message{
			llm.System("You select which existing capabilities are useful for a request. Only use names from the list."),
			llm.User(fmt.Sprintf("Request:\n%s\n\nCapabilities:\n%s", request, listing)),
		}
		var p Prediction
		if _, err := llm.CompleteStructured(ctx, r.client, r.emitter, msgs, predictionFormat, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		if errors.Is(err, llm.ErrStructureMismatch) {
			logging.RegistryWarn("Capability prediction unparseable, using full listing")
			return &Prediction{Likely: names}, nil
		}
		return nil, apperr.Wrap(apperr.KindInternal, "registry.predict", err)
	}
	p := v.(*Prediction)

	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	out := &Prediction{NewlyNeeded: append([]string(nil), p.NewlyNeeded...)}
	for _, n := range p.Likely {
		if known[n] {
			out.Likely = append(out.Likely, n)
		} else {
			logging.RegistryDebug("Dropping unknown predicted capability %q", n)
		}
	}
	return out, nil
}

type scriptCapability struct {
	Name        string                         `json:"name"`
	Signature   string                         `json:"signature"`
	Description string                         `json:"description"`
	Required    []string                       `json:"required"`
	Properties  map[string]capability.Property `json:"properties"`
	Tags        []string                       `json:"tags"`
	Source      string                         `json:"source"`
}

var scriptCapabilityFormat = llm.Format{
	Hint: `{"name": "snake_case_name", "signature": "name(param: type)", "description": "...", ` +
		`"required": ["param"], "properties": {"param": {"type": "string", "description": "..."}}, ` +
		`"tags": ["..."], "source": "Go source"}`,
	Required: []string{"name", "source"},
}

// CreateFromScript turns a script that solved part of a request into a
// reusable capability.
func (r *Registry) CreateFromScript(ctx context.Context, request, script string) (*capability.Unit, error) {
	if r.client == nil {
		return nil, apperr.New(apperr.KindInternal, "registry.create_from_script", "no model client configured")
	}
	msgs := []llm.Message{
		llm.System("You turn one-off scripts into reusable autotool capabilities.\n\n" + contractPrompt),
		llm.User(fmt.Sprintf("This script solved part of the request %q.\n\nScript:\n%s\n\n"+
			"Generalize it into a capability: choose a name, parameters and a description.", request, script)),
	}
	var sc scriptCapability
	if _, err := llm.CompleteStructured(ctx, r.client, r.emitter, msgs, scriptCapabilityFormat, &sc); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "registry.create_from_script", err)
	}
	source := jsonx.StripFences(sc.Source)
	if err := r.executor.Validate(source); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "registry.create_from_script", err)
	}
	return r.Add(ctx, AddRequest{
		Name:   sc.Name,
		Source: source,
		Schema: capability.Schema{
			Signature:   sc.Signature,
			Description: sc.Description,
			Parameters:  capability.Parameters{Required: sc.Required, Properties: sc.Properties},
		},
		Tags:          append(sc.Tags, "generated"),
		OriginalQuery: request,
	})
}

func paramsJSON(s capability.Schema) string {
	if len(s.Parameters.Properties) == 0 && len(s.Parameters.Required) == 0 {
		return "none"
	}
	data, err := json.Marshal(s.Parameters)
	if err != nil {
		keys := make([]string, 0, len(s.Parameters.Properties))
		for k := range s.Parameters.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, ", ")
	}
	return string(data)
}
