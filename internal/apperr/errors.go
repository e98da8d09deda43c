// Package apperr provides the typed error taxonomy shared by the registry,
// the resilience wrapper and the orchestrator.
//
// Every error carries a Kind so callers can decide whether to retry, repair or
// surface it. Sentinels make the kinds usable with errors.Is:
//
//	if errors.Is(err, apperr.ErrNotFound) { ... }
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error for retry and reporting decisions.
type Kind string

const (
	// KindValidation marks bad or missing parameters. Never retried.
	KindValidation Kind = "VALIDATION"

	// KindNotFound marks an absent capability or unit. Never retried.
	KindNotFound Kind = "NOT_FOUND"

	// KindAlreadyExists marks an add against a name that is already taken.
	KindAlreadyExists Kind = "ALREADY_EXISTS"

	// KindNoHarness marks a test run against a unit without a generated harness.
	KindNoHarness Kind = "NO_HARNESS"

	// KindTransient marks a failure matching a retryable network pattern.
	KindTransient Kind = "TRANSIENT"

	// KindScriptExecutionFailed is terminal: the repair budget is exhausted.
	KindScriptExecutionFailed Kind = "SCRIPT_EXECUTION_FAILED"

	// KindGlobalRetryExceeded is terminal: the process-wide retry ceiling tripped.
	KindGlobalRetryExceeded Kind = "GLOBAL_RETRY_EXCEEDED"

	// KindInternal is everything else.
	KindInternal Kind = "INTERNAL"
)

// Sentinels for errors.Is comparisons.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrAlreadyExists         = &Error{Kind: KindAlreadyExists}
	ErrNoHarness             = &Error{Kind: KindNoHarness}
	ErrTransient             = &Error{Kind: KindTransient}
	ErrScriptExecutionFailed = &Error{Kind: KindScriptExecutionFailed}
	ErrGlobalRetryExceeded   = &Error{Kind: KindGlobalRetryExceeded}
	ErrInternal              = &Error{Kind: KindInternal}
)

// Error is a typed error with operation and key/value context.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
	Context map[string]any
}

// New creates an Error of the given kind.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, op string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Op: op, Message: msg, Err: cause}
}

// Errorf creates an Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause for errors.As / errors.Is chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// With adds a key/value pair to the error context and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// MarshalJSON renders the error for structured results and logs.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"kind":    string(e.Kind),
		"message": e.Error(),
	}
	if e.Op != "" {
		out["op"] = e.Op
	}
	if len(e.Context) > 0 {
		out["context"] = e.Context
	}
	return json.Marshal(out)
}

// ContextKeys returns the context keys in sorted order.
func (e *Error) ContextKeys() []string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTerminal reports whether err must not be retried or repaired further.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindScriptExecutionFailed, KindGlobalRetryExceeded:
		return true
	}
	return false
}

// IsRetryable reports whether the error kind permits a retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}
