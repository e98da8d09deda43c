package sandbox

import (
	"errors"
	"regexp"
	"strconv"
)

// ExecError is a script failure with enough context for the repair loop.
type ExecError struct {
	Message string
	Stack   string
	// Line is the failing line within the caller's script, 0 if unknown.
	Line   int
	Script string
	Cause  error
}

func (e *ExecError) Error() string {
	return e.Message
}

func (e *ExecError) Unwrap() error {
	return e.Cause
}

// AsExecError extracts an ExecError from err's chain.
func AsExecError(err error) (*ExecError, bool) {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

var positionPattern = regexp.MustCompile(`(?:^|[\s:(])(\d+):(\d+):`)

// compileError converts an interpreter or parser error, shifting the reported
// line by the wrapper offset so it points into the caller's text.
func compileError(err error, script string, offset int) *ExecError {
	ee := &ExecError{Message: err.Error(), Script: script, Cause: err}
	if m := positionPattern.FindStringSubmatch(err.Error()); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n-offset > 0 {
			ee.Line = n - offset
		}
	}
	return ee
}

// LineOf returns the failing line recorded in err, or 0.
func LineOf(err error) int {
	if ee, ok := AsExecError(err); ok {
		return ee.Line
	}
	return 0
}
