package caserunner

import "fmt"

// stageAbort is the control-flow signal produced by a failed assertion. It
// unwinds the remaining directives of the current stage and is consumed by
// the stage driver. It never escapes Run and is never reported on its own;
// the originating assertion already recorded a Failure.
type stageAbort struct{}

func (stageAbort) Error() string { return "assertion failed, stage aborted" }

var errStageAbort = stageAbort{}

// CallError reports that a call target could not even be resolved or
// launched. Distinct from a command exiting non-zero, which is a captured
// outcome left to the assertion layer.
type CallError struct {
	Cause string
}

func (e *CallError) Error() string { return e.Cause }

// ConfigError reports a malformed directive or argument block. It indicates
// a case-definition bug, so it travels the uncaught-fault path rather than
// being handled as a runtime condition.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// UnknownDirectiveError reports a stage entry naming a directive that is not
// in the dispatch table.
type UnknownDirectiveError struct {
	Name string
}

func (e *UnknownDirectiveError) Error() string {
	return fmt.Sprintf("unknown directive: %q", e.Name)
}

// panicFault wraps a recovered panic together with the stack captured at the
// point of recovery.
type panicFault struct {
	value any
	stack []byte
}

func (e *panicFault) Error() string { return fmt.Sprintf("panic: %v", e.value) }
