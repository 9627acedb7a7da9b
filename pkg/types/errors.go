package types

import "fmt"

// StageError is returned by a build-pipeline stage on failure (spec.md
// §4.4, §7). Message is logged server-side only; MsgPublic is eventually
// POSTed to the backend and is user-visible.
type StageError struct {
	Message   string
	MsgPublic string
}

func (e *StageError) Error() string {
	return e.Message
}

// NewStageError builds a StageError, defaulting MsgPublic to Message when
// no separate public-facing text is given.
func NewStageError(message, msgPublic string) *StageError {
	if msgPublic == "" {
		msgPublic = message
	}
	return &StageError{Message: message, MsgPublic: msgPublic}
}

// WatchdogError is the fixed notification synthesized when the build
// child's wall-clock budget is exceeded (spec.md §4.3 step 5).
func WatchdogError() *StageError {
	return NewStageError(
		"Compilation took too long, killing...",
		"The compilation exceed the designated time.",
	)
}

// ExitError is synthesized when the build child exits without a prior IPC
// terminal message (spec.md §4.3 step 6).
func ExitError(signal string, code int) *StageError {
	msg := fmt.Sprintf("Process exited abnormally (%s): %d", signal, code)
	return NewStageError(msg, msg)
}

// WithCordovaTail augments e's MsgPublic with the tail of cordova.log,
// prefixed "CORDOVA LOG:" (spec.md §4.3 step 6). tail is expected to
// already be truncated to the last 10,000 bytes by the caller.
func (e *StageError) WithCordovaTail(tail string) *StageError {
	if tail == "" {
		return e
	}
	e.MsgPublic = fmt.Sprintf("%s\nCORDOVA LOG:%s", e.MsgPublic, tail)
	return e
}
