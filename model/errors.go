package model

import (
	"errors"
	"fmt"
)

// Parse errors.
var (
	ErrNestedCommand         = errors.New("nested command detected")
	ErrCommandMismatch       = errors.New("command mismatch")
	ErrUnclosedCommand       = errors.New("unclosed command")
	ErrMissingTargetMetadata = errors.New("missing target path")
	ErrInvalidCommand        = errors.New("invalid command type")
	ErrUnexpectedEnd         = errors.New("end of command without start")
)

// Execution errors.
var ErrInlineRevertDisabled = errors.New("inline REVERT commands are disabled")

// History errors.
var (
	ErrInvalidSteps    = errors.New("invalid steps value for revert")
	ErrNothingToRevert = errors.New("nothing to revert")
	ErrNotRevertible   = errors.New("selected patches cannot be reverted")
)

// ParseError is returned by the parser. It unwraps to one of the parse sentinels.
type ParseError struct {
	Err     error
	Line    int
	PatchID string
	Detail  string
}

func (e *ParseError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return fmt.Sprintf("line %d: %s", e.Line, msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExecutionError wraps the failure of a single command.
type ExecutionError struct {
	Err     error
	Line    int
	PatchID string
	Path    string
	Kind    Kind
}

func (e *ExecutionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Kind, e.Err)
	}
	return fmt.Sprintf("line %d: %s %s: %v", e.Line, e.Kind, e.Path, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
