package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Executor runs one stage. Implementations are external collaborators: the
// engine only relies on the output shape and on the error classification.
type Executor interface {
	Execute(ctx context.Context, stage Descriptor, input json.RawMessage) (Output, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, stage Descriptor, input json.RawMessage) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, stage Descriptor, input json.RawMessage) (Output, error) {
	return f(ctx, stage, input)
}

// Output is what a stage produced.
type Output struct {
	Value       json.RawMessage
	Explanation *string
	Usage       *Usage
}

// Usage reports provider consumption for a stage run, when there was any.
type Usage struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// ErrorClass tells the engine how to react to a failed stage.
type ErrorClass int

const (
	// NonRecoverable halts the pipeline and marks the document failed.
	NonRecoverable ErrorClass = iota
	// Recoverable halts the pipeline and asks for human review.
	Recoverable
)

func (c ErrorClass) String() string {
	if c == Recoverable {
		return "recoverable"
	}
	return "non_recoverable"
}

// StageError is a classified stage failure.
type StageError struct {
	Stage string
	Class ErrorClass
	Err   error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RecoverableError marks err as transient.
func RecoverableError(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Class: Recoverable, Err: err}
}

// NonRecoverableError marks err as permanent.
func NonRecoverableError(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Class: NonRecoverable, Err: err}
}

// PanicError carries a recovered executor panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("executor panic: %v", e.Value)
}

// ClassOf classifies err. Explicit classifications win; deadline expiry is
// recoverable; everything else, panics included, is non-recoverable.
func ClassOf(err error) ErrorClass {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Recoverable
	}
	return NonRecoverable
}

// Classify returns err as a *StageError attributed to stage.
func Classify(stage string, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return &StageError{Stage: stage, Class: se.Class, Err: se.Err}
	}
	return &StageError{Stage: stage, Class: ClassOf(err), Err: err}
}
