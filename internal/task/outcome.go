package task

import (
	"context"
	"fmt"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// OutcomeKind classifies how a single attempt ended.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	TransientFailure
	PermanentFailure
)

var outcomeKindNames = map[OutcomeKind]string{
	Success:          "success",
	TransientFailure: "transient failure",
	PermanentFailure: "permanent failure",
}

func (kind OutcomeKind) String() string {
	if name, ok := outcomeKindNames[kind]; ok {
		return name
	}

	return fmt.Sprintf("outcome(%d)", int(kind))
}

// Outcome is the result of one invocation of a work unit.
type Outcome struct {
	Cause error
	Kind  OutcomeKind
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome {
	return Outcome{Kind: Success}
}

// Transient returns an outcome that may succeed if retried.
func Transient(cause error) Outcome {
	return Outcome{Kind: TransientFailure, Cause: cause}
}

// Permanent returns an outcome that must not be retried.
func Permanent(cause error) Outcome {
	return Outcome{Kind: PermanentFailure, Cause: cause}
}

// IsSuccess reports whether the attempt succeeded.
func (outcome Outcome) IsSuccess() bool {
	return outcome.Kind == Success
}

func (outcome Outcome) String() string {
	if outcome.Cause == nil {
		return outcome.Kind.String()
	}

	return fmt.Sprintf("%s: %v", outcome.Kind, outcome.Cause)
}

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err error
}

// MarkPermanent wraps err so that FromError classifies it as a permanent failure.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

func (err *PermanentError) Error() string {
	return err.Err.Error()
}

func (err *PermanentError) Unwrap() error {
	return err.Err
}

// FromError classifies an error returned by a work function. Unclassified errors are transient.
func FromError(err error) Outcome {
	if err == nil {
		return Succeeded()
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return Permanent(err)
	}

	return Transient(err)
}

// UnitFunc adapts an error-returning function to a WorkUnit.
func UnitFunc(fn func(ctx context.Context) error) WorkUnit {
	return func(ctx context.Context) Outcome {
		return FromError(fn(ctx))
	}
}
