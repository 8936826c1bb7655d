package sampling

import (
	"errors"
	"fmt"
)

// Kind classifies sampling failures.
type Kind string

const (
	KindConstruction      Kind = "construction"       // invalid stage parameters
	KindEmptyDistribution Kind = "empty_distribution" // no candidates to sample from
	KindNumeric           Kind = "numeric"            // NaN/Inf produced during a step
	KindClosed            Kind = "closed"             // chain used after Close
)

// Error is the error type returned by every operation in this package.
// Two Errors match under errors.Is when their kinds are equal, so callers
// compare against the Err* sentinels.
type Error struct {
	Kind    Kind
	Stage   string
	Message string
	Cause   error
}

var (
	ErrConstruction      = &Error{Kind: KindConstruction, Message: "invalid stage parameters"}
	ErrEmptyDistribution = &Error{Kind: KindEmptyDistribution, Message: "empty distribution"}
	ErrNumeric           = &Error{Kind: KindNumeric, Message: "numeric failure"}
	ErrClosed            = &Error{Kind: KindClosed, Message: "chain is closed"}
)

func (e *Error) Error() string {
	prefix := "sampling"
	if e.Stage != "" {
		prefix += " " + e.Stage
	}
	msg := fmt.Sprintf("%s: %s: %s", prefix, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func constructionError(stage, format string, args ...any) *Error {
	e := newError(KindConstruction, format, args...)
	e.Stage = stage
	return e
}

// withStage tags err with the stage it surfaced from unless it already
// names one.
func withStage(err error, stage string) error {
	var se *Error
	if !errors.As(err, &se) {
		return &Error{Kind: KindNumeric, Stage: stage, Message: "stage failed", Cause: err}
	}
	if se.Stage != "" {
		return err
	}
	tagged := *se
	tagged.Stage = stage
	return &tagged
}
