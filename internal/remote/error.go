package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a remote execution failure.
type ErrorKind int

const (
	// KindIO is an archive or filesystem failure.
	KindIO ErrorKind = iota

	// KindExtract is a failure unpacking the input archive.
	KindExtract

	// KindCompile is a failure of the compiler invocation itself.
	KindCompile

	// KindPack is a failure packing the output archive.
	KindPack

	// KindTimeout is a deadline expiry. Eligible for caller-driven retry
	// like any other compile failure; never retried here.
	KindTimeout

	// KindCancelled is a caller cancellation.
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindExtract:
		return "extract"
	case KindCompile:
		return "compile"
	case KindPack:
		return "pack"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExecError reports a sandbox execution failure with enough context to
// diagnose it.
type ExecError struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Op names the failing step.
	Op string

	// Stdout and Stderr are the compiler's captured output, when the
	// compiler ran at all.
	Stdout string
	Stderr string

	// Err is the underlying error.
	Err error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("sandbox execution failed (%s) during %s", e.Kind, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}

	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// execErr builds an ExecError, classifying context expiry as timeout or
// cancellation regardless of the failing step.
func execErr(ctx context.Context, kind ErrorKind, op string, err error) *ExecError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		kind = KindCancelled
	}

	return &ExecError{Kind: kind, Op: op, Err: err}
}
