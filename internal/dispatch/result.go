// Package dispatch routes inbound envelopes to per-event handlers and turns
// every outcome into an explicit Result that the session logs and discards.
package dispatch

import (
	"context"
	"errors"

	"github.com/alochat/realtime/internal/protocol"
	"github.com/alochat/realtime/internal/store"
	"github.com/alochat/realtime/internal/worker"
)

// Code classifies a handler outcome.
type Code string

const (
	CodeOK           Code = "ok"
	CodeBadPayload   Code = "bad_payload"
	CodeNotFound     Code = "not_found"
	CodeForbidden    Code = "forbidden"
	CodeStoreFailure Code = "store_failure"
	CodeUnavailable  Code = "unavailable"
	CodeUnknownEvent Code = "unknown_event"
	CodeInternal     Code = "internal"
)

// Result is what a handler returns instead of an error.
type Result struct {
	Code Code
	Err  error
}

// OK is the success result.
func OK() Result { return Result{Code: CodeOK} }

// Fail builds a failure with an explicit code.
func Fail(code Code, err error) Result { return Result{Code: code, Err: err} }

// FromError classifies err. A nil error is OK.
func FromError(err error) Result {
	switch {
	case err == nil:
		return OK()
	case errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrMissingField),
		errors.Is(err, protocol.ErrInvalidType):
		return Fail(CodeBadPayload, err)
	case errors.Is(err, store.ErrNotFound):
		return Fail(CodeNotFound, err)
	case errors.Is(err, store.ErrNotMember):
		return Fail(CodeForbidden, err)
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrClosed),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Fail(CodeUnavailable, err)
	default:
		return Fail(CodeStoreFailure, err)
	}
}

// Ok reports whether the result is a success.
func (r Result) Ok() bool { return r.Code == CodeOK }

func (r Result) Error() string {
	if r.Err == nil {
		return string(r.Code)
	}
	return string(r.Code) + ": " + r.Err.Error()
}
