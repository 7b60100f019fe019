// Package errors provides error handling for watchtower.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, wrapping, hints and details from a single import.
//
// Usage:
//
//	if err := store.Finalize(ctx, id, status, reason); err != nil {
//	    return errors.Wrapf(err, "failed to finalize job %s", id)
//	}
//
//	// Attach structured context for logs
//	return errors.WithDetail(err, "company_id="+companyID)
//
//	// Classify
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails

	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Mark tags err so that Is(err, reference) holds without changing the message.
// Used to attach a failure category to an error raised deep in a call chain.
var Mark = crdb.Mark

// Sentinel errors shared across packages. Check with Is, wrap with Wrap.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input or configuration
	ErrInvalidRequest = New("invalid request")

	// ErrTimeout indicates an operation exceeded its deadline
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a state conflict, e.g. a job already in a terminal state
	ErrConflict = New("resource conflict")
)

// IsNotFoundError reports whether err is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError reports whether err is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// WrapNotFound marks err as not-found and adds context.
func WrapNotFound(err error, context string) error {
	return Wrap(Mark(err, ErrNotFound), context)
}

// WrapInvalidRequest marks err as invalid-request and adds context.
func WrapInvalidRequest(err error, context string) error {
	return Wrap(Mark(err, ErrInvalidRequest), context)
}

// IsConflictError reports whether err is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// WrapConflict marks err as a state conflict and adds context.
func WrapConflict(err error, context string) error {
	return Wrap(Mark(err, ErrConflict), context)
}
