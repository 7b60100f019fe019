package async

import (
	"context"

	"github.com/teranos/watchtower/errors"
)

// Failure taxonomy. Each sentinel is attached with errors.Mark, so it
// survives further wrapping and is tested with errors.Is.
var (
	// ErrTransientStore marks storage I/O faults during create, claim or finalize
	ErrTransientStore = errors.New("transient store error")
	// ErrResolution marks a claimed job whose company or user context is missing
	ErrResolution = errors.New("resolution error")
	// ErrPipeline marks any failure reported by the analysis pipeline
	ErrPipeline = errors.New("pipeline error")
	// ErrTickLoad marks a failure to load tracking preferences for a tick
	ErrTickLoad = errors.New("tick load error")
	// ErrQueueFull is returned by Enqueue when the active-job ceiling is reached
	ErrQueueFull = errors.New("queue full")
)

// ErrorKind is the log-friendly classification of a job or tick failure
type ErrorKind string

const (
	ErrorKindTransientStore ErrorKind = "transient_store"
	ErrorKindResolution     ErrorKind = "resolution"
	ErrorKindPipeline       ErrorKind = "pipeline"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindTickLoad       ErrorKind = "tick_load"
	ErrorKindQueueFull      ErrorKind = "queue_full"
	ErrorKindUnknown        ErrorKind = "unknown"
)

func mark(err, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// MarkTransient tags err as a transient store fault
func MarkTransient(err error) error { return mark(err, ErrTransientStore) }

// MarkResolution tags err as a resolution failure
func MarkResolution(err error) error { return mark(err, ErrResolution) }

// MarkPipeline tags err as a pipeline failure
func MarkPipeline(err error) error { return mark(err, ErrPipeline) }

// MarkTickLoad tags err as a tick load failure
func MarkTickLoad(err error) error { return mark(err, ErrTickLoad) }

// ClassifyError maps an error to its ErrorKind.
// Timeouts are checked before pipeline so a pipeline call that ran past its
// deadline is reported as a timeout.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.Is(err, ErrQueueFull):
		return ErrorKindQueueFull
	case errors.Is(err, ErrTickLoad):
		return ErrorKindTickLoad
	case errors.Is(err, ErrResolution):
		return ErrorKindResolution
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		return ErrorKindTimeout
	case errors.Is(err, ErrPipeline):
		return ErrorKindPipeline
	case errors.Is(err, ErrTransientStore):
		return ErrorKindTransientStore
	default:
		return ErrorKindUnknown
	}
}
