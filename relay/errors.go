package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies the step an upload failed in. A Kind is itself an error so
// callers can match it with errors.Is(err, relay.StalledUpload).
type Kind string

const (
	SourceUnavailable   Kind = "source unavailable"
	SessionStartFailed  Kind = "session start failed"
	ChunkReadFailed     Kind = "chunk read failed"
	ChunkUploadFailed   Kind = "chunk upload failed"
	StalledUpload       Kind = "stalled upload"
	SessionFinishFailed Kind = "session finish failed"
)

func (k Kind) Error() string {
	return string(k)
}

// UploadError is the single terminal error of an aborted upload.
type UploadError struct {
	Kind Kind
	// State is the state the upload was in when it aborted.
	State State
	// Offset is the chunk offset involved, -1 outside of the transfer loop.
	Offset int64
	// Fatal reports that retrying the same step cannot succeed.
	Fatal bool
	Err   error
}

func (e *UploadError) Error() string {
	msg := string(e.Kind)
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Is matches the error against its Kind.
func (e *UploadError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// SourceErrorKind ...
type SourceErrorKind int

const (
	SourceTransient SourceErrorKind = iota
	SourceNotFound
	SourceAccessDenied
	SourceInvalidMetadata
	SourceRangeUnsatisfiable
)

func (k SourceErrorKind) String() string {
	switch k {
	case SourceNotFound:
		return "not found"
	case SourceAccessDenied:
		return "access denied"
	case SourceInvalidMetadata:
		return "invalid metadata"
	case SourceRangeUnsatisfiable:
		return "range not satisfiable"
	default:
		return "transient error"
	}
}

// SourceError is returned by SourceReader implementations.
type SourceError struct {
	Kind     SourceErrorKind
	Op       string
	ObjectID string
	// Body is the raw error payload of the source, if any.
	Body []byte
	Err  error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("source.%s %s: %s", e.Op, e.ObjectID, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Body) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	return msg
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Transient reports whether a later attempt may succeed.
func (e *SourceError) Transient() bool {
	return e.Kind == SourceTransient
}

// Phase is one of the three calls of the resumable upload protocol.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseTransfer Phase = "transfer"
	PhaseFinish   Phase = "finish"
)

// SinkRejectedError is returned by SinkClient implementations on a non-success HTTP status.
type SinkRejectedError struct {
	Phase      Phase
	StatusCode int
	Body       []byte
	// Retryable may be set by the sink client when the remote payload marks the error as transient.
	Retryable bool
}

func (e *SinkRejectedError) Error() string {
	return fmt.Sprintf("sink rejected %s phase: HTTP %d: %s", e.Phase, e.StatusCode, e.Body)
}

// Transient reports whether a later attempt may succeed.
func (e *SinkRejectedError) Transient() bool {
	return e.Retryable || e.StatusCode == 429 || e.StatusCode >= 500
}

// RemoteBody returns the raw error payload of the failing remote call, or nil.
func RemoteBody(err error) []byte {
	var sinkErr *SinkRejectedError
	if errors.As(err, &sinkErr) {
		return sinkErr.Body
	}
	var sourceErr *SourceError
	if errors.As(err, &sourceErr) {
		return sourceErr.Body
	}
	return nil
}

// IsTransient reports whether err is worth another attempt.
// Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var transient interface{ Transient() bool }
	if errors.As(err, &transient) {
		return transient.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, errChunkShortRead)
}
