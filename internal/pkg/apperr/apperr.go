// Package apperr holds the error taxonomy shared by the interview
// orchestrator, the pipeline and the cascade deletion service.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthentication means no credential, or an expired one.
	ErrAuthentication = errors.New("authentication required")
	// ErrAuthorization means the caller does not own the resource.
	ErrAuthorization = errors.New("caller is not the resource owner")
	// ErrNotFound means the root entity of an operation is missing.
	ErrNotFound = errors.New("not found")
	// ErrNetwork marks transient transport failures; retry is user initiated.
	ErrNetwork = errors.New("network error")
	// ErrPartialDeletion marks a cascade delete where at least one step failed.
	ErrPartialDeletion = errors.New("partial deletion")
	// ErrTTSUnavailable marks a TTS poll that exhausted its budget.
	ErrTTSUnavailable = errors.New("audio not ready")
	// ErrConflict means the same operation is already running.
	ErrConflict = errors.New("operation already in progress")
	// ErrInvalid marks malformed input.
	ErrInvalid = errors.New("invalid input")
)

// NetworkError wraps a transport failure of a named operation.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Network wraps err as a retryable network failure of op.
func Network(op string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Err: err}
}

// PartialDeletionError carries the labeled step failures of a cascade delete.
type PartialDeletionError struct {
	Errors []string
}

func (e *PartialDeletionError) Error() string {
	return "partial deletion: " + strings.Join(e.Errors, "; ")
}

func (e *PartialDeletionError) Is(target error) bool { return target == ErrPartialDeletion }

// TTSUnavailableError reports a speech resolution that gave up.
type TTSUnavailableError struct {
	MessageID string
	Attempts  int
}

func (e *TTSUnavailableError) Error() string {
	return fmt.Sprintf("audio not ready for message %s after %d attempts", e.MessageID, e.Attempts)
}

func (e *TTSUnavailableError) Is(target error) bool { return target == ErrTTSUnavailable }

// Kind is a coarse classification used for HTTP status mapping and UI hints.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindNetwork
	KindPartialDeletion
	KindTTSUnavailable
	KindConflict
	KindInvalid
)

// KindOf classifies err by the first matching sentinel in its chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrAuthorization):
		return KindAuthorization
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrPartialDeletion):
		return KindPartialDeletion
	case errors.Is(err, ErrTTSUnavailable):
		return KindTTSUnavailable
	}
	return KindUnknown
}

// Retryable reports whether the user may simply try the operation again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindPartialDeletion, KindTTSUnavailable, KindConflict:
		return true
	}
	return false
}
