// ABOUTME: Typed errors for remote gateway calls and sync cycles.
// ABOUTME: Enables programmatic error handling with errors.Is() and errors.As().
package offline

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic handling.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrNetworkFailure = errors.New("network failure")
	ErrServerError    = errors.New("server error")
	ErrNotConfigured  = errors.New("sync not configured")
	ErrDecryptFailed  = errors.New("decrypt failed")
	ErrOffline        = errors.New("offline")
	ErrUnknownRecord  = errors.New("unknown record")
)

// Failure is the explicit kind of a remote failure.
type Failure int

const (
	FailureNone Failure = iota
	FailureUnauthorized
	FailureNotFound
	FailureUnreachable
	FailureServer
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureUnauthorized:
		return "unauthorized"
	case FailureNotFound:
		return "not_found"
	case FailureUnreachable:
		return "unreachable"
	case FailureServer:
		return "server_error"
	default:
		return "unknown"
	}
}

// Classify maps err onto a Failure kind. Errors that carry no sentinel are
// treated as server errors: they are transient from the journal's view.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, ErrNotFound):
		return FailureNotFound
	case errors.Is(err, ErrNetworkFailure):
		return FailureUnreachable
	default:
		return FailureServer
	}
}

// SyncError wraps errors with operation context.
type SyncError struct {
	Op      string // "fetch", "create", "update", "delete", "profile"
	ID      ID     // record id, if any
	Err     error  // underlying typed error
	Retries int    // attempts made
	Detail  string // server message if any
}

func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Retries, e.Err)
	if e.ID != "" {
		msg = fmt.Sprintf("%s %s failed after %d attempts: %v", e.Op, e.ID, e.Retries, e.Err)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// CorruptSlotError describes a local slot that could not be decoded.
// Stores log it and fall back to an empty value.
type CorruptSlotError struct {
	Slot  string
	Cause error
}

func (e *CorruptSlotError) Error() string {
	return fmt.Sprintf("slot %s is corrupt: %v", e.Slot, e.Cause)
}

func (e *CorruptSlotError) Unwrap() error {
	return e.Cause
}
