package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the tagged-variant error taxonomy from spec §7. Every
// subsystem reports failures through a *CoreError carrying one of these,
// rather than ad-hoc sentinel errors or panics.
type ErrorKind string

const (
	ErrNoVerifiedSources            ErrorKind = "no_verified_sources"
	ErrFinalHashMismatch            ErrorKind = "final_hash_mismatch"
	ErrChunkExhaustion              ErrorKind = "chunk_exhaustion"
	ErrTimeout                      ErrorKind = "timeout"
	ErrRemoteRejected               ErrorKind = "remote_rejected"
	ErrTransportError               ErrorKind = "transport_error"
	ErrMalformedHeader              ErrorKind = "malformed_header"
	ErrFileTooSmallForVerification  ErrorKind = "file_too_small_for_verification"
	ErrStoreError                   ErrorKind = "store_error"
	ErrProtocolViolation            ErrorKind = "protocol_violation"
	ErrCancelled                    ErrorKind = "cancelled"
)

// CoreError is the single error type every subsystem returns. Kind is
// machine-checkable via errors.As; Message is a human-readable detail;
// Err, when present, is the underlying cause (wrapped, not swallowed).
type CoreError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError builds a *CoreError with no wrapped cause.
func NewError(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// WrapError builds a *CoreError around an existing error.
func WrapError(kind ErrorKind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *CoreError, and reports whether one was found.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
