package backend

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel kinds. Match with errors.Is; drivers wrap them in *Error.
var (
	// ErrAuth covers bad credentials and expired or invalid tokens.
	ErrAuth = errors.New("authentication failed")
	// ErrNetwork covers unreachable hosts, timeouts and server-side failures.
	ErrNetwork = errors.New("network error")
	// ErrProtocol covers malformed or unexpected responses.
	ErrProtocol = errors.New("protocol error")
	// ErrConflict covers per-entity collisions such as duplicate folder names.
	ErrConflict = errors.New("conflict")
	// ErrUnsupported is returned for operations a backend does not offer.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Error is a classified backend failure.
type Error struct {
	Kind error  // one of the sentinels above
	Op   string // e.g. "fetch feeds"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAuth) and friends work through the kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// AuthError wraps err as an authentication failure.
func AuthError(op string, err error) error { return &Error{Kind: ErrAuth, Op: op, Err: err} }

// NetworkError wraps err as a network failure.
func NetworkError(op string, err error) error { return &Error{Kind: ErrNetwork, Op: op, Err: err} }

// ProtocolError wraps err as a protocol failure.
func ProtocolError(op string, err error) error { return &Error{Kind: ErrProtocol, Op: op, Err: err} }

// ConflictError wraps err as a per-entity conflict.
func ConflictError(op string, err error) error { return &Error{Kind: ErrConflict, Op: op, Err: err} }

// Unsupported reports that op is not offered by the named backend.
func Unsupported(op, backend string) error {
	return &Error{Kind: ErrUnsupported, Op: op, Err: fmt.Errorf("%s", backend)}
}

// Classify wraps an unclassified transport error. Errors that already carry a
// kind, and context cancellation, pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NetworkError(op, err)
}

// Retryable reports whether a caller-side retry may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
