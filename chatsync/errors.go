package chatsync

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between retrying,
// surfacing, and tearing the session down.
type Kind int

const (
	// KindTransient covers network and timeout failures. Safe to retry
	// with backoff; surfaced only through the connection state.
	KindTransient Kind = iota
	// KindUnauthorized means the caller's credential was rejected.
	KindUnauthorized
	// KindNotFound means the room does not exist. Terminal for a session.
	KindNotFound
	// KindInvalid covers malformed payloads, on either direction.
	KindInvalid
	// KindConnectionFailed means the reconnect budget is exhausted.
	KindConnectionFailed
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindConnectionFailed:
		return "connection_failed"
	default:
		return "unknown"
	}
}

// Error is the error type returned by this package.
type Error struct {
	Kind Kind
	Op   string // e.g. "history", "send", "connect"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chatsync: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("chatsync: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, reporting whether err (or anything it
// wraps) originated from this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTransient
}

// IsNotFound reports whether err means the room does not exist.
func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

// IsUnauthorized reports whether err means the credential was rejected.
func IsUnauthorized(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUnauthorized
}

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("chatsync: session closed")
	// ErrSessionOpen is returned when Open is called twice. One live
	// session per room per process; duplicates are a caller error.
	ErrSessionOpen = errors.New("chatsync: session already open")
	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("chatsync: channel closed")
)
