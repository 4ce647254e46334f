package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies store and transport failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnreachable covers network errors and non-2xx liveness responses.
	KindUnreachable
	// KindUnauthorized is a 401/403 from the remote.
	KindUnauthorized
	// KindTimeout is an explicit timeout race that fired.
	KindTimeout
	// KindMalformed is a response that should have been JSON but was not.
	KindMalformed
	// KindConflict is an optimistic-concurrency rejection.
	KindConflict
	// KindNotFound is a missing or deleted document.
	KindNotFound
	// KindClosed is an operation on a closed handle.
	KindClosed
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrConflict     = errors.New("document update conflict")
	ErrUnreachable  = errors.New("server unreachable")
	ErrUnauthorized = errors.New("authentication failed")
	ErrTimeout      = errors.New("operation timed out")
	ErrMalformed    = errors.New("server returned invalid response")
	ErrClosed       = errors.New("store is closed")
	// ErrNoRemote is returned by operations that need a remote when none is configured.
	ErrNoRemote = errors.New("no remote database configured")
	// ErrNoLocal is returned when no local database is open.
	ErrNoLocal = errors.New("no local database open")
)

var sentinels = map[Kind]error{
	KindUnreachable:  ErrUnreachable,
	KindUnauthorized: ErrUnauthorized,
	KindTimeout:      ErrTimeout,
	KindMalformed:    ErrMalformed,
	KindConflict:     ErrConflict,
	KindNotFound:     ErrNotFound,
	KindClosed:       ErrClosed,
}

// Error is a classified store failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := kindMessage(e.Kind)
	if e.Err != nil && !errors.Is(e.Err, sentinels[e.Kind]) {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok {
		return s == target
	}
	return false
}

// KindOf classifies any error, falling back to message sniffing for conflicts
// reported by foreign transports.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	if strings.Contains(strings.ToLower(err.Error()), "conflict") {
		return KindConflict
	}

	return KindUnknown
}

// IsConflict reports whether err is an optimistic-concurrency rejection.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// UserMessage translates err into the message shown in the sync status.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoRemote) {
		return ErrNoRemote.Error()
	}
	kind := KindOf(err)
	if kind == KindUnknown {
		return err.Error()
	}
	return kindMessage(kind)
}

func kindMessage(kind Kind) string {
	switch kind {
	case KindUnreachable:
		return "server unreachable"
	case KindUnauthorized:
		return "authentication failed"
	case KindTimeout:
		return "connection timed out"
	case KindMalformed:
		return "server returned invalid response"
	case KindConflict:
		return "document update conflict"
	case KindNotFound:
		return "document not found"
	case KindClosed:
		return "database is closed"
	default:
		return "unknown error"
	}
}
