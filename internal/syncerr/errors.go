// Package syncerr classifies failures of a sync round so callers can decide whether to
// abort, retry later or carry on.
package syncerr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	// KindProtocol covers malformed or oversized frames and messages that are not valid
	// in the current session state. The connection is aborted.
	KindProtocol
	// KindConnection covers resets, refusals and timeouts. The round fails as a whole.
	KindConnection
	// KindSecurity is a public key mismatch at handshake. No server state is touched.
	KindSecurity
	// KindFilesystem is a local I/O failure for one path. Sessions answer with an Error
	// frame and continue.
	KindFilesystem
	// KindState is an unreadable persisted known-state. Recovered by starting empty.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindConnection:
		return "connection"
	case KindSecurity:
		return "security"
	case KindFilesystem:
		return "filesystem"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a Kind.
var (
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrConnection = &Error{Kind: KindConnection}
	ErrSecurity   = &Error{Kind: KindSecurity}
	ErrFilesystem = &Error{Kind: KindFilesystem}
	ErrState      = &Error{Kind: KindState}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrProtocol) works on
// wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Protocol(op string, err error) error   { return New(KindProtocol, op, err) }
func Connection(op string, err error) error { return New(KindConnection, op, err) }
func Security(op string, err error) error   { return New(KindSecurity, op, err) }
func Filesystem(op string, err error) error { return New(KindFilesystem, op, err) }
func State(op string, err error) error      { return New(KindState, op, err) }

// Protocolf builds a protocol error from a format string.
func Protocolf(format string, args ...any) error {
	return New(KindProtocol, "", fmt.Errorf(format, args...))
}

// KindOf reports the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
