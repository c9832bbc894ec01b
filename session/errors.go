package session

import "errors"

// SessionError is the common interface for the session-scoped error kinds
// that additionally fire txnStateSignal when they terminate a session.
// Item-scoped errors (ServerError, CopyFailureError) do not implement it.
type SessionError interface {
	error
	sessionErrorKind() string
}

// errEmptyCopySource indicates a copyItem was built with neither source
// field set; it should never occur through Facade.CopyFromReader/
// CopyFromChunks, which always populate exactly one.
var errEmptyCopySource = errors.New("pgsession: copy item has no source")

// ErrSessionNotActive is returned synchronously by the facade when a
// submission arrives after accepting has flipped to false.
var ErrSessionNotActive = errors.New("pgsession: session is not active")

// ErrSessionClosed is delivered to a pending work item's sink when the
// session terminates while the item is still queued.
var ErrSessionClosed = errors.New("pgsession: session closed with item pending")

// ServerError wraps a server-reported error response to a query item.
// It is item-scoped: it never fires txnStateSignal by itself, unless the
// transaction it occurred in is also now FAILED (detected on the next loop
// iteration, which fails the other queued items with ErrSessionClosed and
// ends the session with a SessionClosedError).
type ServerError struct {
	Query string
	Err   error
}

func (e *ServerError) Error() string {
	return "pgsession: server error executing " + e.Query + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error { return e.Err }

// CopyFailureError wraps any failure inside CopyEngine. It is fatal to the
// session: the loop rolls back, sets accepting=false, and delivers this to
// the copy item's sink.
type CopyFailureError struct {
	Err error
}

func (e *CopyFailureError) Error() string {
	return "pgsession: copy failed: " + e.Err.Error()
}

func (e *CopyFailureError) Unwrap() error { return e.Err }

// ConnectionLostError indicates a SQL-level failure in the loop serious
// enough that the physical connection must be closed rather than released.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return "pgsession: connection lost: " + e.Err.Error()
}

func (e *ConnectionLostError) Unwrap() error       { return e.Err }
func (e *ConnectionLostError) sessionErrorKind() string { return "ConnectionLost" }

// InternalError wraps any other loop exception. The connection is released
// rather than closed.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "pgsession: internal error: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error       { return e.Err }
func (e *InternalError) sessionErrorKind() string { return "Internal" }

// SessionClosedError is the terminal txnStateSignal value fired when a
// FAILED transaction state is discovered between items.
type SessionClosedError struct {
	Err error
}

func (e *SessionClosedError) Error() string {
	if e.Err == nil {
		return "pgsession: session closed"
	}
	return "pgsession: session closed: " + e.Err.Error()
}

func (e *SessionClosedError) Unwrap() error       { return e.Err }
func (e *SessionClosedError) sessionErrorKind() string { return "SessionClosed" }
