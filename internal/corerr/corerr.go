// Package corerr defines the typed error kinds surfaced by the storage and
// execution core. Every public-facing failure path returns a *Error so
// callers (including the embedding connection API) can branch on Kind
// without parsing message text.
package corerr

import "fmt"

// Kind classifies a core failure. See spec §7 for the authoritative list.
type Kind uint8

const (
	// InvalidInput means a typed precondition was violated, e.g. a
	// duplicate primary key on insert or an out-of-range dictionary index.
	InvalidInput Kind = iota
	// IO means an underlying file/page operation failed.
	IO
	// OutOfBuffer means the buffer pool could not satisfy a pin request.
	OutOfBuffer
	// OutOfMemory means a chunk/vector allocation failed.
	OutOfMemory
	// Conflict means the write path observed a concurrent change that
	// invalidates the operation.
	Conflict
	// Interrupted means cooperative cancellation was observed.
	Interrupted
	// TransactionManager means a checkpoint could not proceed, or commit
	// was attempted without an active write transaction.
	TransactionManager
	// Internal means an invariant was violated; the connection that
	// raised it becomes unusable.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "InvalidInput"
	case IO:
		return "IO"
	case OutOfBuffer:
		return "OutOfBuffer"
	case OutOfMemory:
		return "OutOfMemory"
	case Conflict:
		return "Conflict"
	case Interrupted:
		return "Interrupted"
	case TransactionManager:
		return "TransactionManager"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Error is the typed error carried through the core's call stack. It wraps
// an optional underlying cause so %w-style unwrapping keeps working.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
	// TxID, when non-zero, names the conflicting/rejected transaction so
	// transaction-control callers can report it to the user (spec §7).
	TxID uint64
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error with no wrapped cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a *Error around an existing cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithTx attaches a transaction id to an existing error, returning a copy.
func (e *Error) WithTx(txID uint64) *Error {
	cp := *e
	cp.TxID = txID
	return &cp
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, else Internal.
func KindOf(err error) Kind {
	var ce *Error
	if asError(err, &ce) {
		return ce.Kind
	}
	return Internal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
