package cib

import "fmt"

// ErrorCode enumerates the configuration-store error kinds the aggregator
// must handle specifically.
type ErrorCode string

const (
	ErrNotFound     ErrorCode = "not-found"
	ErrDiffFailed   ErrorCode = "diff-failed"
	ErrElection     ErrorCode = "election-in-progress"
	ErrMissingSect  ErrorCode = "missing-section"
	ErrTimedOut     ErrorCode = "timed-out"
	ErrNotConnected ErrorCode = "not-connected"
	ErrGenericFail  ErrorCode = "generic-failure"
)

// Transient reports whether the error kind is expected-and-retryable: the
// aggregator logs and lets the next converge retry rather than surfacing a
// hard failure.
func (c ErrorCode) Transient() bool {
	switch c {
	case ErrDiffFailed, ErrElection, ErrMissingSect, ErrNotConnected:
		return true
	default:
		return false
	}
}

// Error is a typed configuration-store error carrying its ErrorCode so
// callers can switch on kind without string comparison.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CallID identifies one outstanding asynchronous store operation.
type CallID uint64

// CompletionFunc is invoked exactly once when an asynchronous call
// completes, successfully or not.
type CompletionFunc func(id CallID, err error)

// ChangeEventType is the kind of change-notification event a subscriber can
// receive.
type ChangeEventType string

const (
	ChangeDiff    ChangeEventType = "diff"
	ChangeReplace ChangeEventType = "replace"
)

// ChangeEvent notifies a subscriber that the store's content changed.
type ChangeEvent struct {
	Type    ChangeEventType
	Section string
	Host    string
	Set     string
	Name    string
}

// Store is the opaque, asynchronous configuration database the aggregator
// commits attribute values to and deletes them from.
// All mutating and query methods return immediately with a CallID; the
// caller registers a CompletionFunc via RegisterCallback to observe the
// eventual result.
type Store interface {
	// Query issues an xpath read against the store.
	Query(xpath string, flags int) (CallID, error)

	// Update writes value at (section, host, set, name), attributed to
	// user if non-empty. A nil value is not valid for Update; use Delete.
	Update(section, host, set, name, value, user string) (CallID, error)

	// Delete removes (section, host, set, name), attributed to user if
	// non-empty.
	Delete(section, host, set, name, user string) (CallID, error)

	// DeleteMatching removes every entry recorded against host whose name
	// satisfies match, attributed to user if non-empty. It is the
	// bulk-delete counterpart to Delete, used where the caller only has an
	// xpath-style pattern rather than a single concrete name.
	DeleteMatching(host string, match func(name string) bool, user string) (CallID, error)

	// RegisterCallback arranges for fn to be invoked when id completes, or
	// after timeoutMS elapses with an ErrTimedOut error. userData is
	// opaque to the store and released via freeFn after fn returns.
	RegisterCallback(id CallID, timeoutMS int64, userData interface{}, freeFn func(interface{}), fn CompletionFunc)

	// Subscribe registers a receiver for diff/replace change-notification
	// events. The returned function unsubscribes.
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())

	// Close releases the store's resources.
	Close() error
}
