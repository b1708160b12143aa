package profile

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the document store could not be connected.
	ErrStoreUnavailable = errors.New("profile store unavailable")
	// ErrStoreReadFailed means a read against a connected store failed.
	ErrStoreReadFailed = errors.New("profile read failed")
	// ErrStoreWriteFailed means a write against a connected store failed.
	ErrStoreWriteFailed = errors.New("profile write failed")
	// ErrEmptyUserID is returned for operations without a user id.
	ErrEmptyUserID = errors.New("empty user id")
)

// Error reports a failed store operation. It matches both its Kind and the
// underlying cause with errors.Is and errors.As.
type Error struct {
	Op     string // "initialize", "get", "update"
	UserID string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := "profile " + e.Op
	if e.UserID != "" {
		msg += " " + e.UserID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
