package srtio

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrDisposed is returned by any operation submitted after Dispose.
	ErrDisposed = errors.New("srtio: facade disposed")
	// ErrAlreadyCreated is returned by Create when the owner is already
	// past the None state.
	ErrAlreadyCreated = errors.New("srtio: socket already created")
	// ErrNotCreated is returned by Open/SetSocketFlags before Create.
	ErrNotCreated = errors.New("srtio: socket not created")
	// ErrNotOpen denotes an operation that requires the Open state. No
	// operation in this package returns it.
	ErrNotOpen = errors.New("srtio: socket not open")
	// ErrDispatch marks a Task Runner dispatch failure (unknown method tag
	// or malformed arguments), never a transport-level SRT error.
	ErrDispatch = errors.New("srtio: dispatch error")
	// ErrClosed is returned by operations on an already-closed connection.
	ErrClosed = errors.New("srtio: closed")
	// ErrAlreadyClosing guards Connection.Close against a second effective
	// invocation.
	ErrAlreadyClosing = errors.New("srtio: close already in progress")
)

// IsDisposed reports whether err denotes submission after disposal.
func IsDisposed(err error) bool {
	return errors.Is(err, ErrDisposed)
}

// IsClosed reports whether err denotes an operation against a closed
// connection or socket.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrDisposed)
}

// IsTimeout reports whether err is a per-call timeout rejection.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// IsDispatchError reports whether err originated in the Task Runner's
// dispatch table rather than from the native transport.
func IsDispatchError(err error) bool {
	return errors.Is(err, ErrDispatch)
}

// IsTransportError reports whether err is an ordinary native/protocol
// failure (an ERROR return from the SRT binding, e.g. Bind/Connect/Write
// failing) rather than a Task Runner dispatch malfunction. Futures never
// fail for these; callers read LastError or a reply's own error value to
// detect them. This is the complement of IsDispatchError for any non-nil
// err.
func IsTransportError(err error) bool {
	return err != nil && !IsDispatchError(err)
}
