package srtio

import (
	"context"
	"sync/atomic"

	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
	"github.com/rs/zerolog"
)

// ownerState is the Socket Owner lifecycle: None -> Created -> Open ->
// Disposed, forward-only, Disposed terminal.
type ownerState int32

const (
	stateNone ownerState = iota
	stateCreated
	stateOpen
	stateDisposed
)

// socketOwner is the abstract base embedded by Server. It owns one SRT
// socket handle and the facade that talks to it. Server is the only type
// in this package that embeds it; there is no client socket type.
type socketOwner struct {
	observer

	facade *Facade
	log    zerolog.Logger

	state ownerState
	fd    native.SocketFd

	openFunc func(ctx context.Context) error
}

func newSocketOwner(facade *Facade, log zerolog.Logger) *socketOwner {
	s := &socketOwner{facade: facade, log: log, state: stateNone}
	s.observer = *newObserver()
	return s
}

// Create asks the facade for a socket and transitions None -> Created.
// Calling Create twice is a caller error.
func (s *socketOwner) Create(ctx context.Context, senderFlag bool) error {
	if !atomic.CompareAndSwapInt32((*int32)(&s.state), int32(stateNone), int32(stateCreated)) {
		return ErrAlreadyCreated
	}
	future, err := s.facade.CreateSocket(ctx, senderFlag)
	if err != nil {
		atomic.StoreInt32((*int32)(&s.state), int32(stateNone))
		return err
	}
	fd, err := async.Await[native.SocketFd](future)
	if err != nil {
		atomic.StoreInt32((*int32)(&s.state), int32(stateNone))
		return err
	}
	s.fd = fd
	s.emit(EventCreated, fd)
	return nil
}

// SetSocketFlags applies every option before awaiting any result, so a
// batch of N options costs one round trip's worth of wall-clock latency
// rather than N, and returns the per-option errors (nil on success) in the
// order the options were given.
func (s *socketOwner) SetSocketFlags(ctx context.Context, opts []native.Option, values []interface{}) ([]error, error) {
	st := ownerState(atomic.LoadInt32((*int32)(&s.state)))
	if st != stateCreated && st != stateOpen {
		return nil, ErrNotCreated
	}
	futures := make([]async.Future[async.Void], len(opts))
	for i := range opts {
		future, err := s.facade.SetSockopt(ctx, s.fd, opts[i], values[i])
		if err != nil {
			return nil, err
		}
		futures[i] = future
	}
	results := make([]error, len(futures))
	for i, future := range futures {
		_, results[i] = async.Await[async.Void](future)
	}
	return results, nil
}

// Open requires Created and delegates to the subclass-specific opening
// logic supplied via openFunc (bind and listen for Server, the only type
// that sets it). No connect-based opening exists; with no openFunc set,
// Open returns ErrNotCreated.
func (s *socketOwner) Open(ctx context.Context) error {
	if ownerState(atomic.LoadInt32((*int32)(&s.state))) != stateCreated {
		return ErrNotCreated
	}
	if s.openFunc == nil {
		return ErrNotCreated
	}
	if err := s.openFunc(ctx); err != nil {
		return err
	}
	atomic.StoreInt32((*int32)(&s.state), int32(stateOpen))
	s.emit(EventOpened, s.fd)
	return nil
}

// Dispose closes the socket if present, disposes the facade, emits
// disposed, and detaches every observer. Idempotent.
func (s *socketOwner) Dispose(ctx context.Context) {
	prev := ownerState(atomic.SwapInt32((*int32)(&s.state), int32(stateDisposed)))
	if prev == stateDisposed {
		return
	}
	if prev != stateNone {
		if future, err := s.facade.Close(ctx, s.fd); err == nil {
			_, _ = async.Await[async.Void](future)
		}
	}
	s.facade.Dispose()
	s.emit(EventDisposed, nil)
	s.Clear()
}

func (s *socketOwner) State() ownerState {
	return ownerState(atomic.LoadInt32((*int32)(&s.state)))
}

func (s *socketOwner) Fd() native.SocketFd {
	return s.fd
}
