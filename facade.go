package srtio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// pendingCall is the type-erased write side of a pending Facade operation:
// the FIFO only needs to know how to deliver a reply, not what type the
// caller asked for.
type pendingCall interface {
	// deliver resolves the callback with a Task Runner reply. A
	// dispatch-class error (unknown method tag, argument mismatch) fails
	// the future; everything else, including an ordinary native/protocol
	// error, succeeds it with the reply's result value, since protocol
	// failures are ordinary results, not worker-transport failures.
	deliver(result interface{}, err error)
	// fail forces the future to reject, bypassing the transport/dispatch
	// classification in deliver. Used for facade-level terminations
	// (disposal, runner shutdown) that never produced a native reply.
	fail(err error)
}

type typedPendingCall[R any] struct {
	promise async.Promise[R]
}

func (p *typedPendingCall[R]) deliver(result interface{}, err error) {
	if err != nil && IsDispatchError(err) {
		p.promise.Fail(err)
		return
	}
	v, _ := result.(R)
	p.promise.Succeed(v)
}

func (p *typedPendingCall[R]) fail(err error) {
	p.promise.Fail(err)
}

// Facade is the host-side asynchronous API object paired with one Task
// Runner. Every operation submits a requestEnvelope, enqueues a
// completion callback in FIFO order, and returns a pkg/async.Future.
type Facade struct {
	ctx       context.Context
	runner    *taskRunner
	executors async.Executors
	callTimeout time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	pending  []pendingCall
	disposed atomic.Bool

	lastErr atomic.Pointer[error]
}

// NewFacade constructs a Facade bound to binding, with its own dedicated
// Task Runner goroutine and callback-delivery pool.
func NewFacade(ctx context.Context, binding native.Binding, cfg Config, log zerolog.Logger) *Facade {
	applyMinGOMAXPROCS(cfg.MinGOMAXPROCS)

	execOpts := make([]async.Option, 0, 2)
	if cfg.MaxGoroutines > 0 {
		execOpts = append(execOpts, async.MaxGoroutines(cfg.MaxGoroutines))
	}
	if cfg.MaxGoroutineIdleDuration > 0 {
		execOpts = append(execOpts, async.MaxGoroutineIdleDuration(cfg.MaxGoroutineIdleDuration))
	}
	executors := async.New(execOpts...)
	f := &Facade{
		ctx:         async.With(ctx, executors),
		runner:      newTaskRunner(binding, log),
		executors:   executors,
		callTimeout: cfg.CallTimeout,
		log:         log,
	}
	go f.dispatchReplies()
	return f
}

func (f *Facade) dispatchReplies() {
	for reply := range f.runner.replyCh {
		if reply.Err != nil {
			err := reply.Err
			f.lastErr.Store(&err)
		}
		call := f.popPending()
		if call == nil {
			f.log.Warn().Str("request_id", reply.ID.String()).Msg("reply with no pending callback")
			continue
		}
		call.deliver(reply.Result, reply.Err)
	}
	// The runner has shut down. Anything still queued lost its chance at a
	// real reply (the runner discards undispatched requests on close), so
	// fail it here rather than leaving its Await call blocked forever.
	f.failRemainingPending(ErrClosed)
}

// failRemainingPending rejects every still-pending callback with err and
// clears the FIFO. Safe to call more than once; a second call sees an
// empty slice and is a no-op.
func (f *Facade) failRemainingPending(err error) {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, call := range pending {
		call.fail(err)
	}
}

func (f *Facade) popPending() pendingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	call := f.pending[0]
	f.pending = f.pending[1:]
	return call
}

// LastError returns the most recently observed transport error descriptor,
// or nil if none has occurred yet.
func (f *Facade) LastError() error {
	p := f.lastErr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Disposed reports whether Dispose has been called.
func (f *Facade) Disposed() bool {
	return f.disposed.Load()
}

// Dispose marks the facade disposed, fails every pending callback with
// ErrDisposed, and stops the Task Runner. Subsequent operations fail
// immediately with ErrDisposed.
func (f *Facade) Dispose() {
	if !f.disposed.CompareAndSwap(false, true) {
		return
	}
	f.failRemainingPending(ErrDisposed)
	f.runner.close()
	f.executors.Close()
}

func submit[R any](f *Facade, ctx context.Context, tag methodTag, args interface{}) (async.Future[R], error) {
	if f.disposed.Load() {
		return async.FailedImmediately[R](ctx, ErrDisposed), ErrDisposed
	}
	promise, ok := async.TryPromise[R](f.ctx)
	if !ok {
		var err error
		promise, err = async.MustPromise[R](f.ctx)
		if err != nil {
			return async.FailedImmediately[R](ctx, err), err
		}
	}
	if f.callTimeout > 0 {
		promise.SetDeadline(time.Now().Add(f.callTimeout))
	}

	f.mu.Lock()
	f.pending = append(f.pending, &typedPendingCall[R]{promise: promise})
	f.mu.Unlock()

	f.runner.reqCh <- requestEnvelope{
		ID:        uuid.New(),
		Tag:       tag,
		Args:      args,
		Submitted: time.Now(),
	}
	return promise.Future(), nil
}

// CreateSocket asks the Task Runner for a new native socket.
func (f *Facade) CreateSocket(ctx context.Context, senderFlag bool) (async.Future[native.SocketFd], error) {
	return submit[native.SocketFd](f, ctx, tagCreateSocket, createSocketArgs{SenderFlag: senderFlag})
}

func (f *Facade) Bind(ctx context.Context, fd native.SocketFd, addr string, port int) (async.Future[async.Void], error) {
	return submit[async.Void](f, ctx, tagBind, bindArgs{Fd: fd, Addr: addr, Port: port})
}

func (f *Facade) Listen(ctx context.Context, fd native.SocketFd, backlog int) (async.Future[async.Void], error) {
	return submit[async.Void](f, ctx, tagListen, listenArgs{Fd: fd, Backlog: backlog})
}

func (f *Facade) Connect(ctx context.Context, fd native.SocketFd, host string, port int) (async.Future[async.Void], error) {
	return submit[async.Void](f, ctx, tagConnect, connectArgs{Fd: fd, Host: host, Port: port})
}

func (f *Facade) Accept(ctx context.Context, fd native.SocketFd) (async.Future[native.SocketFd], error) {
	return submit[native.SocketFd](f, ctx, tagAccept, acceptArgs{Fd: fd})
}

func (f *Facade) Close(ctx context.Context, fd native.SocketFd) (async.Future[async.Void], error) {
	return submit[async.Void](f, ctx, tagClose, closeArgs{Fd: fd})
}

// Read requests up to maxBytes from fd. A non-error empty result
// (len(buf)==0) signals EOF/empty read, not a protocol error.
func (f *Facade) Read(ctx context.Context, fd native.SocketFd, maxBytes int) (async.Future[[]byte], error) {
	return submit[[]byte](f, ctx, tagRead, readArgs{Fd: fd, MaxBytes: maxBytes})
}

// Write submits *buf for transmission on fd. Ownership transfers to the
// runner: before the request is enqueued, *buf is reassigned to a
// zero-length, zero-capacity view of itself, so the caller's slice
// variable observes length zero as soon as Write returns, not just
// eventually. A slice header cannot be zeroed through a plain []byte
// parameter (Go passes it by value), which is why this takes *[]byte.
func (f *Facade) Write(ctx context.Context, fd native.SocketFd, buf *[]byte) (async.Future[int], error) {
	data := *buf
	*buf = data[:0:0]
	return submit[int](f, ctx, tagWrite, writeArgs{Fd: fd, Buf: data})
}

func (f *Facade) SetSockopt(ctx context.Context, fd native.SocketFd, opt native.Option, value interface{}) (async.Future[async.Void], error) {
	return submit[async.Void](f, ctx, tagSetSockopt, setSockoptArgs{Fd: fd, Opt: opt, Value: value})
}

func (f *Facade) GetSockopt(ctx context.Context, fd native.SocketFd, opt native.Option) (async.Future[interface{}], error) {
	return submit[interface{}](f, ctx, tagGetSockopt, getSockoptArgs{Fd: fd, Opt: opt})
}

func (f *Facade) GetSockState(ctx context.Context, fd native.SocketFd) (async.Future[native.SockStatus], error) {
	return submit[native.SockStatus](f, ctx, tagGetSockState, getSockStateArgs{Fd: fd})
}

func (f *Facade) EpollCreate(ctx context.Context) (async.Future[native.EpollID], error) {
	return submit[native.EpollID](f, ctx, tagEpollCreate, epollCreateArgs{})
}

func (f *Facade) EpollAddUsock(ctx context.Context, epid native.EpollID, fd native.SocketFd, mask native.EpollFlag) (async.Future[async.Void], error) {
	return submit[async.Void](f, ctx, tagEpollAddUsock, epollAddUsockArgs{Epid: epid, Fd: fd, Mask: mask})
}

func (f *Facade) EpollUwait(ctx context.Context, epid native.EpollID, timeoutMs int64) (async.Future[[]native.Event], error) {
	return submit[[]native.Event](f, ctx, tagEpollUwait, epollUwaitArgs{Epid: epid, TimeoutMs: timeoutMs})
}

func (f *Facade) Stats(ctx context.Context, fd native.SocketFd, clear bool) (async.Future[native.Stats], error) {
	return submit[native.Stats](f, ctx, tagStats, statsArgs{Fd: fd, Clear: clear})
}
