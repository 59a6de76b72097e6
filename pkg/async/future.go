package async

import (
	"context"
	"errors"
	"time"
)

// ErrFutureClosed is delivered to a Future's handler when its Promise's
// channel is closed without ever being completed and the future's own
// context carries no cancellation or deadline error to report instead.
var ErrFutureClosed = errors.New("async: future was closed without a result")

// Future is a one-shot registration point for a result that will become
// available later, off the calling goroutine. For a promise-backed future
// the handler runs on a goroutine owned by the Executors pool bound to the
// Future's context; a FailedImmediately future runs it in the caller.
type Future[R any] interface {
	OnComplete(handler ResultHandler[R])
}

// Awaitable lets a caller synchronously block for a Future's result, for
// call sites that are already off the host's single-threaded path (e.g.
// tests).
type Awaitable[R any] interface {
	Await() (R, error)
}

// Await blocks the calling goroutine until f completes.
func Await[R any](f Future[R]) (v R, err error) {
	awaitable, ok := f.(Awaitable[R])
	if !ok {
		err = errors.New("async: future does not support Await")
		return
	}
	return awaitable.Await()
}

// FailedImmediately returns a Future that is already resolved with cause.
// Handlers registered on it run synchronously in the caller's goroutine;
// no Executors pool is involved.
func FailedImmediately[R any](ctx context.Context, cause error) Future[R] {
	return &immediateFuture[R]{ctx: ctx, cause: cause}
}

type immediateFuture[R any] struct {
	ctx    context.Context
	result R
	cause  error
}

func (f *immediateFuture[R]) OnComplete(handler ResultHandler[R]) {
	handler(f.ctx, f.result, f.cause)
}

func (f *immediateFuture[R]) Await() (R, error) {
	return f.result, f.cause
}

// Promise is the write side of a Future: whoever holds the Promise decides
// when and how the Future resolves.
type Promise[R any] interface {
	// Succeed completes the future with a value.
	Succeed(r R)
	// Fail completes the future with an error.
	Fail(cause error)
	// Complete completes the future with whichever of r/err applies,
	// convenient for call sites that already have a (value, error) pair.
	Complete(r R, err error)
	// Cancel aborts the promise. A handler already registered observes
	// context.Canceled, or the future's deadline error if that already
	// fired first.
	Cancel()
	// SetDeadline arms a deadline after which the future fails with
	// context.DeadlineExceeded if not already resolved.
	SetDeadline(t time.Time)
	// Future returns the read side of this promise.
	Future() Future[R]
}

// TryPromise obtains a promise bound to ctx's Executors pool, or ok=false
// if the pool has no free capacity right now.
func TryPromise[R any](ctx context.Context) (promise Promise[R], ok bool) {
	executors := From(ctx)
	if executors == nil {
		return nil, false
	}
	submitter, has := executors.GetExecutorSubmitter()
	if !has {
		return nil, false
	}
	return newFuture[R](ctx, submitter), true
}

// MustPromise obtains a promise, retrying with backoff until the pool has
// capacity or ctx is done.
func MustPromise[R any](ctx context.Context) (promise Promise[R], err error) {
	err = backoffRetry(ctx, func() (bool, error) {
		var ok bool
		promise, ok = TryPromise[R](ctx)
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	return promise, nil
}

func newFuture[R any](ctx context.Context, submitter ExecutorSubmitter) *futureImpl[R] {
	futureCtx, cancel := context.WithCancel(ctx)
	return &futureImpl[R]{
		ctx:       ctx,
		futureCtx: futureCtx,
		cancel:    cancel,
		rch:       make(chan result[R], 1),
		submitter: submitter,
	}
}

type futureImpl[R any] struct {
	ctx            context.Context
	futureCtx      context.Context
	cancel         context.CancelFunc
	deadlineCancel context.CancelFunc
	rch            chan result[R]
	submitter      ExecutorSubmitter
}

func (f *futureImpl[R]) Future() Future[R] {
	return f
}

func (f *futureImpl[R]) OnComplete(handler ResultHandler[R]) {
	run := futureRunner[R]{ctx: f.futureCtx, cancel: f.cancel, rch: f.rch, handler: handler}
	f.submitter.Submit(f.ctx, run)
}

func (f *futureImpl[R]) Await() (v R, err error) {
	ch := make(chan result[R], 1)
	run := futureRunner[R]{
		ctx:    f.futureCtx,
		cancel: f.cancel,
		rch:    f.rch,
		handler: func(ctx context.Context, r R, err error) {
			ch <- newResult(r, err)
		},
	}
	f.submitter.Submit(f.ctx, run)
	r := <-ch
	return r.Result(), r.Cause()
}

func (f *futureImpl[R]) Complete(r R, err error) {
	if err != nil {
		f.Fail(err)
		return
	}
	f.Succeed(r)
}

func (f *futureImpl[R]) Succeed(r R) {
	f.push(newSucceedResult(r))
}

func (f *futureImpl[R]) Fail(cause error) {
	f.push(newFailedResult[R](cause))
}

func (f *futureImpl[R]) push(r result[R]) {
	f.rch <- r
	close(f.rch)
}

func (f *futureImpl[R]) Cancel() {
	f.cancel()
	close(f.rch)
}

func (f *futureImpl[R]) SetDeadline(t time.Time) {
	f.futureCtx, f.deadlineCancel = context.WithDeadline(f.futureCtx, t)
}

type futureRunner[R any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	rch     <-chan result[R]
	handler ResultHandler[R]
}

func (run futureRunner[R]) Run(ctx context.Context) {
	defer run.cancel()
	select {
	case <-ctx.Done():
		run.handler(ctx, *new(R), ctx.Err())
		go run.drain()
	case <-run.ctx.Done():
		run.handler(ctx, *new(R), run.ctx.Err())
		go run.drain()
	case r, ok := <-run.rch:
		if !ok {
			if err := run.ctx.Err(); err != nil {
				run.handler(ctx, *new(R), err)
				return
			}
			run.handler(ctx, *new(R), ErrFutureClosed)
			return
		}
		if r.Succeed() {
			run.handler(ctx, r.Result(), nil)
		} else {
			run.handler(ctx, *new(R), r.Cause())
		}
	}
}

// drain discards a result left in the channel after an unexpected
// termination (timeout, cancellation), closing it if closeable so a
// worker that eventually completes the promise doesn't leak resources.
// It runs on its own goroutine so the pool goroutine that ran the handler
// is released without waiting for that late result.
func (run futureRunner[R]) drain() {
	r, ok := <-run.rch
	if !ok {
		return
	}
	tryCloseResultWhenUnexpectedlyErrorOccur(r)
}
