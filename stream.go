package srtio

import (
	"bytes"
	"context"
	"runtime"
	"time"

	"github.com/eapache/queue"
	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
)

// DefaultMTU is SRT's conventional message-API payload ceiling.
const DefaultMTU = 1316

// PacingStrategy selects how WriteChunks paces its submissions against the
// host's goroutine scheduler.
type PacingStrategy int

const (
	// PaceYielding submits writesPerTick chunks, then runtime.Gosched()s
	// plus sleeps a minimum delay, then continues — a loop that yields.
	PaceYielding PacingStrategy = iota
	// PaceExplicit submits exactly writesPerTick chunks per turn and
	// schedules the next batch onto an async.ExecutorSubmitter rather
	// than looping inline.
	PaceExplicit
)

// ChunkedIO is a stateless helper bound to a (facade, fd) pair, translating
// between the SRT payload MTU and arbitrary-sized application buffers.
type ChunkedIO struct {
	facade *Facade
	fd     native.SocketFd
}

func newChunkedIO(facade *Facade, fd native.SocketFd) *ChunkedIO {
	return &ChunkedIO{facade: facade, fd: fd}
}

// WriteChunks splits *buffer into MTU-sized slices (the last may be
// short) and submits them sequentially, preserving order under either
// pacing strategy. buffer is consumed: *buffer is reassigned to a
// zero-length, zero-capacity view before this function returns, so the
// caller's own slice variable observes length zero immediately, and
// must not be accessed afterward. A plain []byte parameter cannot do
// this (Go passes slice headers by value), which is why this takes
// *[]byte rather than []byte. The returned future completes once every
// slice has received a reply, yielding the total byte count written.
func (c *ChunkedIO) WriteChunks(ctx context.Context, buffer *[]byte, mtu int, writesPerTick int, strategy PacingStrategy) (async.Future[int], error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	if writesPerTick <= 0 {
		writesPerTick = 1
	}

	data := *buffer
	chunks := queue.New()
	for off := 0; off < len(data); off += mtu {
		end := off + mtu
		if end > len(data) {
			end = len(data)
		}
		chunks.Add(data[off:end])
	}
	// Detach the caller's view through the pointer: the slices above
	// still reference the same backing array (ownership transfer, not a
	// copy), but the caller's own variable must observe length zero
	// immediately, which requires reassigning through *buffer rather
	// than the local parameter.
	*buffer = data[:0:0]

	promise, err := async.MustPromise[int](c.facadeCtx(ctx))
	if err != nil {
		return async.FailedImmediately[int](ctx, err), err
	}

	switch strategy {
	case PaceExplicit:
		submitter, _ := async.From(c.facadeCtx(ctx)).GetExecutorSubmitter()
		c.writeExplicit(ctx, chunks, writesPerTick, 0, promise, submitter)
	default:
		go c.writeYielding(ctx, chunks, writesPerTick, promise)
	}

	return promise.Future(), nil
}

func (c *ChunkedIO) facadeCtx(ctx context.Context) context.Context {
	return async.With(ctx, c.facade.executors)
}

func (c *ChunkedIO) writeYielding(ctx context.Context, chunks *queue.Queue, writesPerTick int, promise async.Promise[int]) {
	total := 0
	submitted := 0
	for chunks.Length() > 0 {
		chunk := chunks.Remove().([]byte)
		future, err := c.facade.Write(ctx, c.fd, &chunk)
		if err != nil {
			promise.Fail(err)
			return
		}
		n, err := async.Await[int](future)
		if err != nil {
			promise.Fail(err)
			return
		}
		total += n
		submitted++
		if submitted%writesPerTick == 0 {
			runtime.Gosched()
			time.Sleep(time.Millisecond)
		}
	}
	promise.Succeed(total)
}

func (c *ChunkedIO) writeExplicit(ctx context.Context, chunks *queue.Queue, writesPerTick int, total int, promise async.Promise[int], submitter async.ExecutorSubmitter) {
	batch := writesPerTick
	for batch > 0 && chunks.Length() > 0 {
		chunk := chunks.Remove().([]byte)
		future, err := c.facade.Write(ctx, c.fd, &chunk)
		if err != nil {
			promise.Fail(err)
			return
		}
		n, err := async.Await[int](future)
		if err != nil {
			promise.Fail(err)
			return
		}
		total += n
		batch--
	}
	if chunks.Length() == 0 {
		promise.Succeed(total)
		return
	}
	if submitter != nil {
		submitter.Submit(ctx, async.RunnableFunc(func(ctx context.Context) {
			c.writeExplicit(ctx, chunks, writesPerTick, total, promise, submitter)
		}))
		return
	}
	go c.writeExplicit(ctx, chunks, writesPerTick, total, promise, submitter)
}

// ReadChunks repeatedly reads up to readBufSize bytes until at least
// minBytes have been observed or the facade returns an error/EOF. onRead
// fires for every non-empty buffer received; onError fires once on a
// terminal error. Returns the collected sequence of buffers.
func (c *ChunkedIO) ReadChunks(ctx context.Context, minBytes int, readBufSize int, onRead func([]byte), onError func(error)) ([][]byte, error) {
	var collected [][]byte
	var acc bytes.Buffer
	for acc.Len() < minBytes {
		future, err := c.facade.Read(ctx, c.fd, readBufSize)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return collected, err
		}
		buf, err := async.Await[[]byte](future)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return collected, err
		}
		if len(buf) == 0 {
			break
		}
		acc.Write(buf)
		collected = append(collected, buf)
		if onRead != nil {
			onRead(buf)
		}
	}
	return collected, nil
}
