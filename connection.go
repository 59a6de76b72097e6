package srtio

import (
	"context"
	"sync"

	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
	"github.com/rs/zerolog"
)

// Connection wraps one accepted fd with per-connection state: read/write
// delegate to the shared Server facade, close is guarded to fire exactly
// once.
type Connection struct {
	observer

	facade *Facade
	fd     native.SocketFd
	log    zerolog.Logger

	mu                sync.Mutex
	firstDataObserved bool
	closed            bool
	closeOnce         sync.Once
}

func newConnection(facade *Facade, fd native.SocketFd, log zerolog.Logger) *Connection {
	c := &Connection{facade: facade, fd: fd, log: log}
	c.observer = *newObserver()
	return c
}

// Fd returns the connection's native socket handle. Per the documented
// close race, this stays readable through the closed event: Close only
// zeroes it from a separate goroutine scheduled after the closed
// observers have run, not before.
func (c *Connection) Fd() native.SocketFd {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd
}

// IsClosed reports whether Close has finished its native close and marked
// the connection closed. The facade reference itself is kept.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Read delegates to the shared Server facade.
func (c *Connection) Read(ctx context.Context, maxBytes int) (async.Future[[]byte], error) {
	if c.IsClosed() {
		return async.FailedImmediately[[]byte](ctx, ErrClosed), ErrClosed
	}
	return c.facade.Read(ctx, c.fd, maxBytes)
}

// Write delegates to the shared Server facade. See Facade.Write for the
// ownership-transfer contract on buf: *buf observes length zero as soon
// as this call returns.
func (c *Connection) Write(ctx context.Context, buf *[]byte) (async.Future[int], error) {
	if c.IsClosed() {
		return async.FailedImmediately[int](ctx, ErrClosed), ErrClosed
	}
	return c.facade.Write(ctx, c.fd, buf)
}

// ReaderWriter returns the chunked I/O helper bound to this connection.
func (c *Connection) ReaderWriter() *ChunkedIO {
	return newChunkedIO(c.facade, c.fd)
}

// notifyData is invoked by the Server Loop when a readiness event
// indicates data is available. It toggles firstDataObserved before the
// data observer runs, and emits data.
func (c *Connection) notifyData() {
	c.mu.Lock()
	c.firstDataObserved = true
	c.mu.Unlock()
	c.emit(EventData, c.fd)
}

// FirstDataObserved reports whether a data event has fired at least once.
func (c *Connection) FirstDataObserved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstDataObserved
}

// Close emits closing synchronously, awaits the native close, marks the
// connection closed (IsClosed reports true, Read/Write fail with
// ErrClosed), emits closed, and detaches observers. At most one
// effective invocation per handle; a failing native close still completes
// the transition to closed. The fd itself is zeroed one turn after the
// closed observers return, not synchronously with them, so a closed
// listener still sees the real fd inside its own callback.
func (c *Connection) Close(ctx context.Context) error {
	var closeErr error
	fired := false
	c.closeOnce.Do(func() {
		fired = true
		c.emit(EventClosing, c.fd)

		future, err := c.facade.Close(ctx, c.fd)
		if err == nil {
			_, closeErr = async.Await[async.Void](future)
		} else {
			closeErr = err
		}

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.emit(EventClosed, closeErr)
		c.Clear()

		go func() {
			c.mu.Lock()
			c.fd = native.InvalidSocket
			c.mu.Unlock()
		}()
	})
	if !fired {
		return ErrAlreadyClosing
	}
	return closeErr
}
