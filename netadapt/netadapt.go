// Package netadapt exposes the CORE's Connection/Server abstractions
// through the standard net.Conn/net.Listener interfaces, for callers that
// want interoperability with the rest of the net ecosystem rather than the
// CORE's own event/future API. This is additive: it changes no C1-C7
// semantics, only bridges them onto a second surface.
package netadapt

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emliri/srtio"
	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
)

// addr is a minimal net.Addr for an SRT socket handle; the CORE does not
// expose getsockname, so this only carries the fd for diagnostics.
type addr struct {
	fd native.SocketFd
}

func (a addr) Network() string { return "srt" }
func (a addr) String() string  { return fmt.Sprintf("srt:%d", a.fd) }

// Conn wraps a *srtio.Connection to satisfy net.Conn, bridging
// pkg/async.Await onto blocking calls at the net.Conn boundary.
type Conn struct {
	conn *srtio.Connection

	mu           sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

// Connection wraps conn as a net.Conn.
func Connection(conn *srtio.Connection) net.Conn {
	return &Conn{conn: conn}
}

func (c *Conn) deadlineCtx(base context.Context, d time.Time) (context.Context, context.CancelFunc) {
	if d.IsZero() {
		return context.WithCancel(base)
	}
	return context.WithDeadline(base, d)
}

func (c *Conn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	ctx, cancel := c.deadlineCtx(context.Background(), deadline)
	defer cancel()

	future, err := c.conn.Read(ctx, len(b))
	if err != nil {
		return 0, err
	}
	buf, err := async.Await[[]byte](future)
	if err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n := copy(b, buf)
	return n, nil
}

func (c *Conn) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.mu.Lock()
	deadline := c.writeDeadline
	c.mu.Unlock()

	ctx, cancel := c.deadlineCtx(context.Background(), deadline)
	defer cancel()

	// net.Conn's Write contract leaves b owned by the caller after
	// return; srtio.Connection.Write detaches through a *[]byte, so
	// route it through a local copy of the slice header rather than &b.
	view := b
	future, err := c.conn.Write(ctx, &view)
	if err != nil {
		return 0, err
	}
	return async.Await[int](future)
}

func (c *Conn) Close() error {
	return c.conn.Close(context.Background())
}

func (c *Conn) LocalAddr() net.Addr  { return addr{fd: c.conn.Fd()} }
func (c *Conn) RemoteAddr() net.Addr { return addr{fd: c.conn.Fd()} }

func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

// Listener wraps a *srtio.Server to satisfy net.Listener, bridging the
// connection event into a buffered channel that Accept blocks on.
type Listener struct {
	srv *srtio.Server
	ach chan acceptResult
	once sync.Once
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// NewListener wraps srv, which must already be started (srv.Start), as a
// net.Listener.
func NewListener(srv *srtio.Server) net.Listener {
	return &Listener{srv: srv, ach: make(chan acceptResult, 8)}
}

func (l *Listener) Accept() (net.Conn, error) {
	l.once.Do(func() {
		l.srv.On(srtio.EventConnection, func(payload interface{}) {
			record, ok := payload.(*srtio.ConnectionRecord)
			if !ok || record.Conn == nil {
				return
			}
			l.ach <- acceptResult{conn: Connection(record.Conn)}
		})
		l.srv.On(srtio.EventDisposed, func(interface{}) {
			l.ach <- acceptResult{err: srtio.ErrDisposed}
		})
	})
	r := <-l.ach
	return r.conn, r.err
}

func (l *Listener) Close() error {
	l.srv.Dispose(context.Background())
	return nil
}

func (l *Listener) Addr() net.Addr {
	return addr{fd: l.srv.Fd()}
}
