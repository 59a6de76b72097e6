package srtio

import (
	"context"
	"sync"
	"time"

	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
)

// ConnectionRecord tracks one accepted fd in a Server's connection table.
type ConnectionRecord struct {
	Fd               native.SocketFd
	Conn             *Connection
	FirstDataObserved bool
	Closed           bool
}

// Server specializes socketOwner with listener semantics and an
// epoll-driven dispatch loop. It requires its own Facade (its own Task
// Runner goroutine): a client facade sharing the same worker would
// deadlock the first time accept blocks the queue.
type Server struct {
	socketOwner

	cfg   Config
	epid  native.EpollID
	binding native.Binding

	connMu sync.Mutex
	conns  map[native.SocketFd]*ConnectionRecord

	timerMu sync.Mutex
	timer   *time.Timer

	loopCtx    context.Context
	loopCancel context.CancelFunc
}

// NewServer constructs a Server bound to its own Facade and native
// Binding, not yet created or opened.
func NewServer(binding native.Binding, cfg Config) *Server {
	log := componentLogger("server")
	facade := NewFacade(context.Background(), binding, cfg, log)
	srv := &Server{
		cfg:     cfg,
		binding: binding,
		conns:   make(map[native.SocketFd]*ConnectionRecord),
	}
	srv.socketOwner = *newSocketOwner(facade, log)
	srv.openFunc = srv.open
	return srv
}

// Start runs the full opening sequence: Create -> Bind -> Listen ->
// EpollCreate -> emit opened -> EpollAddUsock(listener) -> start polling.
func (srv *Server) Start(ctx context.Context) error {
	if err := srv.Create(ctx, false); err != nil {
		return err
	}
	if err := srv.Open(ctx); err != nil {
		return err
	}

	// opened has now been emitted by socketOwner.Open; registering the
	// listener fd with epoll and starting the poll loop come after, per
	// the opening sequence's step order.
	addFuture, err := srv.facade.EpollAddUsock(ctx, srv.epid, srv.fd, native.EpollIn|native.EpollErr)
	if err != nil {
		return err
	}
	if _, err = async.Await[async.Void](addFuture); err != nil {
		return err
	}

	srv.loopCtx, srv.loopCancel = context.WithCancel(context.Background())
	go srv.pollLoop()
	return nil
}

func (srv *Server) open(ctx context.Context) error {
	bindFuture, err := srv.facade.Bind(ctx, srv.fd, srv.cfg.Address, srv.cfg.Port)
	if err != nil {
		return err
	}
	if _, err = async.Await[async.Void](bindFuture); err != nil {
		return err
	}

	listenFuture, err := srv.facade.Listen(ctx, srv.fd, srv.cfg.Backlog)
	if err != nil {
		return err
	}
	if _, err = async.Await[async.Void](listenFuture); err != nil {
		return err
	}

	epollFuture, err := srv.facade.EpollCreate(ctx)
	if err != nil {
		return err
	}
	epid, err := async.Await[native.EpollID](epollFuture)
	if err != nil {
		return err
	}
	srv.epid = epid
	return nil
}

func (srv *Server) pollLoop() {
	srv.scheduleNext(0)
}

func (srv *Server) scheduleNext(delay time.Duration) {
	srv.timerMu.Lock()
	if srv.timer != nil {
		srv.timer.Stop()
	}
	srv.timer = time.AfterFunc(delay, srv.tick)
	srv.timerMu.Unlock()
}

func (srv *Server) tick() {
	if srv.State() == stateDisposed {
		srv.timerMu.Lock()
		if srv.timer != nil {
			srv.timer.Stop()
		}
		srv.timerMu.Unlock()
		return
	}

	future, err := srv.facade.EpollUwait(srv.loopCtx, srv.epid, int64(srv.cfg.UwaitTimeout/time.Millisecond))
	if err != nil {
		srv.scheduleNext(srv.cfg.PollingPeriod)
		return
	}
	events, err := async.Await[[]native.Event](future)
	if err != nil {
		srv.log.Warn().Err(err).Msg("epoll_uwait failed")
		srv.scheduleNext(srv.cfg.PollingPeriod)
		return
	}
	for _, ev := range events {
		srv.handleEvent(ev)
	}
	srv.scheduleNext(srv.cfg.PollingPeriod)
}

func (srv *Server) handleEvent(ev native.Event) {
	ctx := srv.loopCtx
	stateFuture, err := srv.facade.GetSockState(ctx, ev.Fd)
	if err != nil {
		return
	}
	st, err := async.Await[native.SockStatus](stateFuture)
	if err != nil {
		return
	}

	if ev.Fd == srv.fd && st == native.StatusListening {
		srv.handleAccept(ctx)
		return
	}
	if st.Dead() {
		srv.handleDisconnection(ctx, ev.Fd)
		return
	}
	srv.handleData(ev.Fd)
}

func (srv *Server) handleAccept(ctx context.Context) {
	future, err := srv.facade.Accept(ctx, srv.fd)
	if err != nil {
		srv.log.Warn().Err(err).Msg("accept submission failed")
		return
	}
	newFd, err := async.Await[native.SocketFd](future)
	if err != nil {
		srv.log.Warn().Err(err).Msg("accept failed")
		return
	}

	// Fire-and-forget epoll registration per the server loop's open
	// question: not awaited, so one slow accept never head-of-line-blocks
	// the next. If it fails, the connection never sees a data event; we
	// log and surface a disconnection rather than lose it silently.
	go func() {
		addFuture, err := srv.facade.EpollAddUsock(ctx, srv.epid, newFd, native.EpollIn|native.EpollErr)
		if err != nil {
			srv.log.Warn().Err(err).Int("fd", int(newFd)).Msg("epoll registration submission failed")
			srv.handleDisconnection(ctx, newFd)
			return
		}
		if _, err = async.Await[async.Void](addFuture); err != nil {
			srv.log.Warn().Err(err).Int("fd", int(newFd)).Msg("epoll registration failed")
			srv.handleDisconnection(ctx, newFd)
		}
	}()

	conn := newConnection(srv.facade, newFd, srv.log)
	record := &ConnectionRecord{Fd: newFd, Conn: conn}

	srv.connMu.Lock()
	srv.conns[newFd] = record
	srv.connMu.Unlock()

	srv.emit(EventConnection, record)
}

func (srv *Server) handleDisconnection(ctx context.Context, fd native.SocketFd) {
	srv.connMu.Lock()
	record, ok := srv.conns[fd]
	if ok {
		delete(srv.conns, fd)
	}
	srv.connMu.Unlock()
	if !ok {
		return
	}
	if record.Conn != nil {
		record.Conn.Close(ctx)
	}
	record.Closed = true
	srv.emit(EventDisconnection, fd)
}

func (srv *Server) handleData(fd native.SocketFd) {
	srv.connMu.Lock()
	record, ok := srv.conns[fd]
	srv.connMu.Unlock()
	if !ok {
		srv.log.Warn().Int("fd", int(fd)).Msg("data event for unknown connection")
		return
	}
	record.Conn.notifyData()
}

// Connections returns a snapshot of the current connection table, keyed
// by fd.
func (srv *Server) Connections() map[native.SocketFd]*ConnectionRecord {
	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	out := make(map[native.SocketFd]*ConnectionRecord, len(srv.conns))
	for k, v := range srv.conns {
		out[k] = v
	}
	return out
}

// Dispose stops the poll loop and tears down the listener socket and its
// facade.
func (srv *Server) Dispose(ctx context.Context) {
	if srv.loopCancel != nil {
		srv.loopCancel()
	}
	srv.timerMu.Lock()
	if srv.timer != nil {
		srv.timer.Stop()
	}
	srv.timerMu.Unlock()
	srv.socketOwner.Dispose(ctx)
}
