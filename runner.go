package srtio

import (
	"sync/atomic"
	"time"

	"github.com/emliri/srtio/native"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// methodTag identifies which native.Binding method a requestEnvelope
// dispatches to.
type methodTag int

const (
	tagCreateSocket methodTag = iota
	tagBind
	tagListen
	tagConnect
	tagAccept
	tagClose
	tagRead
	tagWrite
	tagSetSockopt
	tagGetSockopt
	tagGetSockState
	tagEpollCreate
	tagEpollAddUsock
	tagEpollUwait
	tagStats
)

type createSocketArgs struct{ SenderFlag bool }
type bindArgs struct {
	Fd   native.SocketFd
	Addr string
	Port int
}
type listenArgs struct {
	Fd      native.SocketFd
	Backlog int
}
type connectArgs struct {
	Fd   native.SocketFd
	Host string
	Port int
}
type acceptArgs struct{ Fd native.SocketFd }
type closeArgs struct{ Fd native.SocketFd }
type readArgs struct {
	Fd       native.SocketFd
	MaxBytes int
}
type writeArgs struct {
	Fd  native.SocketFd
	Buf []byte
}
type setSockoptArgs struct {
	Fd    native.SocketFd
	Opt   native.Option
	Value interface{}
}
type getSockoptArgs struct {
	Fd  native.SocketFd
	Opt native.Option
}
type getSockStateArgs struct{ Fd native.SocketFd }
type epollCreateArgs struct{}
type epollAddUsockArgs struct {
	Epid native.EpollID
	Fd   native.SocketFd
	Mask native.EpollFlag
}
type epollUwaitArgs struct {
	Epid      native.EpollID
	TimeoutMs int64
}
type statsArgs struct {
	Fd    native.SocketFd
	Clear bool
}

// requestEnvelope carries {method_tag, arguments, submission_timestamp}
// from the Async Facade to the Task Runner, per the request/reply protocol.
// ID is a diagnostic-only correlation identifier; it never affects
// dispatch or ordering.
type requestEnvelope struct {
	ID        uuid.UUID
	Tag       methodTag
	Args      interface{}
	Submitted time.Time
}

// replyEnvelope carries {result, optional error, echoed args, enqueue
// timestamp} back to the facade. Exactly one reply per request, emitted
// strictly in request-acceptance order.
type replyEnvelope struct {
	ID       uuid.UUID
	Tag      methodTag
	Args     interface{}
	Result   interface{}
	Err      error
	Enqueued time.Time
}

// taskRunner is the single background goroutine that owns all calls into
// native.Binding for one Async Facade. It processes requests strictly
// sequentially: one for-range loop, one goroutine, no two native calls
// ever concurrently in flight on the same runner.
type taskRunner struct {
	binding  native.Binding
	reqCh    chan requestEnvelope
	replyCh  chan replyEnvelope
	stopping atomic.Bool
	log      zerolog.Logger
}

func newTaskRunner(binding native.Binding, log zerolog.Logger) *taskRunner {
	r := &taskRunner{
		binding: binding,
		reqCh:   make(chan requestEnvelope, 256),
		replyCh: make(chan replyEnvelope, 256),
		log:     log,
	}
	go r.run()
	return r
}

func (r *taskRunner) run() {
	for req := range r.reqCh {
		if r.stopping.Load() {
			// close() was called after this request was already enqueued.
			// Drop it without ever touching native.Binding: only the
			// request already in dispatch when close() ran gets to finish.
			continue
		}
		result, err := r.dispatch(req.Tag, req.Args)
		r.replyCh <- replyEnvelope{
			ID:       req.ID,
			Tag:      req.Tag,
			Args:     req.Args,
			Result:   result,
			Err:      err,
			Enqueued: time.Now(),
		}
	}
	close(r.replyCh)
}

func (r *taskRunner) dispatch(tag methodTag, rawArgs interface{}) (interface{}, error) {
	switch tag {
	case tagCreateSocket:
		a, ok := rawArgs.(createSocketArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.CreateSocket(a.SenderFlag)
	case tagBind:
		a, ok := rawArgs.(bindArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return nil, r.binding.Bind(a.Fd, a.Addr, a.Port)
	case tagListen:
		a, ok := rawArgs.(listenArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return nil, r.binding.Listen(a.Fd, a.Backlog)
	case tagConnect:
		a, ok := rawArgs.(connectArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return nil, r.binding.Connect(a.Fd, a.Host, a.Port)
	case tagAccept:
		a, ok := rawArgs.(acceptArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.Accept(a.Fd)
	case tagClose:
		a, ok := rawArgs.(closeArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return nil, r.binding.Close(a.Fd)
	case tagRead:
		a, ok := rawArgs.(readArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.Read(a.Fd, a.MaxBytes)
	case tagWrite:
		a, ok := rawArgs.(writeArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.Write(a.Fd, a.Buf)
	case tagSetSockopt:
		a, ok := rawArgs.(setSockoptArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return nil, r.binding.SetSockopt(a.Fd, a.Opt, a.Value)
	case tagGetSockopt:
		a, ok := rawArgs.(getSockoptArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.GetSockopt(a.Fd, a.Opt)
	case tagGetSockState:
		a, ok := rawArgs.(getSockStateArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.GetSockState(a.Fd)
	case tagEpollCreate:
		return r.binding.EpollCreate()
	case tagEpollAddUsock:
		a, ok := rawArgs.(epollAddUsockArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return nil, r.binding.EpollAddUsock(a.Epid, a.Fd, a.Mask)
	case tagEpollUwait:
		a, ok := rawArgs.(epollUwaitArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.EpollUwait(a.Epid, a.TimeoutMs)
	case tagStats:
		a, ok := rawArgs.(statsArgs)
		if !ok {
			return nil, r.badArgs(tag)
		}
		return r.binding.Stats(a.Fd, a.Clear)
	default:
		return nil, errors.Wrapf(ErrDispatch, "unknown method tag %d", tag)
	}
}

func (r *taskRunner) badArgs(tag methodTag) error {
	return errors.Wrapf(ErrDispatch, "argument mismatch for method tag %d", tag)
}

// close stops the runner. The single request already in dispatch, if any,
// completes and is replied to normally; everything else still sitting in
// reqCh is drained and discarded, never dispatched, never replied to.
// stopping is set before reqCh is closed so run's range loop observes it on
// every buffered request it pulls after this point.
func (r *taskRunner) close() {
	r.stopping.Store(true)
	close(r.reqCh)
}
