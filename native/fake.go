package native

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// defaultMessagePayloadSize mirrors the CORE's conventional MTU (1316
// bytes) for sockets that enable message-API mode without setting
// OptionPayloadsize explicitly.
const defaultMessagePayloadSize = 1316

// Fake is a pure-Go Binding that loops traffic back in-process. It lets the
// layers above native/ (Task Runner, Async Facade, Server Loop, chunked
// I/O) be exercised without libsrt present, by satisfying the same Binding
// seam as CGO.
//
// It is not a reimplementation of SRT: there is no ARQ, no congestion
// control, no wire format. It is a same-process byte pipe with SRT-shaped
// socket/epoll bookkeeping around it, good enough to drive the CORE's own
// tests.
type Fake struct {
	mu        sync.Mutex
	nextFd    SocketFd
	sockets   map[SocketFd]*fakeSocket
	listeners map[string]*fakeSocket // "addr:port" -> listening socket
	epolls    map[EpollID]*fakeEpoll
	nextEpoll EpollID
}

var _ Binding = (*Fake)(nil)

// NewFake constructs an empty Fake binding.
func NewFake() *Fake {
	return &Fake{
		sockets:   make(map[SocketFd]*fakeSocket),
		listeners: make(map[string]*fakeSocket),
		epolls:    make(map[EpollID]*fakeEpoll),
	}
}

type fakeSocket struct {
	fd         SocketFd
	state      SockStatus
	backlog    int
	pending    chan *fakeSocket
	peer       *fakeSocket
	addr       string
	port       int
	mu         sync.Mutex
	cond       *sync.Cond
	recvBuf    bytes.Buffer
	closed     bool
	sockopts   map[Option]interface{}
}

func newFakeSocket(fd SocketFd) *fakeSocket {
	s := &fakeSocket{fd: fd, state: StatusInit, sockopts: make(map[Option]interface{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *fakeSocket) pushData(b []byte) {
	s.mu.Lock()
	s.recvBuf.Write(b)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *fakeSocket) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.state = StatusClosed
	s.cond.Broadcast()
	s.mu.Unlock()
}

type fakeEpoll struct {
	mu   sync.Mutex
	fds  map[SocketFd]EpollFlag
}

func (f *Fake) CreateSocket(senderFlag bool) (SocketFd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextFd++
	fd := f.nextFd
	f.sockets[fd] = newFakeSocket(fd)
	return fd, nil
}

func (f *Fake) socket(fd SocketFd) (*fakeSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sockets[fd]
	if !ok {
		return nil, fmt.Errorf("native: fake: unknown socket %d", fd)
	}
	return s, nil
}

func (f *Fake) Bind(fd SocketFd, addr string, port int) error {
	s, err := f.socket(fd)
	if err != nil {
		return err
	}
	s.addr, s.port = addr, port
	s.state = StatusOpened
	return nil
}

func (f *Fake) Listen(fd SocketFd, backlog int) error {
	s, err := f.socket(fd)
	if err != nil {
		return err
	}
	s.backlog = backlog
	s.pending = make(chan *fakeSocket, backlog)
	s.state = StatusListening
	key := key(s.addr, s.port)
	f.mu.Lock()
	f.listeners[key] = s
	f.mu.Unlock()
	return nil
}

func (f *Fake) Connect(fd SocketFd, host string, port int) error {
	client, err := f.socket(fd)
	if err != nil {
		return err
	}
	key := key(host, port)
	f.mu.Lock()
	listener, ok := f.listeners[key]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("native: fake: no listener at %s", key)
	}

	f.mu.Lock()
	f.nextFd++
	serverFd := f.nextFd
	server := newFakeSocket(serverFd)
	f.sockets[serverFd] = server
	f.mu.Unlock()

	server.state = StatusConnected
	client.state = StatusConnected
	server.peer, client.peer = client, server

	select {
	case listener.pending <- server:
	default:
		return fmt.Errorf("native: fake: accept backlog full at %s", key)
	}
	return nil
}

func (f *Fake) Accept(fd SocketFd) (SocketFd, error) {
	s, err := f.socket(fd)
	if err != nil {
		return InvalidSocket, err
	}
	if s.state != StatusListening {
		return InvalidSocket, fmt.Errorf("native: fake: socket %d is not listening", fd)
	}
	accepted, ok := <-s.pending
	if !ok {
		return InvalidSocket, fmt.Errorf("native: fake: listener %d closed", fd)
	}
	return accepted.fd, nil
}

func (f *Fake) Close(fd SocketFd) error {
	s, err := f.socket(fd)
	if err != nil {
		return err
	}
	s.markClosed()
	if s.peer != nil {
		s.peer.mu.Lock()
		s.peer.state = StatusBroken
		s.peer.cond.Broadcast()
		s.peer.mu.Unlock()
	}
	if s.pending != nil {
		close(s.pending)
	}
	return nil
}

func (f *Fake) Read(fd SocketFd, maxBytes int) ([]byte, error) {
	s, err := f.socket(fd)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.recvBuf.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.recvBuf.Len() == 0 {
		return nil, nil
	}
	n := maxBytes
	if n > s.recvBuf.Len() {
		n = s.recvBuf.Len()
	}
	out := make([]byte, n)
	_, _ = s.recvBuf.Read(out)
	return out, nil
}

func (f *Fake) Write(fd SocketFd, buf []byte) (int, error) {
	s, err := f.socket(fd)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	peer := s.peer
	messageAPI, _ := s.sockopts[OptionMessageapi].(bool)
	payloadSize, explicit := s.sockopts[OptionPayloadsize].(int)
	s.mu.Unlock()
	if messageAPI {
		if !explicit || payloadSize <= 0 {
			payloadSize = defaultMessagePayloadSize
		}
		if len(buf) > payloadSize {
			return 0, fmt.Errorf("native: fake: message of %d bytes exceeds payload size %d in message-API mode", len(buf), payloadSize)
		}
	}
	if peer == nil {
		return 0, fmt.Errorf("native: fake: socket %d has no peer", fd)
	}
	peer.pushData(buf)
	return len(buf), nil
}

func (f *Fake) SetSockopt(fd SocketFd, opt Option, value interface{}) error {
	s, err := f.socket(fd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sockopts[opt] = value
	s.mu.Unlock()
	return nil
}

func (f *Fake) GetSockopt(fd SocketFd, opt Option) (interface{}, error) {
	s, err := f.socket(fd)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockopts[opt], nil
}

func (f *Fake) GetSockState(fd SocketFd) (SockStatus, error) {
	s, err := f.socket(fd)
	if err != nil {
		return StatusNonexist, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (f *Fake) EpollCreate() (EpollID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEpoll++
	id := f.nextEpoll
	f.epolls[id] = &fakeEpoll{fds: make(map[SocketFd]EpollFlag)}
	return id, nil
}

func (f *Fake) EpollAddUsock(epid EpollID, fd SocketFd, mask EpollFlag) error {
	f.mu.Lock()
	ep, ok := f.epolls[epid]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("native: fake: unknown epoll %d", epid)
	}
	ep.mu.Lock()
	ep.fds[fd] = mask
	ep.mu.Unlock()
	return nil
}

func (f *Fake) EpollUwait(epid EpollID, timeoutMs int64) ([]Event, error) {
	f.mu.Lock()
	ep, ok := f.epolls[epid]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("native: fake: unknown epoll %d", epid)
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		events := f.pollReady(ep)
		if len(events) > 0 || timeoutMs <= 0 {
			return events, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *Fake) pollReady(ep *fakeEpoll) []Event {
	ep.mu.Lock()
	fds := make([]SocketFd, 0, len(ep.fds))
	for fd := range ep.fds {
		fds = append(fds, fd)
	}
	ep.mu.Unlock()

	var events []Event
	for _, fd := range fds {
		s, err := f.socket(fd)
		if err != nil {
			continue
		}
		s.mu.Lock()
		switch {
		case s.state == StatusListening && len(s.pending) > 0:
			events = append(events, Event{Fd: fd, Events: EpollIn})
		case s.closed || s.state.Dead():
			events = append(events, Event{Fd: fd, Events: EpollErr})
		case s.recvBuf.Len() > 0:
			events = append(events, Event{Fd: fd, Events: EpollIn})
		}
		s.mu.Unlock()
	}
	return events
}

func (f *Fake) SetLogLevel(level LogLevel) {}

func (f *Fake) Stats(fd SocketFd, clear bool) (Stats, error) {
	return Stats{}, nil
}

func key(addr string, port int) string {
	return fmt.Sprintf("%s:%d", addr, port)
}
