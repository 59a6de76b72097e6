package native_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/emliri/srtio/native"
)

func TestFake_ListenConnectAccept(t *testing.T) {
	f := native.NewFake()

	listenerFd, err := f.CreateSocket(false)
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	if err := f.Bind(listenerFd, "127.0.0.1", 9000); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := f.Listen(listenerFd, 16); err != nil {
		t.Fatalf("listen: %v", err)
	}

	clientFd, err := f.CreateSocket(true)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	acceptCh := make(chan native.SocketFd, 1)
	go func() {
		fd, acceptErr := f.Accept(listenerFd)
		if acceptErr != nil {
			t.Error(acceptErr)
			return
		}
		acceptCh <- fd
	}()

	if err := f.Connect(clientFd, "127.0.0.1", 9000); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case serverFd := <-acceptCh:
		if serverFd == native.InvalidSocket {
			t.Fatal("accepted invalid socket")
		}
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}
}

func TestFake_ReadWriteRoundTrip(t *testing.T) {
	f := native.NewFake()

	listenerFd, _ := f.CreateSocket(false)
	_ = f.Bind(listenerFd, "127.0.0.1", 9001)
	_ = f.Listen(listenerFd, 16)

	clientFd, _ := f.CreateSocket(true)

	acceptCh := make(chan native.SocketFd, 1)
	go func() {
		fd, _ := f.Accept(listenerFd)
		acceptCh <- fd
	}()
	if err := f.Connect(clientFd, "127.0.0.1", 9001); err != nil {
		t.Fatalf("connect: %v", err)
	}
	serverFd := <-acceptCh

	payload := bytes.Repeat([]byte("x"), 4000)
	n, err := f.Write(clientFd, payload)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d, want %d", n, len(payload))
	}

	got := make([]byte, 0, len(payload))
	for len(got) < len(payload) {
		chunk, readErr := f.Read(serverFd, 1500)
		if readErr != nil {
			t.Fatalf("read: %v", readErr)
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("round-trip mismatch")
	}
}

func TestFake_EpollReportsReadable(t *testing.T) {
	f := native.NewFake()

	listenerFd, _ := f.CreateSocket(false)
	_ = f.Bind(listenerFd, "127.0.0.1", 9002)
	_ = f.Listen(listenerFd, 16)

	epid, err := f.EpollCreate()
	if err != nil {
		t.Fatalf("epoll create: %v", err)
	}
	if err := f.EpollAddUsock(epid, listenerFd, native.EpollIn|native.EpollErr); err != nil {
		t.Fatalf("epoll add: %v", err)
	}

	clientFd, _ := f.CreateSocket(true)
	if err := f.Connect(clientFd, "127.0.0.1", 9002); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// The listener is readable only while the connection is still pending,
	// so it is accepted after the wait, not before.
	events, err := f.EpollUwait(epid, 500)
	go func() { _, _ = f.Accept(listenerFd) }()
	if err != nil {
		t.Fatalf("uwait: %v", err)
	}
	if len(events) != 1 || events[0].Fd != listenerFd {
		t.Fatalf("got %v, want one readable event on listener fd", events)
	}
}
