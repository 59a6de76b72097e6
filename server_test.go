package srtio

import (
	"context"
	"testing"
	"time"

	"github.com/emliri/srtio/native"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, port int) (*Server, *native.Fake) {
	fake := native.NewFake()
	cfg, err := applyOptions(WithPort(port), WithAddress("127.0.0.1"))
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	srv := NewServer(fake, cfg)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Dispose(context.Background()) })
	return srv, fake
}

func TestServer_AcceptThenDisconnect(t *testing.T) {
	srv, fake := newTestServer(t, 9200)

	connCh := make(chan *ConnectionRecord, 1)
	srv.On(EventConnection, func(payload interface{}) {
		record, _ := payload.(*ConnectionRecord)
		connCh <- record
	})
	disconnCh := make(chan native.SocketFd, 1)
	srv.On(EventDisconnection, func(payload interface{}) {
		fd, _ := payload.(native.SocketFd)
		disconnCh <- fd
	})

	clientFd, err := fake.CreateSocket(true)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if err := fake.Connect(clientFd, "127.0.0.1", 9200); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var record *ConnectionRecord
	select {
	case record = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("connection event timed out")
	}
	if record == nil || record.Fd == native.InvalidSocket {
		t.Fatal("bad connection record")
	}

	if err := fake.Close(clientFd); err != nil {
		t.Fatalf("client close: %v", err)
	}

	select {
	case fd := <-disconnCh:
		if fd != record.Fd {
			t.Fatalf("disconnection for fd %d, want %d", fd, record.Fd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnection event timed out")
	}

	if conns := srv.Connections(); len(conns) != 0 {
		t.Fatalf("connection table not empty: %v", conns)
	}
}

func TestServer_OptionBatch(t *testing.T) {
	fake := native.NewFake()
	cfg, err := applyOptions(WithPort(9201))
	require.NoError(t, err)

	srv := NewServer(fake, cfg)
	t.Cleanup(func() { srv.Dispose(context.Background()) })

	require.NoError(t, srv.Create(context.Background(), false))

	results, err := srv.SetSocketFlags(
		context.Background(),
		[]native.Option{native.OptionMessageapi, native.OptionPayloadsize},
		[]interface{}{true, 1316},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, r := range results {
		require.NoErrorf(t, r, "option %d failed", i)
	}

	require.NoError(t, srv.Open(context.Background()))
}

func TestServer_PortOutOfRangeFailsSynchronously(t *testing.T) {
	if _, err := applyOptions(WithPort(0)); err == nil {
		t.Fatal("expected synchronous failure for port 0")
	}
	if _, err := applyOptions(WithPort(65536)); err == nil {
		t.Fatal("expected synchronous failure for port 65536")
	}
}

func TestServer_DisposeStopsEvents(t *testing.T) {
	srv, _ := newTestServer(t, 9202)

	fired := false
	srv.On(EventConnection, func(interface{}) { fired = true })

	srv.Dispose(context.Background())
	time.Sleep(50 * time.Millisecond)

	if fired {
		t.Fatal("connection event fired after dispose")
	}
	if err := srv.Create(context.Background(), false); err == nil {
		t.Fatal("expected create to fail after dispose")
	}
}
