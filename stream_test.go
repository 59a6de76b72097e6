package srtio

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func pairedFacadeConns(t *testing.T) (clientFd, serverFd native.SocketFd, facade *Facade) {
	fake := native.NewFake()
	cfg, err := applyOptions()
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	facade = NewFacade(context.Background(), fake, cfg, zerolog.Nop())
	t.Cleanup(facade.Dispose)

	listenerFd, err := async.Await[native.SocketFd](mustFuture(facade.CreateSocket(context.Background(), false)))
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	if _, err = async.Await[async.Void](mustFuture(facade.Bind(context.Background(), listenerFd, "127.0.0.1", 9100))); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err = async.Await[async.Void](mustFuture(facade.Listen(context.Background(), listenerFd, 16))); err != nil {
		t.Fatalf("listen: %v", err)
	}

	clientFd, err = async.Await[native.SocketFd](mustFuture(facade.CreateSocket(context.Background(), true)))
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	// Connect is submitted before Accept: both share one Task Runner, and an
	// Accept dispatched first would block it with the Connect queued behind.
	if _, err = async.Await[async.Void](mustFuture(facade.Connect(context.Background(), clientFd, "127.0.0.1", 9100))); err != nil {
		t.Fatalf("connect: %v", err)
	}

	acceptCh := make(chan native.SocketFd, 1)
	go func() {
		future, _ := facade.Accept(context.Background(), listenerFd)
		fd, _ := async.Await[native.SocketFd](future)
		acceptCh <- fd
	}()

	select {
	case serverFd = <-acceptCh:
	case <-time.After(time.Second):
		t.Fatal("accept timed out")
	}
	return
}

func TestChunkedIO_WriteChunks_Yielding_RoundTrip(t *testing.T) {
	clientFd, serverFd, facade := pairedFacadeConns(t)

	payload := make([]byte, 60000)
	rand.New(rand.NewSource(1)).Read(payload)
	toSend := make([]byte, len(payload))
	copy(toSend, payload)

	writer := newChunkedIO(facade, clientFd)
	future, err := writer.WriteChunks(context.Background(), &toSend, DefaultMTU, 8, PaceYielding)
	if err != nil {
		t.Fatalf("write chunks: %v", err)
	}
	if len(toSend) != 0 {
		t.Fatalf("caller's buffer not detached, len=%d", len(toSend))
	}

	// Writer and reader share one Task Runner: a Read against an empty
	// buffer would block it with the remaining writes queued behind, so
	// every write completes before reading starts.
	if _, err = async.Await[int](future); err != nil {
		t.Fatalf("write future: %v", err)
	}

	reader := newChunkedIO(facade, serverFd)
	collected, err := reader.ReadChunks(context.Background(), len(payload), 1500, nil, nil)
	if err != nil {
		t.Fatalf("read chunks: %v", err)
	}

	var got bytes.Buffer
	for _, c := range collected {
		got.Write(c)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("round-trip byte mismatch (yielding pacing)")
	}
}

func TestChunkedIO_WriteChunks_Explicit_RoundTrip(t *testing.T) {
	clientFd, serverFd, facade := pairedFacadeConns(t)

	payload := make([]byte, 60000)
	rand.New(rand.NewSource(2)).Read(payload)
	toSend := make([]byte, len(payload))
	copy(toSend, payload)

	writer := newChunkedIO(facade, clientFd)
	future, err := writer.WriteChunks(context.Background(), &toSend, DefaultMTU, 8, PaceExplicit)
	if err != nil {
		t.Fatalf("write chunks: %v", err)
	}
	if len(toSend) != 0 {
		t.Fatalf("caller's buffer not detached, len=%d", len(toSend))
	}

	// Same single-runner constraint as the yielding test: finish writing
	// before reading.
	if _, err = async.Await[int](future); err != nil {
		t.Fatalf("write future: %v", err)
	}

	reader := newChunkedIO(facade, serverFd)
	collected, err := reader.ReadChunks(context.Background(), len(payload), 1500, nil, nil)
	if err != nil {
		t.Fatalf("read chunks: %v", err)
	}

	var got bytes.Buffer
	for _, c := range collected {
		got.Write(c)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatal("round-trip byte mismatch (explicit pacing)")
	}
}

// TestFacade_WriteRejectsOversizedMessageInMessageAPIMode covers the
// message-API payload boundary: a write of exactly the configured payload
// size succeeds, one byte over returns a native ERROR. Per the facade's
// protocol-vs-dispatch error contract, that ERROR does not fail the
// future — it is delivered as an ordinary (n=0) result, with the real
// failure parked in LastError.
func TestFacade_WriteRejectsOversizedMessageInMessageAPIMode(t *testing.T) {
	clientFd, _, facade := pairedFacadeConns(t)

	if _, err := async.Await[async.Void](mustFuture(facade.SetSockopt(context.Background(), clientFd, native.OptionMessageapi, true))); err != nil {
		t.Fatalf("set messageapi: %v", err)
	}
	if _, err := async.Await[async.Void](mustFuture(facade.SetSockopt(context.Background(), clientFd, native.OptionPayloadsize, DefaultMTU))); err != nil {
		t.Fatalf("set payloadsize: %v", err)
	}

	exact := make([]byte, DefaultMTU)
	n, err := async.Await[int](mustFuture(facade.Write(context.Background(), clientFd, &exact)))
	if err != nil || n != DefaultMTU {
		t.Fatalf("exact MTU write: n=%d err=%v", n, err)
	}

	oversized := make([]byte, DefaultMTU+1)
	n, err = async.Await[int](mustFuture(facade.Write(context.Background(), clientFd, &oversized)))
	if err != nil {
		t.Fatalf("oversized write future should not fail the future, got %v", err)
	}
	if n != 0 {
		t.Fatalf("oversized write should report 0 bytes written, got %d", n)
	}
	if lastErr := facade.LastError(); !IsTransportError(lastErr) {
		t.Fatalf("expected a transport error in the error slot, got %v", lastErr)
	}
}

func TestChunkedIO_SlicingRoundTrip(t *testing.T) {
	for _, tc := range []struct{ l, m int }{
		{0, 1}, {1, 1}, {1316, 1316}, {1317, 1316}, {60000, 1316}, {5, 1000},
	} {
		buf := make([]byte, tc.l)
		rand.New(rand.NewSource(int64(tc.l + tc.m))).Read(buf)
		var rebuilt []byte
		for off := 0; off < len(buf); off += tc.m {
			end := off + tc.m
			if end > len(buf) {
				end = len(buf)
			}
			rebuilt = append(rebuilt, buf[off:end]...)
		}
		require.Truef(t, bytes.Equal(rebuilt, buf), "L=%d M=%d: round trip mismatch", tc.l, tc.m)
	}
}
