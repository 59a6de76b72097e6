package srtio

import (
	"context"
	"testing"
	"time"

	"github.com/emliri/srtio/native"
	"github.com/emliri/srtio/pkg/async"
	"github.com/rs/zerolog"
)

func newTestFacade(t *testing.T) (*Facade, *native.Fake) {
	fake := native.NewFake()
	cfg, err := applyOptions()
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	f := NewFacade(context.Background(), fake, cfg, zerolog.Nop())
	t.Cleanup(f.Dispose)
	return f, fake
}

func TestFacade_CreateSocketRoundTrip(t *testing.T) {
	f, _ := newTestFacade(t)
	future, err := f.CreateSocket(context.Background(), false)
	if err != nil {
		t.Fatalf("create socket submission: %v", err)
	}
	fd, err := async.Await[native.SocketFd](future)
	if err != nil {
		t.Fatalf("create socket: %v", err)
	}
	if fd == native.InvalidSocket {
		t.Fatal("got invalid socket")
	}
}

func TestFacade_CallbacksFireInSubmissionOrder(t *testing.T) {
	f, _ := newTestFacade(t)
	const n = 50

	results := make(chan native.SocketFd, n)
	futures := make([]async.Future[native.SocketFd], n)
	for i := 0; i < n; i++ {
		future, err := f.CreateSocket(context.Background(), false)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		futures[i] = future
	}
	for i := 0; i < n; i++ {
		fd, err := async.Await[native.SocketFd](futures[i])
		if err != nil {
			t.Fatalf("await %d: %v", i, err)
		}
		results <- fd
	}
	close(results)

	var last native.SocketFd = -1
	for fd := range results {
		if fd <= last {
			t.Fatalf("fds not monotonically increasing: got %d after %d", fd, last)
		}
		last = fd
	}
}

func TestFacade_DisposeRejectsSubsequentOperations(t *testing.T) {
	f, _ := newTestFacade(t)
	f.Dispose()

	_, err := f.CreateSocket(context.Background(), false)
	if !IsDisposed(err) {
		t.Fatalf("got %v, want disposed error", err)
	}
}

// TestFacade_DisposeDuringPendingDropsCallback submits an Accept against a
// listening socket with no peer ever connecting, so the Task Runner's
// single goroutine is genuinely blocked inside native.Binding.Accept when
// Dispose runs. Dispose must still resolve the pending future (with
// ErrDisposed) rather than leaving Await blocked forever.
func TestFacade_DisposeDuringPendingDropsCallback(t *testing.T) {
	f, _ := newTestFacade(t)

	listenerFd, err := async.Await[native.SocketFd](mustFuture(f.CreateSocket(context.Background(), false)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err = async.Await[async.Void](mustFuture(f.Bind(context.Background(), listenerFd, "127.0.0.1", 9210))); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err = async.Await[async.Void](mustFuture(f.Listen(context.Background(), listenerFd, 4))); err != nil {
		t.Fatalf("listen: %v", err)
	}

	future, err := f.Accept(context.Background(), listenerFd)
	if err != nil {
		t.Fatalf("accept submission: %v", err)
	}
	// Give the runner a chance to pull the request off reqCh and block
	// inside native Accept before disposing, so this exercises the
	// genuinely in-flight case, not the still-buffered one.
	time.Sleep(10 * time.Millisecond)
	f.Dispose()

	_, err = async.Await[native.SocketFd](future)
	if !IsDisposed(err) {
		t.Fatalf("got %v, want disposed error", err)
	}
}

// TestFacade_DisposeDiscardsBufferedUndispatchedRequests submits several
// requests behind one that blocks the runner forever, then disposes. The
// blocked one resolves with ErrDisposed like any other dropped pending
// call; the ones still sitting in reqCh must never reach native.Binding at
// all. That is checked by calling CreateSocket directly against the same
// Fake after Dispose and confirming its fd picks up immediately after the
// listener's, with no gap consumed by a dispatched-but-discarded request.
func TestFacade_DisposeDiscardsBufferedUndispatchedRequests(t *testing.T) {
	f, fake := newTestFacade(t)

	listenerFd, err := async.Await[native.SocketFd](mustFuture(f.CreateSocket(context.Background(), false)))
	if err != nil {
		t.Fatalf("create listener: %v", err)
	}
	if _, err = async.Await[async.Void](mustFuture(f.Bind(context.Background(), listenerFd, "127.0.0.1", 9211))); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err = async.Await[async.Void](mustFuture(f.Listen(context.Background(), listenerFd, 4))); err != nil {
		t.Fatalf("listen: %v", err)
	}

	acceptFuture, err := f.Accept(context.Background(), listenerFd)
	if err != nil {
		t.Fatalf("accept submission: %v", err)
	}
	time.Sleep(10 * time.Millisecond) // let the runner block inside Accept

	const queued = 3
	queuedFutures := make([]async.Future[native.SocketFd], queued)
	for i := 0; i < queued; i++ {
		future, err := f.CreateSocket(context.Background(), false)
		if err != nil {
			t.Fatalf("queue create %d: %v", i, err)
		}
		queuedFutures[i] = future
	}

	f.Dispose()

	if _, err = async.Await[native.SocketFd](acceptFuture); !IsDisposed(err) {
		t.Fatalf("accept: got %v, want disposed error", err)
	}
	for i, future := range queuedFutures {
		if _, err = async.Await[native.SocketFd](future); !IsDisposed(err) {
			t.Fatalf("queued create %d: got %v, want disposed error", i, err)
		}
	}

	directFd, err := fake.CreateSocket(false)
	if err != nil {
		t.Fatalf("direct create: %v", err)
	}
	if directFd != listenerFd+1 {
		t.Fatalf("got fd %d, want %d: a queued request was dispatched despite Dispose", directFd, listenerFd+1)
	}
}

// TestFacade_CallTimeoutRejectsWithoutMisaligningFIFO exercises the
// "timeout without leak" case: an Accept submitted with a short CallTimeout
// against a listener nobody ever connects to must reject with
// context.DeadlineExceeded promptly, and a distinct operation submitted
// after it must still resolve correctly through the same FIFO once the
// runner catches up, unaffected by the stale Accept reply landing later.
func TestFacade_CallTimeoutRejectsWithoutMisaligningFIFO(t *testing.T) {
	fake := native.NewFake()
	cfg, err := applyOptions(WithCallTimeout(15 * time.Millisecond))
	if err != nil {
		t.Fatalf("apply options: %v", err)
	}
	f := NewFacade(context.Background(), fake, cfg, zerolog.Nop())
	t.Cleanup(f.Dispose)

	listenerFd, err := fake.CreateSocket(false)
	if err != nil {
		t.Fatalf("direct create listener: %v", err)
	}
	if err := fake.Bind(listenerFd, "127.0.0.1", 9212); err != nil {
		t.Fatalf("direct bind: %v", err)
	}
	if err := fake.Listen(listenerFd, 4); err != nil {
		t.Fatalf("direct listen: %v", err)
	}

	acceptFuture, err := f.Accept(context.Background(), listenerFd)
	if err != nil {
		t.Fatalf("accept submission: %v", err)
	}

	_, err = async.Await[native.SocketFd](acceptFuture)
	if !IsTimeout(err) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}

	// The timed-out Accept is still blocked inside the runner. Submitting
	// a second Facade operation now would only queue behind it, so unblock
	// the native call directly against the Fake, bypassing the runner.
	clientFd, err := fake.CreateSocket(true)
	if err != nil {
		t.Fatalf("direct create client: %v", err)
	}
	if err := fake.Connect(clientFd, "127.0.0.1", 9212); err != nil {
		t.Fatalf("direct connect: %v", err)
	}

	// Now that the runner's in-flight Accept can return, submit a distinct
	// operation and confirm the FIFO delivers its own reply, not the stale
	// Accept result, to this promise.
	future, err := f.CreateSocket(context.Background(), false)
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	fd, err := async.Await[native.SocketFd](future)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if fd == native.InvalidSocket {
		t.Fatal("got invalid socket")
	}
}

func mustFuture[R any](f async.Future[R], err error) async.Future[R] {
	if err != nil {
		panic(err)
	}
	return f
}
