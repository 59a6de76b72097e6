package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Runnable is a unit of work submitted to an Executors pool.
type Runnable interface {
	Run(ctx context.Context)
}

type runnableFunc func(ctx context.Context)

func (fn runnableFunc) Run(ctx context.Context) { fn(ctx) }

// RunnableFunc adapts a plain function to Runnable.
func RunnableFunc(fn func(ctx context.Context)) Runnable {
	return runnableFunc(fn)
}

// ExecutorSubmitter is a lease on one pool goroutine. A Future submits its
// runner to the single ExecutorSubmitter it was created with, so its
// completion handler runs on that leased goroutine.
type ExecutorSubmitter interface {
	Submit(ctx context.Context, runnable Runnable)
}

// Executors is a small goroutine pool, grown on demand up to MaxGoroutines
// and reaped after MaxGoroutineIdleDuration of inactivity.
type Executors interface {
	TryExecute(ctx context.Context, runnable Runnable) (ok bool)
	Execute(ctx context.Context, runnable Runnable) (err error)
	GetExecutorSubmitter() (submitter ExecutorSubmitter, has bool)
	ReleaseNotUsedExecutorSubmitter(submitter ExecutorSubmitter)
	Available() (ok bool)
	Close()
	CloseGracefully()
}

var ErrExecutorsClosed = errors.New("async: executors were closed")

type executorTask struct {
	ctx      context.Context
	runnable Runnable
}

type executorSubmitterImpl struct {
	lastUseTime time.Time
	ch          chan *executorTask
}

func (s *executorSubmitterImpl) Submit(ctx context.Context, runnable Runnable) {
	s.ch <- &executorTask{ctx: ctx, runnable: runnable}
}

type goroutineCounter struct {
	n int64
}

func (c *goroutineCounter) Incr() int64 {
	return atomic.AddInt64(&c.n, 1)
}

func (c *goroutineCounter) Decr() int64 {
	return atomic.AddInt64(&c.n, -1)
}

func (c *goroutineCounter) Value() int64 {
	return atomic.LoadInt64(&c.n)
}

func (c *goroutineCounter) Wait() {
	for c.Value() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// New builds an Executors pool. Without options it allows up to
// defaultMaxGoroutines, each reaped after defaultMaxGoroutineIdleDuration
// idle.
func New(options ...Option) Executors {
	opt := Options{
		MaxGoroutines:            defaultMaxGoroutines,
		MaxGoroutineIdleDuration: defaultMaxGoroutineIdleDuration,
	}
	for _, option := range options {
		if err := option(&opt); err != nil {
			panic(err)
		}
	}
	exec := &executors{
		maxGoroutines:            int64(opt.MaxGoroutines),
		maxGoroutineIdleDuration: opt.MaxGoroutineIdleDuration,
		goroutines:               new(goroutineCounter),
	}
	exec.start()
	return exec
}

type executors struct {
	maxGoroutines            int64
	maxGoroutineIdleDuration time.Duration
	locker                   sync.Mutex
	running                  int64
	ready                    []*executorSubmitterImpl
	stopCh                   chan struct{}
	pool                     sync.Pool
	goroutines               *goroutineCounter
}

func (exec *executors) TryExecute(ctx context.Context, runnable Runnable) (ok bool) {
	if runnable == nil || atomic.LoadInt64(&exec.running) == 0 {
		return false
	}
	submitter := exec.getSubmitter()
	if submitter == nil {
		return false
	}
	submitter.Submit(ctx, runnable)
	return true
}

func (exec *executors) Execute(ctx context.Context, runnable Runnable) error {
	if runnable == nil {
		return nil
	}
	return backoffRetry(ctx, func() (bool, error) {
		if exec.TryExecute(ctx, runnable) {
			return true, nil
		}
		if atomic.LoadInt64(&exec.running) == 0 {
			return false, ErrExecutorsClosed
		}
		return false, nil
	})
}

func (exec *executors) GetExecutorSubmitter() (submitter ExecutorSubmitter, has bool) {
	submitter = exec.getSubmitter()
	has = submitter != nil
	return
}

func (exec *executors) ReleaseNotUsedExecutorSubmitter(submitter ExecutorSubmitter) {
	s, ok := submitter.(*executorSubmitterImpl)
	if !ok {
		return
	}
	exec.release(s)
}

func (exec *executors) Available() (ok bool) {
	exec.locker.Lock()
	defer exec.locker.Unlock()
	if len(exec.ready) > 0 {
		return true
	}
	return exec.goroutines.Value() < exec.maxGoroutines
}

func (exec *executors) Close() {
	atomic.StoreInt64(&exec.running, 0)
	exec.shutdown()
}

func (exec *executors) CloseGracefully() {
	atomic.StoreInt64(&exec.running, 0)
	exec.shutdown()
	exec.goroutines.Wait()
}

func (exec *executors) shutdown() {
	close(exec.stopCh)
	exec.locker.Lock()
	ready := exec.ready
	for i := range ready {
		ready[i].ch <- nil
		ready[i] = nil
	}
	exec.ready = ready[:0]
	exec.locker.Unlock()
}

func (exec *executors) start() {
	exec.running = 1
	exec.stopCh = make(chan struct{})
	exec.pool.New = func() interface{} {
		return &executorSubmitterImpl{ch: make(chan *executorTask, 1)}
	}
	go exec.reapLoop()
}

func (exec *executors) reapLoop() {
	timer := time.NewTimer(exec.maxGoroutineIdleDuration)
	defer timer.Stop()
	var scratch []*executorSubmitterImpl
	for {
		select {
		case <-exec.stopCh:
			return
		case <-timer.C:
			exec.reapIdle(&scratch)
			timer.Reset(exec.maxGoroutineIdleDuration)
		}
	}
}

// reapIdle evicts submitters that have been idle past maxGoroutineIdleDuration.
// exec.ready is kept ordered by lastUseTime, oldest first, so a binary
// search finds the cut point in O(log n).
func (exec *executors) reapIdle(scratch *[]*executorSubmitterImpl) {
	if atomic.LoadInt64(&exec.running) == 0 {
		return
	}
	criticalTime := time.Now().Add(-exec.maxGoroutineIdleDuration)
	exec.locker.Lock()
	ready := exec.ready
	n := len(ready)
	l, r := 0, n-1
	for l <= r {
		mid := (l + r) / 2
		if criticalTime.After(ready[mid].lastUseTime) {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	if r == -1 {
		exec.locker.Unlock()
		return
	}
	*scratch = append((*scratch)[:0], ready[:r+1]...)
	m := copy(ready, ready[r+1:])
	for i := m; i < n; i++ {
		ready[i] = nil
	}
	exec.ready = ready[:m]
	exec.locker.Unlock()

	for _, s := range *scratch {
		s.ch <- nil
	}
}

func (exec *executors) getSubmitter() *executorSubmitterImpl {
	var submitter *executorSubmitterImpl
	spawn := false
	exec.locker.Lock()
	n := len(exec.ready) - 1
	if n < 0 {
		if exec.goroutines.Value() < exec.maxGoroutines {
			spawn = true
			exec.goroutines.Incr()
		}
	} else {
		submitter = exec.ready[n]
		exec.ready[n] = nil
		exec.ready = exec.ready[:n]
	}
	exec.locker.Unlock()

	if submitter == nil {
		if !spawn {
			return nil
		}
		pooled := exec.pool.Get()
		submitter = pooled.(*executorSubmitterImpl)
		go func() {
			exec.handle(submitter)
			exec.pool.Put(pooled)
		}()
	}
	return submitter
}

func (exec *executors) release(submitter *executorSubmitterImpl) bool {
	submitter.lastUseTime = time.Now()
	exec.locker.Lock()
	defer exec.locker.Unlock()
	if atomic.LoadInt64(&exec.running) == 0 {
		return false
	}
	exec.ready = append(exec.ready, submitter)
	return true
}

func (exec *executors) handle(submitter *executorSubmitterImpl) {
	for task := range submitter.ch {
		if task == nil {
			break
		}
		task.runnable.Run(task.ctx)
		if !exec.release(submitter) {
			break
		}
	}
	exec.locker.Lock()
	exec.goroutines.Decr()
	exec.locker.Unlock()
}
