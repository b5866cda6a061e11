// Package worker bounds the number of jobs running at the same time and
// queues the excess in FIFO order.
package worker

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrOverload is returned by Submit when both the slots and the queue
	// are full
	ErrOverload = errors.New("worker: overloaded")

	// ErrShutdown is returned after Shutdown was called
	ErrShutdown = errors.New("worker: shut down")

	// ErrPanic is reported when a job panics
	ErrPanic = errors.New("worker: job panicked")
)

// Job runs inside one worker slot, ctx is the context given to Submit
type Job func(ctx context.Context)

// Config defines worker configuration
type Config struct {
	Parallelism int // defaults to runtime.NumCPU
	QueueDepth  int
	Logger      *zap.Logger

	// Observer is called with the counters every time they change. It is
	// called with the lock held and must not call back into the worker.
	Observer func(Stats)
}

// Stats is a snapshot of the worker counters
type Stats struct {
	Running     int
	Queued      int
	Parallelism int
	QueueDepth  int
}

// Worker defines interface for scheduler
type Worker interface {
	Start()
	// Submit admits the job or fails immediately. The returned channel
	// receives exactly once: nil after the job returned, ctx.Err() if ctx was
	// done before a slot was granted, ErrShutdown or a wrapped ErrPanic.
	Submit(context.Context, Job) (<-chan error, error)
	Stats() Stats
	Shutdown()
}

type task struct {
	ctx  context.Context
	job  Job
	done chan error

	// elem is non-nil while queued, guarded by worker.mu
	elem *list.Element
	stop func() bool
}

// worker defines the bounded scheduler
type worker struct {
	parallelism int
	queueDepth  int
	logger      *zap.Logger
	observer    func(Stats)

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	queue   *list.List
	running int
	closed  bool
}

// New creates new worker
func New(conf Config) Worker {
	if conf.Parallelism <= 0 {
		conf.Parallelism = runtime.NumCPU()
	}
	if conf.QueueDepth < 0 {
		conf.QueueDepth = 0
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	w := &worker{
		parallelism: conf.Parallelism,
		queueDepth:  conf.QueueDepth,
		logger:      conf.Logger,
		observer:    conf.Observer,
		queue:       list.New(),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Start starts worker loops with given parallelism
func (w *worker) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(w.parallelism)
		for i := 0; i < w.parallelism; i++ {
			go w.loop()
		}
	})
}

// Submit submits a single job
func (w *worker) Submit(ctx context.Context, job Job) (<-chan error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := &task{
		ctx:  ctx,
		job:  job,
		done: make(chan error, 1),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrShutdown
	}
	if w.running+w.queue.Len() >= w.parallelism+w.queueDepth {
		w.mu.Unlock()
		return nil, ErrOverload
	}
	t.elem = w.queue.PushBack(t)
	// the callback runs on its own goroutine so it cannot deadlock on mu
	t.stop = context.AfterFunc(ctx, func() {
		w.dequeue(t)
	})
	w.observeLocked()
	w.cond.Signal()
	w.mu.Unlock()
	return t.done, nil
}

// Stats returns current counters
func (w *worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.statsLocked()
}

// Shutdown rejects new jobs, drops the queued ones and waits for the running
// jobs to finish
func (w *worker) Shutdown() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		var pending []*task
		for e := w.queue.Front(); e != nil; e = e.Next() {
			t := e.Value.(*task)
			t.elem = nil
			pending = append(pending, t)
		}
		w.queue.Init()
		w.observeLocked()
		w.cond.Broadcast()
		w.mu.Unlock()

		for _, t := range pending {
			t.stop()
			t.done <- ErrShutdown
		}
		if len(pending) > 0 {
			w.logger.Info("Dropped queued jobs on shutdown", zap.Int("count", len(pending)))
		}
		w.wg.Wait()
	})
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		t := w.next()
		if t == nil {
			return
		}
		w.run(t)
	}
}

// next blocks until a job is available, nil means shut down
func (w *worker) next() *task {
	w.mu.Lock()
	for w.queue.Len() == 0 && !w.closed {
		w.cond.Wait()
	}
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	t := w.queue.Remove(w.queue.Front()).(*task)
	t.elem = nil
	w.running++
	w.observeLocked()
	w.mu.Unlock()
	return t
}

func (w *worker) run(t *task) {
	t.stop()

	var err error
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}

		w.mu.Lock()
		w.running--
		w.observeLocked()
		w.mu.Unlock()

		t.done <- err
	}()

	// canceled between dequeue and start
	if err = t.ctx.Err(); err != nil {
		return
	}
	t.job(t.ctx)
}

// dequeue drops a job whose context is done before it got a slot
func (w *worker) dequeue(t *task) {
	w.mu.Lock()
	if t.elem == nil {
		w.mu.Unlock()
		return
	}
	w.queue.Remove(t.elem)
	t.elem = nil
	w.observeLocked()
	w.mu.Unlock()

	w.logger.Debug("Queued job canceled", zap.Error(t.ctx.Err()))
	t.done <- t.ctx.Err()
}

func (w *worker) statsLocked() Stats {
	return Stats{
		Running:     w.running,
		Queued:      w.queue.Len(),
		Parallelism: w.parallelism,
		QueueDepth:  w.queueDepth,
	}
}

func (w *worker) observeLocked() {
	if w.observer != nil {
		w.observer(w.statsLocked())
	}
}
