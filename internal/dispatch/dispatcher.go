// Package dispatch runs inference work on a bounded worker pool while keeping
// the tasks of each session strictly ordered.
//
// Every key owns a lane. A lane is handed to at most one worker at a time and
// that worker drains it in submission order, so tasks for one key never
// overlap while different keys proceed in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/emora/pkg/metrics"
)

var (
	// ErrQueueFull is returned when every worker is busy and the backlog is full
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrLaneFull is returned when one key has too many pending tasks
	ErrLaneFull = errors.New("too many pending tasks for key")
	// ErrStopped is returned after Shutdown
	ErrStopped = errors.New("dispatcher stopped")
	// ErrAborted is returned by Do when the task ended without a result
	ErrAborted = errors.New("task aborted")
)

// Task is a unit of work. ctx is the submitter's context.
type Task func(ctx context.Context)

type job struct {
	ctx  context.Context
	run  Task
	done chan struct{}
}

type lane struct {
	key     string
	pending []*job
}

// Dispatcher is a bounded worker pool with per-key FIFO lanes.
type Dispatcher struct {
	workers     int
	queueSize   int
	lanePending int
	logger      *zap.Logger

	ready chan *lane

	mu      sync.Mutex
	lanes   map[string]*lane
	stopped bool

	shutdown  chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates a dispatcher. Call Start before submitting.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		workers:     runtime.NumCPU(),
		queueSize:   256,
		lanePending: 16,
		logger:      zap.NewNop(),
		lanes:       make(map[string]*lane),
		shutdown:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ready = make(chan *lane, d.queueSize)
	return d
}

// Start launches the workers. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.run()
		}
		d.logger.Info("Dispatcher started",
			zap.Int("workers", d.workers),
			zap.Int("queueSize", d.queueSize))
	})
}

// Submit queues task on key's lane without blocking. The returned channel is
// closed once the task has run or has been skipped because ctx ended first.
func (d *Dispatcher) Submit(ctx context.Context, key string, task Task) (<-chan struct{}, error) {
	j := &job{ctx: ctx, run: task, done: make(chan struct{})}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil, ErrStopped
	}

	if l, ok := d.lanes[key]; ok {
		if len(l.pending) >= d.lanePending {
			metrics.RecordDispatchRejected("lane_full")
			return nil, fmt.Errorf("%w: %s", ErrLaneFull, key)
		}
		l.pending = append(l.pending, j)
		return j.done, nil
	}

	l := &lane{key: key, pending: []*job{j}}
	select {
	case d.ready <- l:
		d.lanes[key] = l
		return j.done, nil
	default:
		metrics.RecordDispatchRejected("queue_full")
		return nil, ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.shutdown:
			return
		case l := <-d.ready:
			d.drain(l)
		}
	}
}

// drain runs a lane's jobs in order until it is empty, then retires the lane
// so the next Submit for that key opens a new one.
func (d *Dispatcher) drain(l *lane) {
	for {
		d.mu.Lock()
		if d.stopped {
			// Shutdown releases whatever is left in the lane.
			d.mu.Unlock()
			return
		}
		if len(l.pending) == 0 {
			delete(d.lanes, l.key)
			d.mu.Unlock()
			return
		}
		j := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		d.mu.Unlock()

		d.execute(l.key, j)
	}
}

func (d *Dispatcher) execute(key string, j *job) {
	defer close(j.done)

	if j.ctx.Err() != nil {
		metrics.RecordDispatchSkipped()
		d.logger.Debug("Skipping task for closed session", zap.String("key", key))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Task panicked",
				zap.String("key", key),
				zap.Any("panic", r))
		}
	}()
	j.run(j.ctx)
}

// Pending returns the number of queued tasks for key, excluding a running one
func (d *Dispatcher) Pending(key string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lanes[key]; ok {
		return len(l.pending)
	}
	return 0
}

// Shutdown stops accepting work, lets running tasks finish and releases the
// waiters of tasks that never ran.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.shutdown)

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		err := fmt.Errorf("shutdown timed out: %w", ctx.Err())
		d.logger.Warn("Dispatcher stopped with tasks still running", zap.Error(err))
		return err
	}

	d.mu.Lock()
	for key, l := range d.lanes {
		for _, j := range l.pending {
			close(j.done)
		}
		l.pending = nil
		delete(d.lanes, key)
	}
	d.mu.Unlock()

	d.logger.Info("Dispatcher stopped")
	return nil
}

// Do submits fn on key's lane and waits for its result.
func Do[T any](ctx context.Context, d *Dispatcher, key string, fn func(context.Context) T) (T, error) {
	var zero T
	result := make(chan T, 1)
	done, err := d.Submit(ctx, key, func(ctx context.Context) {
		result <- fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	select {
	case v := <-result:
		return v, nil
	case <-done:
		select {
		case v := <-result:
			return v, nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, ErrAborted
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
