package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T, opts ...Option) *Dispatcher {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	d := New(opts...)
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func waitDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

// blocker submits a task on key that signals when it starts and waits for release.
func blocker(d *Dispatcher, key string) (started, release chan struct{}, done <-chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	done, err := d.Submit(context.Background(), key, func(context.Context) {
		close(started)
		<-release
	})
	So(err, ShouldBeNil)
	So(waitDone(started), ShouldBeTrue)
	return started, release, done
}

func TestDispatcherOrdering(t *testing.T) {
	Convey("Given a dispatcher with several workers", t, func() {
		d := newTestDispatcher(t, WithWorkers(4), WithLanePending(128))

		Convey("Tasks of one key run in submission order without overlap", func() {
			var (
				mu      sync.Mutex
				order   []int
				running atomic.Int32
				overlap atomic.Bool
				last    <-chan struct{}
			)
			for i := 0; i < 100; i++ {
				i := i
				done, err := d.Submit(context.Background(), "session-a", func(context.Context) {
					if running.Add(1) > 1 {
						overlap.Store(true)
					}
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					running.Add(-1)
				})
				So(err, ShouldBeNil)
				last = done
			}
			So(waitDone(last), ShouldBeTrue)

			mu.Lock()
			defer mu.Unlock()
			So(overlap.Load(), ShouldBeFalse)
			So(len(order), ShouldEqual, 100)
			for i, v := range order {
				if v != i {
					So(fmt.Sprintf("position %d holds %d", i, v), ShouldBeEmpty)
				}
			}
		})

		Convey("Different keys run in parallel", func() {
			_, release, doneA := blocker(d, "session-a")

			ran := make(chan struct{})
			doneB, err := d.Submit(context.Background(), "session-b", func(context.Context) { close(ran) })
			So(err, ShouldBeNil)
			So(waitDone(ran), ShouldBeTrue)
			So(waitDone(doneB), ShouldBeTrue)

			close(release)
			So(waitDone(doneA), ShouldBeTrue)
		})
	})
}

func TestDispatcherCancellation(t *testing.T) {
	Convey("Given a single worker busy with another session", t, func() {
		d := newTestDispatcher(t, WithWorkers(1))
		_, release, _ := blocker(d, "busy")

		Convey("A task whose context ends before it starts is skipped", func() {
			ctx, cancel := context.WithCancel(context.Background())
			var ran atomic.Bool
			done, err := d.Submit(ctx, "closing", func(context.Context) { ran.Store(true) })
			So(err, ShouldBeNil)

			cancel()
			close(release)

			So(waitDone(done), ShouldBeTrue)
			So(ran.Load(), ShouldBeFalse)
		})

		Convey("Do returns the context error", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := Do(ctx, d, "closing", func(context.Context) int { return 1 })
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			close(release)
		})
	})
}

func TestDispatcherBackpressure(t *testing.T) {
	Convey("Given one worker and a backlog of one", t, func() {
		d := newTestDispatcher(t, WithWorkers(1), WithQueueSize(1), WithLanePending(2))
		_, release, _ := blocker(d, "a")
		defer close(release)

		Convey("A second session waits and a third is refused", func() {
			_, err := d.Submit(context.Background(), "b", func(context.Context) {})
			So(err, ShouldBeNil)
			_, err = d.Submit(context.Background(), "c", func(context.Context) {})
			So(errors.Is(err, ErrQueueFull), ShouldBeTrue)
		})

		Convey("One session cannot queue past its lane limit", func() {
			for i := 0; i < 2; i++ {
				_, err := d.Submit(context.Background(), "a", func(context.Context) {})
				So(err, ShouldBeNil)
			}
			So(d.Pending("a"), ShouldEqual, 2)
			_, err := d.Submit(context.Background(), "a", func(context.Context) {})
			So(errors.Is(err, ErrLaneFull), ShouldBeTrue)
		})
	})
}

func TestDispatcherRecoversPanics(t *testing.T) {
	Convey("Given a task that panics", t, func() {
		d := newTestDispatcher(t, WithWorkers(1))

		done, err := d.Submit(context.Background(), "a", func(context.Context) { panic("boom") })
		So(err, ShouldBeNil)
		So(waitDone(done), ShouldBeTrue)

		Convey("The lane keeps working", func() {
			v, err := Do(context.Background(), d, "a", func(context.Context) string { return "ok" })
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "ok")
		})

		Convey("Do reports the aborted task", func() {
			_, err := Do(context.Background(), d, "a", func(context.Context) string { panic("again") })
			So(errors.Is(err, ErrAborted), ShouldBeTrue)
		})
	})
}

func TestDispatcherShutdown(t *testing.T) {
	Convey("Given a running task with work queued behind it", t, func() {
		d := New(WithWorkers(1), WithLogger(zaptest.NewLogger(t)))
		d.Start()
		_, release, doneA := blocker(d, "a")

		var ran atomic.Bool
		doneNext, err := d.Submit(context.Background(), "a", func(context.Context) { ran.Store(true) })
		So(err, ShouldBeNil)

		Convey("Shutdown waits for the running task and releases the rest", func() {
			result := make(chan error, 1)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				result <- d.Shutdown(ctx)
			}()

			time.Sleep(10 * time.Millisecond)
			close(release)

			So(<-result, ShouldBeNil)
			So(waitDone(doneA), ShouldBeTrue)
			So(waitDone(doneNext), ShouldBeTrue)
			So(ran.Load(), ShouldBeFalse)

			_, err := d.Submit(context.Background(), "a", func(context.Context) {})
			So(errors.Is(err, ErrStopped), ShouldBeTrue)
		})
	})
}
