// Package loop provides a serial event loop: tasks posted from any goroutine
// run one at a time, in posting order, on the goroutine that runs the loop.
package loop

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned when a task is posted to a stopped loop.
var ErrClosed = errors.New("loop closed")

// Loop is an unbounded FIFO of tasks. Post never blocks and never drops a
// task while the loop is open.
type Loop struct {
	lg *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// New creates a loop. Call Run to start processing.
func New(lg *zap.Logger) *Loop {
	return &Loop{
		lg:   lg,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. It returns ErrClosed when the loop has stopped.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do posts fn and waits until it has run or ctx is done.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := l.Post(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// The loop may have run fn right before stopping.
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Run processes tasks until ctx is done. Tasks still queued when ctx is done
// are discarded. Run must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			l.run(fn)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.lg.Error("Loop task panicked",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}
