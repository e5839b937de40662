package executor

import (
	"context"
	"errors"
	"sync"
)

// ErrLoopStopped is returned by Do once the loop has stopped.
var ErrLoopStopped = errors.New("mutation loop stopped")

// Loop is the single owner of store, cache and dirty state. Every closure
// handed to it runs on one goroutine, in submission order.
type Loop struct {
	ops  chan func()
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewLoop creates a loop whose queue holds up to buffer closures before
// Submit blocks.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		ops:  make(chan func(), buffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start runs the loop on a new goroutine until ctx is done or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.run(ctx)
	})
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case fn := <-l.ops:
			fn()
		case <-l.quit:
			l.drain()
			return
		case <-ctx.Done():
			l.drain()
			return
		}
	}
}

// drain runs closures that were queued before the stop signal.
func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.ops:
			fn()
		default:
			return
		}
	}
}

// Submit queues fn without waiting for it to run. It returns false if the
// loop has stopped, in which case fn never runs.
func (l *Loop) Submit(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.ops <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.ops <- wrapped:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop drains before closing done, so fn has run if it was queued.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Stop signals the loop to finish queued closures and exit, then waits.
// A loop that was never started is marked done and never starts.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	l.startOnce.Do(func() { close(l.done) })
	<-l.done
}

// Done is closed once the loop has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
