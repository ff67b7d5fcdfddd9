package model

import (
	"context"
	"sync"
)

// Scheduler runs the completion of remote operations. Entities are not safe
// for concurrent use; a Scheduler decides when, but never on which
// goroutine, the completion callbacks run relative to the caller.
type Scheduler interface {
	Schedule(task func())
}

type immediate struct{}

func (immediate) Schedule(task func()) { task() }

// Immediate runs every task inline, making remote operations blocking.
var Immediate Scheduler = immediate{}

// Loop queues tasks until the owner drains it. It is the cooperative event
// loop: constructing and mutating entities never waits on the network, and
// responses are applied when Drain or Step runs.
type Loop struct {
	mu    sync.Mutex
	queue []func()
}

// NewLoop returns an empty Loop.
func NewLoop() *Loop { return &Loop{} }

// Schedule appends task to the queue. It may be called from any goroutine.
func (l *Loop) Schedule(task func()) {
	l.mu.Lock()
	l.queue = append(l.queue, task)
	l.mu.Unlock()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Step runs the oldest queued task and reports whether one ran.
func (l *Loop) Step() bool {
	l.mu.Lock()
	if len(l.queue) == 0 {
		l.mu.Unlock()
		return false
	}
	task := l.queue[0]
	l.queue = l.queue[1:]
	l.mu.Unlock()

	task()
	return true
}

// Drain runs tasks, including those scheduled by running tasks, until the
// queue is empty or ctx is done.
func (l *Loop) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // pass through
		}
		if !l.Step() {
			return nil
		}
	}
}
