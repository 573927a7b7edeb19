package communication

import (
	"sync"
	"time"
)

// latch is a one-shot event: once set it stays set, and every waiter
// is released. Used for the shutdown flag (interruptible sleeps) and
// the init-completed signal.
type latch struct {
	once sync.Once
	ch   chan struct{}
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

func (l *latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// WaitFor blocks until the latch is set or d elapses. Returns true if
// the latch is set.
func (l *latch) WaitFor(d time.Duration) bool {
	if d <= 0 {
		return l.IsSet()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Wait blocks until the latch is set.
func (l *latch) Wait() {
	<-l.ch
}
