package model

import (
	"sync"
	"time"

	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
)

// DefaultIdleAfter is how long without input before the user is marked away.
const DefaultIdleAfter = 30 * time.Second

// Idle declares the user away after a quiet period and back online on the
// next input. Declarations that fail (for example while offline) are retried
// on the next transition.
type Idle struct {
	mu      sync.Mutex
	sch     sched.Scheduler
	after   time.Duration
	declare func(protocol.Presence) error
	away    bool
	slot    sched.Slot
	stopped bool
}

// NewIdle starts the idle timer.
func NewIdle(sch sched.Scheduler, after time.Duration, declare func(protocol.Presence) error) *Idle {
	if after <= 0 {
		after = DefaultIdleAfter
	}
	i := &Idle{sch: sch, after: after, declare: declare}
	i.mu.Lock()
	i.armLocked()
	i.mu.Unlock()
	return i
}

func (i *Idle) armLocked() {
	i.slot.Arm(i.sch, i.after, i.fire)
}

func (i *Idle) fire(tok sched.Token) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped || !i.slot.Live(tok) {
		return
	}
	i.slot.Release(tok)
	if !i.away && i.declare(protocol.Away) == nil {
		i.away = true
	}
}

// Touch records user input.
func (i *Idle) Touch() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	if i.away && i.declare(protocol.Online) == nil {
		i.away = false
	}
	i.armLocked()
}

// Away reports whether the user is currently declared away.
func (i *Idle) Away() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.away
}

func (i *Idle) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	i.slot.Cancel()
}
