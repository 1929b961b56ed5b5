package cpu

import "clockos/kernel/sync"

// Gate emulates the interrupt flag of a CPU. While interrupts are disabled,
// calls to Deliver wait until they are enabled again, so code running between
// DisableInterrupts and EnableInterrupts never observes a handler running
// concurrently. Deliver itself runs with interrupts disabled which makes
// delivery non-reentrant.
//
// A Gate must not be disabled twice by the same task; doing so deadlocks.
type Gate struct {
	lock sync.Spinlock
}

// DisableInterrupts holds off interrupt delivery until EnableInterrupts is
// called.
func (g *Gate) DisableInterrupts() {
	g.lock.Acquire()
}

// EnableInterrupts resumes interrupt delivery.
func (g *Gate) EnableInterrupts() {
	g.lock.Release()
}

// InterruptsEnabled returns true if interrupts can currently be delivered.
func (g *Gate) InterruptsEnabled() bool {
	return !g.lock.Held()
}

// Deliver runs isr in interrupt context.
func (g *Gate) Deliver(isr func()) {
	g.lock.Acquire()
	defer g.lock.Release()
	isr()
}
