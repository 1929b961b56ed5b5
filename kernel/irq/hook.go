// Package irq maintains the per-line chains of interrupt hooks and dispatches
// hardware interrupts to them.
package irq

import "sync/atomic"

const (
	// NumLines is the number of IRQ lines served by the interrupt
	// controller pair.
	NumLines = 16

	// MaxHooks is the maximum number of hooks that can be registered at
	// the same time across all lines.
	MaxHooks = 64

	// TimerLine is the IRQ line wired to channel 0 of the interval timer.
	TimerLine = Line(0)
)

// Line identifies a hardware interrupt source.
type Line uint8

// Valid returns true if l refers to an existing IRQ line.
func (l Line) Valid() bool {
	return l < NumLines
}

// HookID identifies a registered hook. IDs are assigned by the Table and
// are unique among the currently registered hooks.
type HookID uint8

// NoHook is the sentinel ID that is never assigned to a hook.
const NoHook = HookID(0)

// Owner identifies the process that is notified when a hook fires.
type Owner int32

// NoOwner marks a kernel-internal hook that notifies nobody.
const NoOwner = Owner(0)

// Policy is a set of flags that control how a line is re-enabled after its
// hooks run.
type Policy uint8

const (
	// PolicyLevelTriggered marks hooks attached to level-triggered
	// hardware.
	PolicyLevelTriggered Policy = 1 << iota

	// PolicyAutoReenable requests the line to be re-armed as soon as the
	// hook chain completes. Without it the line stays in service until
	// the hook owner calls Table.EnableLine.
	PolicyAutoReenable
)

// Handler is implemented by anything that can service an interrupt. The
// handler receives the hook it was registered with and returns a Status that
// tells the dispatcher how to proceed. Handlers run in interrupt context and
// must never block.
//
// Handlers are compared for equivalence when registered; values of
// comparable types are compared with == and functions by their code pointer.
type Handler interface {
	HandleIRQ(*Hook) Status
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(*Hook) Status

// HandleIRQ implements Handler.
func (f HandlerFunc) HandleIRQ(h *Hook) Status {
	return f(h)
}

// HookStats contains diagnostic counters for a hook.
type HookStats struct {
	// Invocations is the number of times the hook handler was invoked.
	Invocations uint64

	// Failures is the number of invocations that returned an error
	// status.
	Failures uint64
}

// Hook is a handler attached to an IRQ line. Hooks live in the arena of the
// Table that created them and are linked into the chain of their line by ID.
type Hook struct {
	id       HookID
	line     Line
	owner    Owner
	policy   Policy
	notifyID uint64
	handler  Handler

	// next links to the following hook in the same chain.
	next HookID

	invocations uint64
	failures    uint64
}

// ID returns the hook identifier.
func (h *Hook) ID() HookID { return h.id }

// Line returns the IRQ line the hook is attached to.
func (h *Hook) Line() Line { return h.line }

// Owner returns the process that is notified when the hook fires.
func (h *Hook) Owner() Owner { return h.owner }

// Policy returns the re-enable policy flags of the hook.
func (h *Hook) Policy() Policy { return h.policy }

// NotifyID returns the notification bit delivered to the hook owner.
func (h *Hook) NotifyID() uint64 { return h.notifyID }

// Stats returns a snapshot of the hook's diagnostic counters.
func (h *Hook) Stats() HookStats {
	return HookStats{
		Invocations: atomic.LoadUint64(&h.invocations),
		Failures:    atomic.LoadUint64(&h.failures),
	}
}
