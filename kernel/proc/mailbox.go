// Package proc delivers interrupt notifications to the processes that own
// interrupt hooks.
package proc

import (
	"context"
	"sync/atomic"

	"clockos/kernel"
	"clockos/kernel/irq"
)

// MaxSlots is the number of processes a Mailbox can hold notifications for.
const MaxSlots = 32

var (
	// ErrNoSlots is returned by Bind when all mailbox slots are taken.
	ErrNoSlots = &kernel.Error{Module: "proc", Message: "no free notification slots"}

	// ErrNotBound is returned when a process without a slot tries to
	// receive notifications.
	ErrNotBound = &kernel.Error{Module: "proc", Message: "process not bound to mailbox"}

	// ErrInvalidOwner is returned by Bind for irq.NoOwner.
	ErrInvalidOwner = &kernel.Error{Module: "proc", Message: "invalid owner"}
)

type slot struct {
	owner   irq.Owner
	pending uint64
	wakeup  chan struct{}
}

// Mailbox keeps a bitmap of pending notification IDs per process. Notify is
// safe to call in interrupt context; it never blocks or allocates.
type Mailbox struct {
	slots   [MaxSlots]slot
	bound   int32
	dropped uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Bind reserves a slot for owner. Binding an already bound owner is a no-op.
// Bind must be called before the owner registers any hook and is not safe
// to call concurrently with itself.
func (m *Mailbox) Bind(owner irq.Owner) *kernel.Error {
	if owner == irq.NoOwner {
		return ErrInvalidOwner
	}

	bound := int(atomic.LoadInt32(&m.bound))
	if m.find(owner) != nil {
		return nil
	}

	if bound == MaxSlots {
		return ErrNoSlots
	}

	m.slots[bound] = slot{owner: owner, wakeup: make(chan struct{}, 1)}
	atomic.StoreInt32(&m.bound, int32(bound+1))
	return nil
}

func (m *Mailbox) find(owner irq.Owner) *slot {
	bound := int(atomic.LoadInt32(&m.bound))
	for i := 0; i < bound; i++ {
		if m.slots[i].owner == owner {
			return &m.slots[i]
		}
	}
	return nil
}

// Notify implements irq.Notifier. Notifications for owners without a slot
// are counted and dropped.
func (m *Mailbox) Notify(owner irq.Owner, notifyID uint64) {
	s := m.find(owner)
	if s == nil {
		atomic.AddUint64(&m.dropped, 1)
		return
	}

	for {
		old := atomic.LoadUint64(&s.pending)
		if atomic.CompareAndSwapUint64(&s.pending, old, old|notifyID) {
			break
		}
	}

	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Pending returns and clears the notification IDs pending for owner.
func (m *Mailbox) Pending(owner irq.Owner) (uint64, *kernel.Error) {
	s := m.find(owner)
	if s == nil {
		return 0, ErrNotBound
	}
	return atomic.SwapUint64(&s.pending, 0), nil
}

// Wait blocks until a notification is pending for owner or ctx is done. It
// returns and clears the pending notification IDs.
func (m *Mailbox) Wait(ctx context.Context, owner irq.Owner) (uint64, error) {
	s := m.find(owner)
	if s == nil {
		return 0, ErrNotBound
	}

	for {
		if pending := atomic.SwapUint64(&s.pending, 0); pending != 0 {
			return pending, nil
		}

		select {
		case <-s.wakeup:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Dropped returns the number of notifications sent to unbound owners.
func (m *Mailbox) Dropped() uint64 {
	return atomic.LoadUint64(&m.dropped)
}
