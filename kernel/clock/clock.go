// Package clock implements the system clock task. The clock programs the
// interval timer and counts the timer interrupts delivered to it.
package clock

import (
	"sync/atomic"
	"time"

	"clockos/kernel"
	"clockos/kernel/cpu"
	"clockos/kernel/driver/timer"
	"clockos/kernel/irq"

	hclog "github.com/hashicorp/go-hclog"
)

// HZ is the default clock tick rate.
const HZ = 60

// State describes the lifecycle of the clock.
type State uint32

const (
	// StateUninitialized is the state of a clock that has not been
	// started yet.
	StateUninitialized State = iota

	// StateRunning is the state of a clock whose interrupt hook is
	// registered and whose timer is programmed.
	StateRunning
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "uninitialized"
}

var (
	// ErrAlreadyRunning is returned by Init when the clock was already
	// started.
	ErrAlreadyRunning = &kernel.Error{Module: "clock", Message: "clock already running"}

	// configureTimerFn is mocked by tests.
	configureTimerFn = timer.Configure
)

// Registrar is implemented by interrupt tables the clock can attach to.
type Registrar interface {
	Register(irq.Line, irq.Handler, irq.Owner, irq.Policy) (irq.HookID, *kernel.Error)
}

// Clock counts timer interrupts.
type Clock struct {
	ticks uint64
	state uint32

	hz     uint32
	hook   irq.HookID
	logger hclog.Logger
}

// Option customises a Clock.
type Option func(*Clock)

// WithRate sets the tick rate the timer gets programmed with.
func WithRate(hz uint32) Option {
	return func(c *Clock) {
		if hz != 0 {
			c.hz = hz
		}
	}
}

// WithLogger sets the clock logger.
func WithLogger(logger hclog.Logger) Option {
	return func(c *Clock) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns an uninitialized clock.
func New(opts ...Option) *Clock {
	c := &Clock{
		hz:     HZ,
		logger: hclog.NewNullLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Init programs the interval timer through ports and attaches the clock to
// the timer line of table. A clock can only be initialized once; failures
// leave it uninitialized so Init can be retried.
func (c *Clock) Init(ports cpu.PortWriter, table Registrar) *kernel.Error {
	if c.State() == StateRunning {
		return ErrAlreadyRunning
	}

	if err := configureTimerFn(ports, c.hz); err != nil {
		return err
	}

	id, err := table.Register(irq.TimerLine, c, irq.NoOwner, irq.PolicyAutoReenable)
	if err != nil {
		return err
	}

	c.hook = id
	atomic.StoreUint32(&c.state, uint32(StateRunning))
	c.logger.Info("clock running", "hz", c.hz, "hook", id)

	return nil
}

// HandleIRQ implements irq.Handler. It runs on every timer interrupt.
func (c *Clock) HandleIRQ(*irq.Hook) irq.Status {
	atomic.AddUint64(&c.ticks, 1)
	return irq.Continue
}

// Ticks returns the number of timer interrupts received since the clock was
// started. It can be called from any context.
func (c *Clock) Ticks() uint64 {
	return atomic.LoadUint64(&c.ticks)
}

// Uptime converts the current tick count to elapsed time.
func (c *Clock) Uptime() time.Duration {
	ticks := c.Ticks()
	hz := uint64(c.hz)
	return time.Duration(ticks/hz)*time.Second + time.Duration(ticks%hz)*time.Second/time.Duration(hz)
}

// Rate returns the tick rate in Hz.
func (c *Clock) Rate() uint32 {
	return c.hz
}

// State returns the clock state.
func (c *Clock) State() State {
	return State(atomic.LoadUint32(&c.state))
}

// Hook returns the ID of the clock's interrupt hook or irq.NoHook if the
// clock is not running.
func (c *Clock) Hook() irq.HookID {
	return c.hook
}
