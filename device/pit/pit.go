// Package pit simulates channel 0 of the 8254 programmable interval timer.
// Once programmed, the channel raises the timer interrupt line on the host
// clock at the programmed rate.
package pit

import (
	"sync"
	"sync/atomic"
	"time"

	"clockos/device"
	"clockos/kernel"
	"clockos/kernel/irq"

	hclog "github.com/hashicorp/go-hclog"
)

const (
	channel0Port = uint16(0x40)
	channel1Port = uint16(0x41)
	channel2Port = uint16(0x42)
	controlPort  = uint16(0x43)

	inputFrequency = 1193182

	accessLatch  = 0
	accessLoHi   = 3
	modeRateGen  = 2
	modeSquare   = 3
	channelCount = 3
)

var (
	// ErrUnhandledPort is returned for writes to ports the timer does
	// not decode.
	ErrUnhandledPort = &kernel.Error{Module: "pit", Message: "unhandled port"}

	// ErrUnsupportedAccess is returned when a channel is programmed with
	// an access mode other than low byte followed by high byte.
	ErrUnsupportedAccess = &kernel.Error{Module: "pit", Message: "unsupported access mode"}

	// ErrUnsupportedMode is returned when channel 0 is programmed with a
	// non-periodic mode.
	ErrUnsupportedMode = &kernel.Error{Module: "pit", Message: "unsupported counter mode"}

	// ErrCountNotExpected is returned when a count byte is written to a
	// channel that has not been sent a control word.
	ErrCountNotExpected = &kernel.Error{Module: "pit", Message: "count written before control word"}
)

// IRQRaiser signals interrupt requests.
type IRQRaiser interface {
	Raise(irq.Line) bool
}

// TimerHandle controls a periodic host timer.
type TimerHandle interface {
	Stop()
}

type tickerHandle struct {
	ticker *time.Ticker
	done   chan struct{}
}

func (h *tickerHandle) Stop() {
	h.ticker.Stop()
	close(h.done)
}

func defaultTimerFactory(period time.Duration, fn func()) TimerHandle {
	h := &tickerHandle{ticker: time.NewTicker(period), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-h.ticker.C:
				fn()
			case <-h.done:
				return
			}
		}
	}()
	return h
}

type channel struct {
	mode      uint8
	access    uint8
	expectLSB bool
	lsb       uint8
	count     uint32
	armed     bool
}

// PIT is a simulated interval timer.
type PIT struct {
	mu       sync.Mutex
	channels [channelCount]channel
	timer    TimerHandle
	irq      IRQRaiser
	logger   hclog.Logger

	timerFactory func(time.Duration, func()) TimerHandle

	fired uint64
}

// Option customises a PIT.
type Option func(*PIT)

// WithTimerFactory replaces the host timer used to generate ticks.
func WithTimerFactory(factory func(time.Duration, func()) TimerHandle) Option {
	return func(p *PIT) {
		if factory != nil {
			p.timerFactory = factory
		}
	}
}

// New returns an unprogrammed timer.
func New(opts ...Option) *PIT {
	p := &PIT{
		logger:       hclog.NewNullLogger(),
		timerFactory: defaultTimerFactory,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// DriverName implements device.Driver.
func (p *PIT) DriverName() string {
	return "i8254"
}

// DriverVersion implements device.Driver.
func (p *PIT) DriverVersion() (uint16, uint16, uint16) {
	return 1, 0, 0
}

// DriverInit implements device.Driver.
func (p *PIT) DriverInit(logger hclog.Logger) *kernel.Error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger = logger
	p.stopLocked()
	p.channels = [channelCount]channel{}
	return nil
}

// Connect sets the interrupt controller the timer raises its line on. It
// takes effect the next time the timer is programmed.
func (p *PIT) Connect(raiser IRQRaiser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.irq = raiser
}

// PortWriteByte implements the control word and counter registers.
func (p *PIT) PortWriteByte(port uint16, val uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch port {
	case controlPort:
		return p.writeControlLocked(val)
	case channel0Port, channel1Port, channel2Port:
		return p.writeCountLocked(int(port-channel0Port), val)
	default:
		return ErrUnhandledPort
	}
}

func (p *PIT) writeControlLocked(val uint8) error {
	index := int(val >> 6)
	if index >= channelCount {
		// Read-back commands only affect status latches.
		return nil
	}

	access := (val >> 4) & 0x3
	if access == accessLatch {
		return nil
	}

	if access != accessLoHi {
		return ErrUnsupportedAccess
	}

	mode := (val >> 1) & 0x7
	if mode > 5 {
		// Modes 6 and 7 alias modes 2 and 3.
		mode -= 4
	}

	if index == 0 && mode != modeRateGen && mode != modeSquare {
		return ErrUnsupportedMode
	}

	// Writing a control word halts the channel until a new count is
	// loaded.
	if index == 0 {
		p.stopLocked()
	}

	p.channels[index] = channel{mode: mode, access: access, expectLSB: true}
	p.logger.Debug("control word", "channel", index, "mode", mode)
	return nil
}

func (p *PIT) writeCountLocked(index int, val uint8) error {
	ch := &p.channels[index]
	if ch.access != accessLoHi {
		return ErrCountNotExpected
	}

	if ch.expectLSB {
		ch.lsb = val
		ch.expectLSB = false
		return nil
	}

	ch.expectLSB = true
	ch.count = uint32(val)<<8 | uint32(ch.lsb)
	if ch.count == 0 {
		ch.count = 1 << 16
	}
	ch.armed = true

	if index == 0 {
		p.armLocked(ch.count)
	}
	return nil
}

func (p *PIT) armLocked(count uint32) {
	p.stopLocked()

	period := time.Duration(uint64(count) * uint64(time.Second) / inputFrequency)
	raiser := p.irq
	p.timer = p.timerFactory(period, func() { p.fire(raiser) })
	p.logger.Debug("timer armed", "count", count, "period", period)
}

func (p *PIT) fire(raiser IRQRaiser) {
	atomic.AddUint64(&p.fired, 1)
	if raiser != nil {
		raiser.Raise(irq.TimerLine)
	}
}

func (p *PIT) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Stop halts channel 0.
func (p *PIT) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
}

// Count returns the reload value of channel 0 or 0 if it is not programmed.
func (p *PIT) Count() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.channels[0].armed {
		return 0
	}
	return p.channels[0].count
}

// Mode returns the counter mode of channel 0.
func (p *PIT) Mode() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channels[0].mode
}

// Period returns the interval between two timer interrupts or 0 if channel
// 0 is not running.
func (p *PIT) Period() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer == nil {
		return 0
	}
	return time.Duration(uint64(p.channels[0].count) * uint64(time.Second) / inputFrequency)
}

// Fired returns the number of times channel 0 reached terminal count.
func (p *PIT) Fired() uint64 {
	return atomic.LoadUint64(&p.fired)
}

func probeForPIT() device.Driver {
	return New()
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderTimer,
		Probe: probeForPIT,
	})
}
