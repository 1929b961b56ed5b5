// Package pic simulates a cascaded pair of 8259 programmable interrupt
// controllers.
package pic

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"clockos/device"
	"clockos/kernel"
	"clockos/kernel/irq"

	hclog "github.com/hashicorp/go-hclog"
)

const (
	// MasterCommandPort receives OCW2 (end of interrupt) commands for
	// lines 0-7.
	MasterCommandPort = uint16(0x20)

	// MasterDataPort receives OCW1 (mask) commands for lines 0-7.
	MasterDataPort = uint16(0x21)

	// SlaveCommandPort receives OCW2 commands for lines 8-15.
	SlaveCommandPort = uint16(0xa0)

	// SlaveDataPort receives OCW1 commands for lines 8-15.
	SlaveDataPort = uint16(0xa1)

	// cmdEOI is a non-specific end of interrupt.
	cmdEOI = uint8(0x20)

	// cmdSpecificEOI is OR-ed with the line number for a specific end of
	// interrupt.
	cmdSpecificEOI = uint8(0x60)
)

var (
	// ErrUnsupportedCommand is returned for port writes the simulated
	// controller does not implement.
	ErrUnsupportedCommand = &kernel.Error{Module: "pic", Message: "unsupported command"}

	// ErrUnhandledPort is returned for writes to ports the controller
	// does not decode.
	ErrUnhandledPort = &kernel.Error{Module: "pic", Message: "unhandled port"}
)

// CPU delivers interrupts to the processor. Deliver runs isr in interrupt
// context.
type CPU interface {
	Deliver(isr func())
}

// Dispatcher services interrupts raised on a line.
type Dispatcher interface {
	Dispatch(irq.Line) irq.DispatchResult
}

// PIC tracks the mask, in-service and request registers of the controller
// pair. A line that is masked or already in service latches incoming
// requests until it is unmasked and acknowledged. A latched request is then
// delivered from a separate task, as the caller may be running in interrupt
// context itself.
type PIC struct {
	mu  sync.Mutex
	imr uint16
	isr uint16
	irr uint16

	cpu        CPU
	dispatcher Dispatcher
	logger     hclog.Logger

	delivered [irq.NumLines]uint64
	latched   uint64
}

// New returns a controller with all lines masked.
func New() *PIC {
	return &PIC{
		imr:    0xffff,
		logger: hclog.NewNullLogger(),
	}
}

// DriverName implements device.Driver.
func (p *PIC) DriverName() string {
	return "i8259"
}

// DriverVersion implements device.Driver.
func (p *PIC) DriverVersion() (uint16, uint16, uint16) {
	return 1, 0, 0
}

// DriverInit implements device.Driver.
func (p *PIC) DriverInit(logger hclog.Logger) *kernel.Error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger = logger
	p.imr, p.isr, p.irr = 0xffff, 0, 0
	return nil
}

// Connect sets the CPU interrupts are delivered to and the dispatcher that
// services them.
func (p *PIC) Connect(cpu CPU, dispatcher Dispatcher) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cpu = cpu
	p.dispatcher = dispatcher
}

// Raise signals an interrupt request on line. It returns true if the request
// was delivered to the CPU and false if it was latched because the line is
// masked or in service, or because no CPU is connected.
func (p *PIC) Raise(line irq.Line) bool {
	if !line.Valid() {
		return false
	}

	bit := uint16(1) << line

	p.mu.Lock()
	if p.imr&bit != 0 || p.isr&bit != 0 || p.cpu == nil {
		if p.irr&bit != 0 {
			p.latched++
		}
		p.irr |= bit
		p.mu.Unlock()
		return false
	}

	p.irr &^= bit
	p.isr |= bit
	cpu, dispatcher := p.cpu, p.dispatcher
	p.mu.Unlock()

	atomic.AddUint64(&p.delivered[line], 1)
	cpu.Deliver(func() { dispatcher.Dispatch(line) })
	return true
}

// takePendingLocked moves the lowest numbered latched request that can be
// delivered from IRR to ISR and returns a function that delivers it. It
// returns nil if no request is deliverable.
func (p *PIC) takePendingLocked() func() {
	ready := p.irr &^ p.imr &^ p.isr
	if ready == 0 || p.cpu == nil {
		return nil
	}

	line := irq.Line(bits.TrailingZeros16(ready))
	p.irr &^= uint16(1) << line
	p.isr |= uint16(1) << line

	cpu, dispatcher := p.cpu, p.dispatcher
	atomic.AddUint64(&p.delivered[line], 1)
	return func() {
		cpu.Deliver(func() { dispatcher.Dispatch(line) })
	}
}

// update applies fn to the registers and delivers any request that fn made
// deliverable.
func (p *PIC) update(fn func()) {
	p.mu.Lock()
	fn()
	deliver := p.takePendingLocked()
	p.mu.Unlock()

	if deliver != nil {
		go deliver()
	}
}

// MaskLine implements irq.LineController.
func (p *PIC) MaskLine(line irq.Line) {
	p.mu.Lock()
	p.imr |= uint16(1) << line
	p.mu.Unlock()
}

// UnmaskLine implements irq.LineController. A request latched while the
// line was masked is delivered once the line is unmasked.
func (p *PIC) UnmaskLine(line irq.Line) {
	p.update(func() { p.imr &^= uint16(1) << line })
}

// EndOfInterrupt implements irq.LineController. A request latched while the
// line was in service is delivered once it is acknowledged.
func (p *PIC) EndOfInterrupt(line irq.Line) {
	p.update(func() { p.isr &^= uint16(1) << line })
}

// Masked returns true if line is masked.
func (p *PIC) Masked(line irq.Line) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.imr&(uint16(1)<<line) != 0
}

// InService returns true if an interrupt on line awaits acknowledgement.
func (p *PIC) InService(line irq.Line) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isr&(uint16(1)<<line) != 0
}

// Pending returns true if a request on line was latched but not yet
// delivered.
func (p *PIC) Pending(line irq.Line) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irr&(uint16(1)<<line) != 0
}

// Delivered returns the number of interrupts delivered on line.
func (p *PIC) Delivered(line irq.Line) uint64 {
	if !line.Valid() {
		return 0
	}
	return atomic.LoadUint64(&p.delivered[line])
}

// Latched returns the number of requests that were merged into an already
// pending request.
func (p *PIC) Latched() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latched
}

// PortWriteByte implements the OCW1 (mask) and OCW2 (end of interrupt)
// commands of the controller pair.
func (p *PIC) PortWriteByte(port uint16, val uint8) error {
	var err error

	p.update(func() {
		switch port {
		case MasterDataPort:
			p.imr = p.imr&0xff00 | uint16(val)
		case SlaveDataPort:
			p.imr = p.imr&0x00ff | uint16(val)<<8
		case MasterCommandPort:
			err = p.eoiLocked(val, 0)
		case SlaveCommandPort:
			err = p.eoiLocked(val, 8)
		default:
			err = ErrUnhandledPort
		}
	})

	return err
}

// eoiLocked acknowledges an interrupt of the controller whose first line is
// base.
func (p *PIC) eoiLocked(cmd uint8, base uint) error {
	switch {
	case cmd == cmdEOI:
		// Non-specific EOI clears the highest priority (lowest
		// numbered) line in service.
		inService := (p.isr >> base) & 0xff
		for bit := uint(0); bit < 8; bit++ {
			if inService&(1<<bit) != 0 {
				p.isr &^= 1 << (base + bit)
				break
			}
		}
	case cmd&0xf8 == cmdSpecificEOI:
		p.isr &^= 1 << (base + uint(cmd&0x7))
	default:
		p.logger.Warn("unsupported command", "value", hclog.Hex(int(cmd)))
		return ErrUnsupportedCommand
	}

	return nil
}

func probeForPIC() device.Driver {
	return New()
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderInterruptController,
		Probe: probeForPIC,
	})
}
