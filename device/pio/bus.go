// Package pio implements the I/O port address space that simulated devices
// are attached to.
package pio

import (
	"sync"
	"sync/atomic"

	"clockos/device"
	"clockos/kernel"
	"clockos/kernel/cpu"

	hclog "github.com/hashicorp/go-hclog"
)

var (
	// ErrUnmappedPort is returned for writes to ports without a device.
	ErrUnmappedPort = &kernel.Error{Module: "pio", Message: "write to unmapped port"}

	// ErrPortInUse is returned by Map when the requested range overlaps
	// a range that is already mapped.
	ErrPortInUse = &kernel.Error{Module: "pio", Message: "port already mapped"}

	// ErrInvalidRange is returned by Map for empty ranges.
	ErrInvalidRange = &kernel.Error{Module: "pio", Message: "invalid port range"}
)

type mapping struct {
	first, last uint16
	dev         cpu.PortWriter
}

// Bus routes port writes to the device mapped at the target port.
type Bus struct {
	mu       sync.RWMutex
	mappings []mapping
	logger   hclog.Logger

	unmapped uint64
}

// NewBus returns a bus without any mapped devices.
func NewBus() *Bus {
	return &Bus{logger: hclog.NewNullLogger()}
}

// DriverName implements device.Driver.
func (b *Bus) DriverName() string {
	return "pio"
}

// DriverVersion implements device.Driver.
func (b *Bus) DriverVersion() (uint16, uint16, uint16) {
	return 1, 0, 0
}

// DriverInit implements device.Driver.
func (b *Bus) DriverInit(logger hclog.Logger) *kernel.Error {
	b.logger = logger
	return nil
}

// Map attaches dev to the ports first through last (inclusive).
func (b *Bus) Map(first, last uint16, dev cpu.PortWriter) *kernel.Error {
	if last < first || dev == nil {
		return ErrInvalidRange
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range b.mappings {
		if first <= m.last && m.first <= last {
			return ErrPortInUse
		}
	}

	b.mappings = append(b.mappings, mapping{first: first, last: last, dev: dev})
	b.logger.Debug("mapped ports", "first", hclog.Hex(int(first)), "last", hclog.Hex(int(last)))
	return nil
}

// PortWriteByte implements cpu.PortWriter.
func (b *Bus) PortWriteByte(port uint16, val uint8) error {
	b.mu.RLock()
	var dev cpu.PortWriter
	for _, m := range b.mappings {
		if m.first <= port && port <= m.last {
			dev = m.dev
			break
		}
	}
	b.mu.RUnlock()

	if dev == nil {
		atomic.AddUint64(&b.unmapped, 1)
		b.logger.Warn("write to unmapped port", "port", hclog.Hex(int(port)), "value", hclog.Hex(int(val)))
		return ErrUnmappedPort
	}

	b.logger.Trace("out", "port", hclog.Hex(int(port)), "value", hclog.Hex(int(val)))
	return dev.PortWriteByte(port, val)
}

// Unmapped returns the number of writes that targeted unmapped ports.
func (b *Bus) Unmapped() uint64 {
	return atomic.LoadUint64(&b.unmapped)
}

func probeForBus() device.Driver {
	return NewBus()
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForBus,
	})
}
