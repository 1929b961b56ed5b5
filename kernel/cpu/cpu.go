// Package cpu exposes the processor capabilities used by the kernel core:
// interrupt masking, port I/O and halting. On a hosted platform these are
// backed by an interrupt gate and an attachable port bus instead of the
// corresponding instructions.
package cpu

import (
	"errors"
	"os"
)

// haltExitCode is the process exit status used when the hosted CPU halts.
const haltExitCode = 3

var (
	// ErrNoPortBus is returned by the port I/O functions when no port bus
	// has been attached.
	ErrNoPortBus = errors.New("no port bus attached")

	// exitFn is mocked by tests.
	exitFn = os.Exit

	portBus PortWriter

	localGate Gate
)

// PortWriter is implemented by anything that can service byte writes to the
// I/O port address space.
type PortWriter interface {
	PortWriteByte(port uint16, val uint8) error
}

// PortWriterFunc adapts a function to the PortWriter interface.
type PortWriterFunc func(port uint16, val uint8) error

// PortWriteByte implements PortWriter.
func (f PortWriterFunc) PortWriteByte(port uint16, val uint8) error {
	return f(port, val)
}

// AttachPortBus routes all subsequent port writes to w. Passing nil detaches
// the current bus.
func AttachPortBus(w PortWriter) {
	portBus = w
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8) error {
	if portBus == nil {
		return ErrNoPortBus
	}
	return portBus.PortWriteByte(port, val)
}

// Ports returns a PortWriter that forwards writes to the attached port bus.
func Ports() PortWriter {
	return PortWriterFunc(PortWriteByte)
}

// EnableInterrupts enables interrupt delivery on the local CPU.
func EnableInterrupts() {
	localGate.EnableInterrupts()
}

// DisableInterrupts disables interrupt delivery on the local CPU.
func DisableInterrupts() {
	localGate.DisableInterrupts()
}

// LocalGate returns the interrupt gate of the local CPU.
func LocalGate() *Gate {
	return &localGate
}

// Halt stops instruction execution. On a hosted platform this terminates
// the process.
func Halt() {
	exitFn(haltExitCode)
}
