// Package timer programs channel 0 of the 8254 programmable interval timer
// which drives the system clock interrupt.
package timer

import (
	"clockos/kernel"
	"clockos/kernel/cpu"
)

const (
	// BaseFrequency is the input clock of the interval timer in Hz.
	BaseFrequency = 1193182

	// ModePort is the command port of the interval timer.
	ModePort = uint16(0x43)

	// Channel0Port is the data port of timer channel 0.
	Channel0Port = uint16(0x40)

	// SquareWave selects channel 0, low/high byte access and mode 3
	// (square wave generator) in binary counting.
	SquareWave = uint8(0x36)
)

var (
	// ErrInvalidFrequency is returned when the requested frequency cannot
	// be produced by a 16-bit divisor.
	ErrInvalidFrequency = &kernel.Error{Module: "timer", Message: "frequency out of range"}

	// ErrHardware is returned when the timer ports cannot be written.
	ErrHardware = &kernel.Error{Module: "timer", Message: "port write failed"}
)

// Divisor returns the reload value that makes the timer fire at hz. It
// returns ErrInvalidFrequency if hz is zero or the divisor does not fit in
// the 16-bit counter.
func Divisor(hz uint32) (uint32, *kernel.Error) {
	if hz == 0 {
		return 0, ErrInvalidFrequency
	}

	divisor := BaseFrequency / hz
	if divisor == 0 || divisor > 0xffff {
		return 0, ErrInvalidFrequency
	}

	return divisor, nil
}

// Configure programs channel 0 to generate a square wave at hz. It writes the
// mode command followed by the low and high bytes of the divisor. It may be
// called again to change the rate; the counter restarts from the new divisor.
func Configure(w cpu.PortWriter, hz uint32) *kernel.Error {
	divisor, err := Divisor(hz)
	if err != nil {
		return err
	}

	count := uint16(divisor)

	seq := [...]struct {
		port uint16
		val  uint8
	}{
		{ModePort, SquareWave},
		{Channel0Port, uint8(count)},
		{Channel0Port, uint8(count >> 8)},
	}

	for _, out := range seq {
		if werr := w.PortWriteByte(out.port, out.val); werr != nil {
			return ErrHardware.Wrap(werr)
		}
	}

	return nil
}
