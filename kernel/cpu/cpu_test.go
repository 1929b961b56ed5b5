package cpu

import (
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

type portWrite struct {
	port uint16
	val  uint8
}

func TestPortWriteByte(t *testing.T) {
	defer AttachPortBus(nil)

	t.Run("without bus", func(t *testing.T) {
		AttachPortBus(nil)
		if err := PortWriteByte(0x43, 0x36); err != ErrNoPortBus {
			t.Fatalf("expected error %v; got %v", ErrNoPortBus, err)
		}
	})

	t.Run("with bus", func(t *testing.T) {
		var writes []portWrite
		AttachPortBus(PortWriterFunc(func(port uint16, val uint8) error {
			writes = append(writes, portWrite{port, val})
			return nil
		}))

		if err := Ports().PortWriteByte(0x40, 0x9b); err != nil {
			t.Fatal(err)
		}

		if len(writes) != 1 || writes[0] != (portWrite{0x40, 0x9b}) {
			t.Fatalf("expected a single write of 0x9b to port 0x40; got %v", writes)
		}
	})

	t.Run("bus error", func(t *testing.T) {
		expErr := errors.New("bus fault")
		AttachPortBus(PortWriterFunc(func(uint16, uint8) error { return expErr }))

		if err := PortWriteByte(0x40, 0); err != expErr {
			t.Fatalf("expected error %v; got %v", expErr, err)
		}
	})
}

func TestHalt(t *testing.T) {
	defer func() { exitFn = os.Exit }()

	var exitCode = -1
	exitFn = func(code int) { exitCode = code }

	Halt()

	if exitCode != haltExitCode {
		t.Fatalf("expected Halt to exit with code %d; got %d", haltExitCode, exitCode)
	}
}

func TestGate(t *testing.T) {
	var (
		g         Gate
		delivered uint32
		done      = make(chan struct{})
	)

	if !g.InterruptsEnabled() {
		t.Fatal("expected interrupts to be enabled on a new gate")
	}

	g.DisableInterrupts()
	if g.InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled")
	}

	go func() {
		g.Deliver(func() { atomic.StoreUint32(&delivered, 1) })
		close(done)
	}()

	<-time.After(50 * time.Millisecond)
	if atomic.LoadUint32(&delivered) != 0 {
		t.Fatal("expected delivery to be held off while interrupts are disabled")
	}

	g.EnableInterrupts()
	<-done

	if atomic.LoadUint32(&delivered) != 1 {
		t.Fatal("expected pending interrupt to be delivered once interrupts were enabled")
	}
}

func TestLocalGate(t *testing.T) {
	DisableInterrupts()
	if LocalGate().InterruptsEnabled() {
		t.Fatal("expected DisableInterrupts to mask the local gate")
	}
	EnableInterrupts()
	if !LocalGate().InterruptsEnabled() {
		t.Fatal("expected EnableInterrupts to unmask the local gate")
	}
}
