package kernel

import (
	"io"
	"os"

	"clockos/kernel/cpu"

	"github.com/fatih/color"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	// panicSink receives the panic banner.
	panicSink io.Writer = os.Stderr

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}

	bannerColor = color.New(color.FgRed, color.Bold)
)

// SetPanicSink sets the writer that Panic reports to.
func SetPanicSink(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	panicSink = w
}

// Panic outputs the supplied error (if not nil) to the panic sink and halts
// the CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	bannerColor.Fprintf(panicSink, "\n-----------------------------------\n")
	if err != nil {
		bannerColor.Fprintf(panicSink, "[%s] unrecoverable error: %s\n", err.Module, err.Error())
	}
	bannerColor.Fprintf(panicSink, "*** kernel panic: system halted ***")
	bannerColor.Fprintf(panicSink, "\n-----------------------------------\n")

	cpuHaltFn()
}

func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
