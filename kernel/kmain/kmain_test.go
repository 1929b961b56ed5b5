package kmain

import (
	"context"
	"errors"
	"testing"
	"time"

	"clockos/kernel"
	"clockos/kernel/cpu"
	"clockos/kernel/driver/timer"
	"clockos/kernel/hal"
	"clockos/kernel/irq"

	hclog "github.com/hashicorp/go-hclog"
)

func testConfig(hz uint32, runFor time.Duration) *Config {
	cfg := DefaultConfig()
	cfg.HZ = hz
	cfg.RunFor = Duration(runFor)
	cfg.ReportEvery = Duration(20 * time.Millisecond)
	return cfg
}

func TestBoot(t *testing.T) {
	k, err := Boot(testConfig(1000, 0), hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer k.Shutdown()

	if got := k.Table.ChainLen(irq.TimerLine); got != 1 {
		t.Fatalf("expected the clock to be the only hook on the timer line; got %d hooks", got)
	}

	if hal.InterruptController().Masked(irq.TimerLine) {
		t.Fatal("expected the timer line to be unmasked after boot")
	}

	expPeriod := time.Duration(uint64(time.Second) * 1193 / timer.BaseFrequency)
	if got := hal.Timer().Period(); got != expPeriod {
		t.Fatalf("expected the timer to be programmed with period %v; got %v", expPeriod, got)
	}

	if cpu.Ports() == nil {
		t.Fatal("expected boot to attach the port bus to the cpu")
	}
}

func TestBootErrors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(0, 0)
		if _, err := Boot(cfg, hclog.NewNullLogger()); err != timer.ErrInvalidFrequency {
			t.Fatalf("expected to get ErrInvalidFrequency; got %v", err)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := testConfig(60, 0)
		cfg.LogLevel = "chatty"
		if _, err := Boot(cfg, hclog.NewNullLogger()); err != ErrInvalidLogLevel {
			t.Fatalf("expected to get ErrInvalidLogLevel; got %v", err)
		}
	})
}

func TestRun(t *testing.T) {
	k, err := Boot(testConfig(1000, 200*time.Millisecond), hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}

	ctrl := hal.InterruptController()

	var reports []Report
	k.Run(context.Background(), func(r Report) {
		reports = append(reports, r)
	})
	k.Shutdown()

	ticks := k.Clock.Ticks()
	if ticks == 0 {
		t.Fatal("expected the clock to tick while the kernel was running")
	}

	if delivered := ctrl.Delivered(irq.TimerLine); ticks > delivered {
		t.Fatalf("expected at most one tick per delivered interrupt; got %d ticks for %d interrupts", ticks, delivered)
	}

	if len(reports) == 0 {
		t.Fatal("expected at least one report while the kernel was running")
	}

	for i := 1; i < len(reports); i++ {
		if reports[i].Ticks < reports[i-1].Ticks {
			t.Fatalf("expected reported tick counts to be monotonic; got %d after %d", reports[i].Ticks, reports[i-1].Ticks)
		}
	}

	if got := k.Table.ChainLen(irq.TimerLine); got != 0 {
		t.Fatalf("expected shutdown to remove the clock hook; got %d hooks", got)
	}

	// The clock no longer receives interrupts once shut down.
	time.Sleep(10 * time.Millisecond)
	if got := k.Clock.Ticks(); got != ticks {
		t.Fatalf("expected tick count to stay at %d after shutdown; got %d", ticks, got)
	}
}

func TestRunCancel(t *testing.T) {
	k, err := Boot(testConfig(60, 0), hclog.NewNullLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer k.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx, nil)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after the context was cancelled")
	}
}

func TestKmain(t *testing.T) {
	defer func() {
		panicFn = kernel.Panic
	}()

	t.Run("boot error", func(t *testing.T) {
		var panicked error
		panicFn = func(e interface{}) {
			panicked = e.(error)
		}

		if k := Kmain(context.Background(), testConfig(0, 0), hclog.NewNullLogger(), nil); k != nil {
			t.Fatal("expected Kmain to return a nil kernel when boot fails")
		}

		if !errors.Is(panicked, timer.ErrInvalidFrequency) {
			t.Fatalf("expected kernel panic with ErrInvalidFrequency; got %v", panicked)
		}
	})

	t.Run("success", func(t *testing.T) {
		panicFn = func(e interface{}) {
			t.Fatalf("unexpected kernel panic: %v", e)
		}

		k := Kmain(context.Background(), testConfig(500, 50*time.Millisecond), hclog.NewNullLogger(), nil)
		if k == nil {
			t.Fatal("expected Kmain to return the stopped kernel")
		}

		if hal.Timer() != nil {
			t.Fatal("expected Kmain to shut down the platform devices")
		}
	})
}
