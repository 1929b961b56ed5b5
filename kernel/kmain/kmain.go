// Package kmain boots the kernel: it detects the platform devices, creates
// the interrupt hook table and starts the system clock.
package kmain

import (
	"context"
	"time"

	"clockos/kernel"
	"clockos/kernel/clock"
	"clockos/kernel/cpu"
	"clockos/kernel/hal"
	"clockos/kernel/irq"
	"clockos/kernel/proc"

	hclog "github.com/hashicorp/go-hclog"
)

var (
	// panicFn is mocked by tests.
	panicFn = kernel.Panic
)

// Report is a snapshot of the clock state passed to report callbacks.
type Report struct {
	Ticks  uint64
	Uptime time.Duration
}

// Kernel holds the subsystems started by Boot.
type Kernel struct {
	// Table is the interrupt hook table.
	Table *irq.Table

	// Clock is the system clock.
	Clock *clock.Clock

	// Mailbox receives notifications for hooks owned by processes.
	Mailbox *proc.Mailbox

	cfg    *Config
	logger hclog.Logger
}

// Boot detects the hardware, creates the interrupt hook table and starts the
// clock. Any error returned by Boot is unrecoverable.
func Boot(cfg *Config, logger hclog.Logger) (*Kernel, *kernel.Error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := hal.DetectHardware(logger.Named("hal")); err != nil {
		return nil, err
	}

	mailbox := proc.NewMailbox()
	table := irq.NewTable(
		irq.WithGate(cpu.LocalGate()),
		irq.WithLineController(hal.InterruptController()),
		irq.WithNotifier(mailbox),
		irq.WithLogger(logger.Named("irq")),
		irq.WithLazyMask(cfg.LazyMask),
	)

	if err := hal.ConnectInterrupts(cpu.LocalGate(), table); err != nil {
		hal.Shutdown()
		return nil, err
	}

	clk := clock.New(clock.WithRate(cfg.HZ), clock.WithLogger(logger.Named("clock")))
	if err := clk.Init(cpu.Ports(), table); err != nil {
		hal.Shutdown()
		return nil, err
	}

	return &Kernel{
		Table:   table,
		Clock:   clk,
		Mailbox: mailbox,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run blocks until ctx is done or the configured run time elapses. While
// running, report is invoked at the configured interval if not nil.
func (k *Kernel) Run(ctx context.Context, report func(Report)) {
	if k.cfg.RunFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(k.cfg.RunFor))
		defer cancel()
	}

	var reports <-chan time.Time
	if report != nil && k.cfg.ReportEvery > 0 {
		ticker := time.NewTicker(time.Duration(k.cfg.ReportEvery))
		defer ticker.Stop()
		reports = ticker.C
	}

	for {
		select {
		case <-reports:
			report(k.Report())
		case <-ctx.Done():
			return
		}
	}
}

// Report returns the current clock state.
func (k *Kernel) Report() Report {
	return Report{Ticks: k.Clock.Ticks(), Uptime: k.Clock.Uptime()}
}

// Shutdown detaches the clock and stops the platform devices.
func (k *Kernel) Shutdown() {
	k.Table.Unregister(k.Clock.Hook())
	hal.Shutdown()
	k.logger.Info("kernel stopped", "ticks", k.Clock.Ticks())
}

// Kmain boots the kernel and runs it until ctx is done. Boot errors are
// unrecoverable and cause a kernel panic. The stopped kernel is returned so
// that callers can inspect its final state.
func Kmain(ctx context.Context, cfg *Config, logger hclog.Logger, report func(Report)) *Kernel {
	k, err := Boot(cfg, logger)
	if err != nil {
		panicFn(err)
		return nil
	}

	logger.Info("kernel started", "hz", k.Clock.Rate(), "hook", k.Clock.Hook())
	k.Run(ctx, report)
	k.Shutdown()
	return k
}
