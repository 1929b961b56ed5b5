// Command clockos boots the kernel on the simulated platform and reports the
// system clock until it is interrupted or the configured run time elapses.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clockos/kernel/kmain"

	"github.com/fatih/color"
	hclog "github.com/hashicorp/go-hclog"
)

var (
	configPath = flag.String("config", "", "path to a YAML boot configuration")
	hz         = flag.Uint("hz", 0, "clock tick rate; overrides the configuration")
	runFor     = flag.Duration("run", 0, "stop after the given time; overrides the configuration")
	logLevel   = flag.String("log-level", "", "log level; overrides the configuration")

	tickColor = color.New(color.FgGreen, color.Bold)
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[clockos] error: %s\n", err.Error())
	os.Exit(1)
}

func loadConfig() (*kmain.Config, error) {
	cfg := kmain.DefaultConfig()
	if *configPath != "" {
		loaded, err := kmain.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *hz > math.MaxUint32 {
		return nil, fmt.Errorf("clock rate %d out of range", *hz)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "hz":
			cfg.HZ = uint32(*hz)
		case "run":
			cfg.RunFor = kmain.Duration(*runFor)
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func report(r kmain.Report) {
	fmt.Printf("%s ticks=%s uptime=%s\n",
		color.CyanString("[clock]"),
		tickColor.Sprintf("%d", r.Ticks),
		r.Uptime.Truncate(time.Millisecond),
	)
}

func main() {
	flag.Parse()
	if len(flag.Args()) != 0 {
		exit(errors.New("unexpected arguments"))
	}

	cfg, err := loadConfig()
	if err != nil {
		exit(err)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "clockos",
		Level:  cfg.Level(),
		Output: os.Stderr,
		Color:  hclog.AutoColor,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k := kmain.Kmain(ctx, cfg, logger, report)
	if k == nil {
		return
	}

	report(k.Report())
}
