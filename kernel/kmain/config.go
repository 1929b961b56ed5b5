package kmain

import (
	"io/ioutil"
	"time"

	"clockos/kernel"
	"clockos/kernel/clock"
	"clockos/kernel/driver/timer"

	hclog "github.com/hashicorp/go-hclog"
	yaml "gopkg.in/yaml.v2"
)

var (
	// ErrInvalidConfig is returned when the boot configuration cannot be
	// parsed.
	ErrInvalidConfig = &kernel.Error{Module: "kmain", Message: "invalid boot configuration"}

	// ErrInvalidLogLevel is returned for unknown log levels.
	ErrInvalidLogLevel = &kernel.Error{Module: "kmain", Message: "invalid log level"}

	// ErrInvalidDuration is returned for negative durations.
	ErrInvalidDuration = &kernel.Error{Module: "kmain", Message: "invalid duration"}
)

// Duration is a time.Duration that is read from YAML as a Go duration string
// such as "1500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}

// Config is the boot configuration of the kernel.
type Config struct {
	// HZ is the clock tick rate.
	HZ uint32 `yaml:"hz"`

	// RunFor stops the kernel after the given time. Zero runs until the
	// kernel is interrupted.
	RunFor Duration `yaml:"run_for"`

	// ReportEvery sets how often the tick count is reported while the
	// kernel runs. Zero disables reports.
	ReportEvery Duration `yaml:"report_every"`

	// LogLevel is one of trace, debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LazyMask leaves lines unmasked when their last hook is removed.
	LazyMask bool `yaml:"lazy_mask"`
}

// DefaultConfig returns the configuration used for settings missing from a
// configuration file.
func DefaultConfig() *Config {
	return &Config{
		HZ:          clock.HZ,
		ReportEvery: Duration(time.Second),
		LogLevel:    "info",
	}
}

// ParseConfig decodes a YAML boot configuration on top of the defaults and
// validates it.
func ParseConfig(data []byte) (*Config, *kernel.Error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, ErrInvalidConfig.Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfig reads and parses the boot configuration at path.
func LoadConfig(path string) (*Config, *kernel.Error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidConfig.Wrap(err)
	}

	return ParseConfig(data)
}

// Validate checks that the configuration can be used to boot the kernel.
func (c *Config) Validate() *kernel.Error {
	if _, err := timer.Divisor(c.HZ); err != nil {
		return err
	}

	if c.Level() == hclog.NoLevel {
		return ErrInvalidLogLevel
	}

	if c.RunFor < 0 || c.ReportEvery < 0 {
		return ErrInvalidDuration
	}

	return nil
}

// Level returns the configured log level.
func (c *Config) Level() hclog.Level {
	return hclog.LevelFromString(c.LogLevel)
}
