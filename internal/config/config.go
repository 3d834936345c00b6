package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coreman2200/wordclock/internal/curve"
)

var ErrInvalid = errors.New("invalid config")

// Bus drivers.
const (
	DriverSim      = "sim"
	DriverTLC59116 = "tlc59116"
	DriverPCA9685  = "pca9685"
)

type Bus struct {
	Driver    string `yaml:"driver"`    // "sim" | "tlc59116" | "pca9685"
	I2CBus    string `yaml:"i2c_bus"`   // e.g. "1" or "/dev/i2c-1"; empty picks the first bus
	BaseAddr  uint16 `yaml:"base_addr"` // address of row 0; 0 uses the driver default
	SpacingMs int    `yaml:"spacing_ms"`
	Retries   int    `yaml:"retries"`
	BackoffMs int    `yaml:"backoff_ms"`
}

type Transition struct {
	Enabled       bool       `yaml:"enabled"`
	DurationMs    int        `yaml:"duration_ms"`
	FadeIn        curve.Kind `yaml:"fade_in"`
	FadeOut       curve.Kind `yaml:"fade_out"`
	Capacity      int        `yaml:"capacity"`
	TickMs        int        `yaml:"tick_ms"`
	IndicatorFast bool       `yaml:"indicator_fast"`
	LockTimeoutMs int        `yaml:"lock_timeout_ms"`
}

func (t Transition) Duration() time.Duration    { return time.Duration(t.DurationMs) * time.Millisecond }
func (t Transition) Tick() time.Duration        { return time.Duration(t.TickMs) * time.Millisecond }
func (t Transition) LockTimeout() time.Duration { return time.Duration(t.LockTimeoutMs) * time.Millisecond }

type Brightness struct {
	Individual int `yaml:"individual"`
	Global     int `yaml:"global"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Demo struct {
	IntervalMs int    `yaml:"interval_ms"`
	Script     string `yaml:"script,omitempty"` // optional Lua file
}

func (d Demo) Interval() time.Duration { return time.Duration(d.IntervalMs) * time.Millisecond }

type Config struct {
	LogLevel   string     `yaml:"log_level"`
	Bus        Bus        `yaml:"bus"`
	Transition Transition `yaml:"transition"`
	Brightness Brightness `yaml:"brightness"`
	HTTP       HTTP       `yaml:"http"`
	Demo       Demo       `yaml:"demo"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Bus: Bus{
			Driver:    DriverSim,
			SpacingMs: 1,
			Retries:   3,
			BackoffMs: 2,
		},
		Transition: Transition{
			Enabled:       true,
			DurationMs:    1500,
			FadeIn:        curve.EaseIn,
			FadeOut:       curve.EaseOut,
			Capacity:      32,
			TickMs:        50,
			IndicatorFast: true,
			LockTimeoutMs: 1000,
		},
		Brightness: Brightness{Individual: 32, Global: 120},
		HTTP:       HTTP{Addr: ":8080"},
		Demo:       Demo{IntervalMs: 10000},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func inRange(errs []error, name string, v, lo, hi int) []error {
	if v < lo || v > hi {
		errs = append(errs, fmt.Errorf("%w: %s=%d not in [%d, %d]", ErrInvalid, name, v, lo, hi))
	}
	return errs
}

// Validate reports every out-of-range field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel))
	}
	switch c.Bus.Driver {
	case DriverSim, DriverTLC59116, DriverPCA9685:
	default:
		errs = append(errs, fmt.Errorf("%w: bus.driver %q", ErrInvalid, c.Bus.Driver))
	}
	errs = inRange(errs, "bus.spacing_ms", c.Bus.SpacingMs, 0, 100)
	errs = inRange(errs, "bus.retries", c.Bus.Retries, 0, 10)
	errs = inRange(errs, "bus.backoff_ms", c.Bus.BackoffMs, 0, 1000)
	errs = inRange(errs, "transition.duration_ms", c.Transition.DurationMs, 200, 5000)
	errs = inRange(errs, "transition.capacity", c.Transition.Capacity, 0, 160)
	errs = inRange(errs, "transition.tick_ms", c.Transition.TickMs, 10, 1000)
	errs = inRange(errs, "transition.lock_timeout_ms", c.Transition.LockTimeoutMs, 1, 10000)
	errs = inRange(errs, "brightness.individual", c.Brightness.Individual, 5, 255)
	errs = inRange(errs, "brightness.global", c.Brightness.Global, 5, 255)
	errs = inRange(errs, "demo.interval_ms", c.Demo.IntervalMs, 100, 3600000)
	return errors.Join(errs...)
}
