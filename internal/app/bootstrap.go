// Package app wires the clock together: config, LED bus, differential writer,
// transition engine, scheduler loop, demo driver and the health watch.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/coreman2200/wordclock/internal/brightness"
	"github.com/coreman2200/wordclock/internal/config"
	"github.com/coreman2200/wordclock/internal/demo"
	diag "github.com/coreman2200/wordclock/internal/diagnostics"
	"github.com/coreman2200/wordclock/internal/guard"
	"github.com/coreman2200/wordclock/internal/led"
	"github.com/coreman2200/wordclock/internal/transition"
)

// WatchInterval is how often the engine stats are checked for trouble.
const WatchInterval = time.Second

// openI2C is replaced in tests.
var openI2C = func(name string) (i2c.BusCloser, error) { return i2creg.Open(name) }

// Backend is an opened LED bus. Port is nil for the simulator.
type Backend struct {
	Bus    led.Bus
	Port   i2c.BusCloser
	Driver string
}

// OpenBus opens the configured backend. host.Init must have run for the
// hardware drivers to find an I2C bus.
func OpenBus(cfg config.Bus, global uint8) (Backend, error) {
	switch cfg.Driver {
	case config.DriverSim, "":
		return Backend{Bus: led.NewSimBus(), Driver: config.DriverSim}, nil
	case config.DriverTLC59116, config.DriverPCA9685:
	default:
		return Backend{}, fmt.Errorf("%w: bus driver %q", config.ErrInvalid, cfg.Driver)
	}

	port, err := openI2C(cfg.I2CBus)
	if err != nil {
		return Backend{}, fmt.Errorf("open i2c %q: %w", cfg.I2CBus, err)
	}
	var bus led.Bus
	if cfg.Driver == config.DriverTLC59116 {
		base := cfg.BaseAddr
		if base == 0 {
			base = led.TLC59116BaseAddr
		}
		bus, err = led.NewTLC59116(port, base, global)
	} else {
		base := cfg.BaseAddr
		if base == 0 {
			base = led.PCA9685BaseAddr
		}
		bus, err = led.NewPCA9685(port, base, global)
	}
	if err != nil {
		port.Close()
		return Backend{}, err
	}
	return Backend{Bus: bus, Port: port, Driver: cfg.Driver}, nil
}

type Core struct {
	Cfg       *config.Config
	BusDriver string
	Writer    *led.Writer
	Bright    *brightness.State
	Net       *guard.Connectivity
	Engine    *transition.Engine
	Demo      *demo.Driver
	Diag      *diag.Log

	port   i2c.BusCloser
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// InitCore builds every component from cfg and starts the scheduler and the
// health watch. A hardware bus that cannot be opened falls back to the
// simulator with a diagnostic.
func InitCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Core{
		Cfg:    cfg,
		Bright: brightness.New(brightness.Levels{Individual: brightness.Clamp(cfg.Brightness.Individual), Global: brightness.Clamp(cfg.Brightness.Global)}),
		Net:    guard.NewConnectivity(),
		Diag:   diag.NewLog(256),
	}

	be, err := OpenBus(cfg.Bus, c.Bright.Global())
	if err != nil {
		log.Warn().Err(err).Str("driver", cfg.Bus.Driver).Msg("bus init failed; falling back to SIM")
		c.Diag.Add(diag.Diagnostic{
			Severity:       diag.Err,
			Code:           diag.CodeBusFallback,
			Summary:        "LED bus unavailable, running on the simulator",
			Detail:         err.Error(),
			LikelyCauses:   []string{"I2C not enabled", "wrong bus name", "controller not powered or wrong address"},
			SuggestedFixes: []string{"enable I2C and reboot", "check bus.i2c_bus and bus.base_addr"},
			Evidence:       map[string]any{"driver": cfg.Bus.Driver, "i2c_bus": cfg.Bus.I2CBus},
		})
		be = Backend{Bus: led.NewSimBus(), Driver: config.DriverSim}
	}
	c.BusDriver = be.Driver
	c.port = be.Port

	c.Writer = led.NewWriter(be.Bus, led.WriterOptions{
		Retries:     cfg.Bus.Retries,
		Backoff:     time.Duration(cfg.Bus.BackoffMs) * time.Millisecond,
		Spacing:     time.Duration(cfg.Bus.SpacingMs) * time.Millisecond,
		LockTimeout: cfg.Transition.LockTimeout(),
	})

	opts := transition.DefaultOptions()
	opts.Capacity = cfg.Transition.Capacity
	opts.Tick = cfg.Transition.Tick()
	opts.Enabled = cfg.Transition.Enabled
	opts.IndicatorFast = cfg.Transition.IndicatorFast
	opts.LockTimeout = cfg.Transition.LockTimeout()
	opts.Settings = transition.Settings{
		Duration: cfg.Transition.Duration(),
		FadeIn:   cfg.Transition.FadeIn,
		FadeOut:  cfg.Transition.FadeOut,
	}
	c.Engine, err = transition.NewEngine(c.Bright, c.Writer, opts)
	if err != nil {
		c.Writer.Close()
		c.closePort()
		return nil, err
	}

	c.Demo = demo.NewDriver(c.Engine, c.frames(cfg.Demo.Script), cfg.Demo.Interval())

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.Engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("transition scheduler")
		}
	}()
	go func() {
		defer c.wg.Done()
		c.watch(ctx, WatchInterval)
	}()

	log.Info().
		Str("bus", c.BusDriver).
		Int("capacity", opts.Capacity).
		Dur("duration", opts.Settings.Duration).
		Msg("core ready")
	return c, nil
}

// frames loads the demo script, or the built-in sequence when there is none
// or it does not run.
func (c *Core) frames(path string) demo.Frames {
	if path == "" {
		return demo.DefaultFrames()
	}
	b, err := os.ReadFile(path)
	if err == nil {
		var seq demo.Sequence
		if seq, err = demo.LuaFrames(string(b)); err == nil {
			log.Info().Str("script", path).Int("frames", len(seq)).Msg("demo script loaded")
			return seq
		}
	}
	log.Warn().Err(err).Str("script", path).Msg("demo script rejected; using built-in frames")
	c.Diag.Add(diag.Diagnostic{
		Severity: diag.Warn,
		Code:     diag.CodeDemoScriptInvalid,
		Summary:  "Demo script could not be loaded",
		Detail:   err.Error(),
		Evidence: map[string]any{"script": path},
	})
	return demo.DefaultFrames()
}

// watch turns engine and writer counters into diagnostics. A scheduler that
// stops while the core is up forces the engine into fallback mode.
func (c *Core) watch(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	prev := c.Engine.Stats()
	failures := c.Writer.Failures()
	stopped := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := c.Engine.Stats()
		if n := c.Writer.Failures(); n > failures {
			c.Diag.Add(diag.Diagnostic{
				Severity:       diag.Err,
				Code:           diag.CodeWriteFailed,
				Summary:        "LED writes failed after retries",
				LikelyCauses:   []string{"loose I2C wiring", "bus contention", "controller brown-out"},
				SuggestedFixes: []string{"check SDA/SCL and power", "raise bus.spacing_ms"},
				Evidence:       map[string]any{"failed": n - failures},
			})
			failures = n
			c.resync()
		}
		if st.Degraded > prev.Degraded {
			c.Diag.Add(diag.Diagnostic{
				Severity: diag.Warn,
				Code:     diag.CodeDegraded,
				Summary:  "Display requests fell back to instant writes",
				Evidence: map[string]any{"requests": st.Degraded - prev.Degraded},
			})
		}
		if st.Skipped > prev.Skipped {
			c.Diag.Add(diag.Diagnostic{
				Severity: diag.Warn,
				Code:     diag.CodeSchedulerSkipped,
				Summary:  "Scheduler ticks were cut short by lock contention",
				Evidence: map[string]any{"ticks": st.Skipped - prev.Skipped},
			})
		}
		if st.Fallback && !prev.Fallback {
			c.Diag.Add(diag.Diagnostic{Severity: diag.Warn, Code: diag.CodeFallbackMode, Summary: "Transitions in fallback mode"})
		}
		if !st.Running && !stopped && ctx.Err() == nil {
			stopped = true
			if err := c.Engine.EnterFallback(); err != nil {
				log.Warn().Err(err).Msg("enter fallback")
			}
			c.Diag.Add(diag.Diagnostic{
				Severity: diag.Err,
				Code:     diag.CodeSchedulerStopped,
				Summary:  "Transition scheduler is not running; all changes are instant",
			})
			st.Fallback = true
		}
		prev = st
	}
}

// resync forgets the writer cache and rewrites the whole face. A controller
// that dropped writes may also have reset its registers.
func (c *Core) resync() {
	if err := c.Writer.Invalidate(); err != nil {
		log.Warn().Err(err).Msg("invalidate led cache")
		return
	}
	if _, err := c.Engine.Refresh(); err != nil {
		log.Warn().Err(err).Msg("resync face")
	}
}

func (c *Core) closePort() {
	if c.port == nil {
		return
	}
	if err := c.port.Close(); err != nil {
		log.Warn().Err(err).Msg("close i2c")
	}
}

// Close stops the demo and the scheduler, turns the LEDs off and releases
// the bus. Calling it twice is a no-op.
func (c *Core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.Demo.Stop()
	c.cancel()
	c.wg.Wait()
	err := c.Writer.Close()
	c.closePort()
	if errors.Is(err, guard.ErrTimeout) {
		log.Warn().Err(err).Msg("bus busy at shutdown")
	}
	return err
}
