// Package demo runs a cooperative test sequence through the transition
// engine: a list of faces shown one after another at a fixed interval. It goes
// through the same display API as the clock itself.
package demo

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/wordclock/internal/grid"
	"github.com/coreman2200/wordclock/internal/transition"
)

// DefaultInterval is the time each face stays up.
const DefaultInterval = 10 * time.Second

// State of the driver.
type State int

const (
	Idle State = iota
	Running
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Display is the engine entry point the driver feeds.
type Display interface {
	Display(m grid.Matrix) (transition.Result, error)
}

// Driver steps through Frames while running. It is safe for concurrent use.
type Driver struct {
	out      Display
	interval time.Duration

	mu     sync.Mutex
	frames Frames
	state  State
	step   int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver returns an idle driver. A non-positive interval uses DefaultInterval.
func NewDriver(out Display, frames Frames, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{out: out, frames: frames, interval: interval}
}

// Start shows the first frame and keeps stepping until Stop or ctx ends.
// Starting a running driver is a no-op.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Running {
		return nil
	}
	if d.frames == nil || d.frames.Len() == 0 {
		return ErrNoFrames
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.state = Running
	d.step = 0
	go d.run(ctx, d.done)
	log.Info().Int("frames", d.frames.Len()).Dur("interval", d.interval).Msg("demo started")
	return nil
}

func (d *Driver) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		if err := d.Step(); err != nil {
			log.Warn().Err(err).Msg("demo step")
		}
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.state = Cancelled
			d.mu.Unlock()
			return
		case <-t.C:
		}
	}
}

// Stop cancels a running sequence and waits for it to finish its current step.
func (d *Driver) Stop() {
	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		return
	}
	d.state = Cancelled
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
	log.Info().Msg("demo stopped")
}

// Active reports whether the sequence is running.
func (d *Driver) Active() bool { return d.State() == Running }

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Step displays the next frame, wrapping around at the end.
func (d *Driver) Step() error {
	d.mu.Lock()
	if d.frames == nil || d.frames.Len() == 0 {
		d.mu.Unlock()
		return ErrNoFrames
	}
	i := d.step % d.frames.Len()
	d.step++
	m := d.frames.Frame(i)
	d.mu.Unlock()

	res, err := d.out.Display(m)
	if err != nil {
		return err
	}
	log.Debug().Int("frame", i).Int("animated", res.Animated).Int("instant", res.Instant).Msg("demo frame")
	return nil
}

// SetFrames replaces the sequence. It takes effect from the next step.
func (d *Driver) SetFrames(f Frames) error {
	if f == nil || f.Len() == 0 {
		return ErrNoFrames
	}
	d.mu.Lock()
	d.frames = f
	d.step = 0
	d.mu.Unlock()
	return nil
}
