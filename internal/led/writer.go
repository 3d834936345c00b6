package led

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/wordclock/internal/grid"
	"github.com/coreman2200/wordclock/internal/guard"
	"github.com/coreman2200/wordclock/internal/metrics"
)

// Unknown is the cached value of a cell whose hardware state is not known.
const Unknown = -1

// WriterOptions tunes retries and bus pacing.
type WriterOptions struct {
	// Retries after the first failed attempt.
	Retries int
	// Backoff before retry n is Backoff << n.
	Backoff time.Duration
	// Spacing is held after every successful write so the bus is never saturated.
	Spacing time.Duration
	// LockTimeout bounds the wait for the bus lock.
	LockTimeout time.Duration
}

func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Retries:     3,
		Backoff:     2 * time.Millisecond,
		Spacing:     time.Millisecond,
		LockTimeout: guard.DefaultTimeout,
	}
}

// Frame is the last value written to every cell, Unknown where not known.
type Frame [grid.Rows][grid.Cols]int

// Writer is the differential front of a Bus. It is safe for concurrent use.
type Writer struct {
	bus  Bus
	opts WriterOptions
	mu   *guard.Mutex

	// last is written under mu and read without it.
	last [grid.Size]atomic.Int32
	// seq is the highest ordering token applied per cell; guarded by mu.
	seq [grid.Size]uint64
	// failed counts writes that gave up after every retry.
	failed atomic.Uint64

	sleep func(time.Duration)
}

// NewWriter returns a writer with every cell Unknown.
func NewWriter(bus Bus, opts WriterOptions) *Writer {
	w := &Writer{
		bus:   bus,
		opts:  opts,
		mu:    guard.NewMutex(guard.Bus).WithTimeout(opts.LockTimeout),
		sleep: time.Sleep,
	}
	for i := range w.last {
		w.last[i].Store(Unknown)
	}
	return w
}

// Mutex exposes the bus lock so callers can order it within a larger chain.
func (w *Writer) Mutex() *guard.Mutex { return w.mu }

// SetOrdered writes v to c unless v is already the last value written. A
// write carrying a token older than one already applied to the same cell is
// dropped as stale, so writers racing to the bus cannot leave an older value
// behind a newer one. A zero token is never stale.
func (w *Writer) SetOrdered(ch *guard.Chain, c grid.Cell, v uint8, seq uint64) error {
	if err := checkCell(c); err != nil {
		return err
	}
	if err := ch.Lock(w.mu); err != nil {
		metrics.HardwareWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("write %v: %w", c, err)
	}
	defer ch.Unlock(w.mu)

	i := c.Index()
	if seq != 0 {
		if seq < w.seq[i] {
			metrics.HardwareWrites.WithLabelValues("stale").Inc()
			return nil
		}
		w.seq[i] = seq
	}
	if w.last[i].Load() == int32(v) {
		metrics.HardwareWrites.WithLabelValues("unchanged").Inc()
		return nil
	}

	var err error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		if attempt > 0 {
			metrics.HardwareWrites.WithLabelValues("retry").Inc()
			w.sleep(w.opts.Backoff << (attempt - 1))
		}
		if err = w.bus.SetPWM(c, v); err == nil {
			w.last[i].Store(int32(v))
			metrics.HardwareWrites.WithLabelValues("ok").Inc()
			if w.opts.Spacing > 0 {
				w.sleep(w.opts.Spacing)
			}
			return nil
		}
	}
	// The register may or may not hold v now; force the next write through.
	w.last[i].Store(Unknown)
	w.failed.Add(1)
	metrics.HardwareWrites.WithLabelValues("failed").Inc()
	log.Warn().Err(err).Int("row", c.Row).Int("col", c.Col).Int("attempts", w.opts.Retries+1).Msg("led write failed")
	return fmt.Errorf("write %v: %w", c, err)
}

// Failures is the number of writes that exhausted their retries.
func (w *Writer) Failures() uint64 { return w.failed.Load() }

// Value returns the last value written to c, or Unknown.
func (w *Writer) Value(c grid.Cell) int {
	if !c.Valid() {
		return Unknown
	}
	return int(w.last[c.Index()].Load())
}

// Snapshot copies the cache.
func (w *Writer) Snapshot() Frame {
	var f Frame
	for i := range w.last {
		c := grid.CellAt(i)
		f[c.Row][c.Col] = int(w.last[i].Load())
	}
	return f
}

// Invalidate forgets every cached value so the next write to each cell reaches
// the hardware.
func (w *Writer) Invalidate() error {
	return w.mu.With(func() {
		for i := range w.last {
			w.last[i].Store(Unknown)
		}
	})
}

// SetGlobal forwards the global brightness to the backend if it has a dimmer.
func (w *Writer) SetGlobal(v uint8) error {
	d, ok := w.bus.(GlobalDimmer)
	if !ok {
		return nil
	}
	var err error
	if lerr := w.mu.With(func() { err = d.SetGlobal(v) }); lerr != nil {
		return lerr
	}
	return err
}

// Close turns the backend off.
func (w *Writer) Close() error {
	var err error
	if lerr := w.mu.With(func() { err = w.bus.Close() }); lerr != nil {
		return lerr
	}
	return err
}
