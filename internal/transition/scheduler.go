package transition

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/wordclock/internal/guard"
	"github.com/coreman2200/wordclock/internal/metrics"
)

// Tick advances every active slot to now. The slot lock is taken once per
// slot, bounded by the tick period; if it cannot be had the rest of the tick
// is skipped and picked up on the next one.
func (e *Engine) Tick(now time.Time) {
	start := time.Now()
	e.ticks.Add(1)
	metrics.SchedulerTicks.Inc()

	var ch guard.Chain
	defer ch.Release()
	for i := 0; i < e.tab.capacity; i++ {
		if err := ch.LockWithin(e.slotsMu, e.opts.Tick); err != nil {
			e.skipped.Add(1)
			metrics.SchedulerSkips.Inc()
			log.Debug().Err(err).Int("slot", i).Msg("tick skipped")
			break
		}
		s := &e.tab.slots[i]
		if !s.active {
			ch.Unlock(e.slotsMu)
			continue
		}
		cell, gen := s.cell, s.gen
		var v uint8
		var done bool
		if p := e.pending[cell.Index()].Load(); p != noPending {
			v, done = uint8(p), true
		} else {
			v, done = s.at(now)
		}
		changed := v != s.last
		s.last = v
		if done {
			e.tab.retire(s)
			e.active.Store(int32(e.tab.active))
		}
		ch.Unlock(e.slotsMu)

		// Final values are always written; the writer drops them if unchanged.
		if changed || done {
			if err := e.out.SetOrdered(&ch, cell, v, gen); err != nil {
				e.resync.Store(true)
			}
		}
		if !done {
			continue
		}
		e.completed.Add(1)
		metrics.Transitions.WithLabelValues("completed").Inc()
		// A degraded request may have forced this cell while the final value
		// was in flight; the forced value wins.
		if p := e.pending[cell.Index()].Load(); p != noPending && uint8(p) != v {
			if err := e.out.SetOrdered(&ch, cell, uint8(p), gen); err != nil {
				e.resync.Store(true)
			}
		}
	}

	metrics.ActiveSlots.Set(float64(e.active.Load()))
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

// Run drives Tick at the configured rate until ctx is done. While Run is
// active, requests may animate. On return every slot has been completed.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	log.Info().Dur("tick", e.opts.Tick).Int("capacity", e.tab.capacity).Msg("transition scheduler started")

	t := time.NewTicker(e.opts.Tick)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			e.stop()
			log.Info().Msg("transition scheduler stopped")
			return nil
		case <-t.C:
			if since := time.Since(last); since > 2*e.opts.Tick {
				metrics.SchedulerOverruns.Inc()
				log.Debug().Dur("since", since).Msg("scheduler overrun")
			}
			last = time.Now()
			e.Tick(e.now())
		}
	}
}

// stop clears the running flag under the slot lock, so no request can create
// a slot after it, then completes what is left.
func (e *Engine) stop() {
	for attempt := 0; attempt < 3; attempt++ {
		err := e.slotsMu.With(func() { e.running.Store(false) })
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("scheduler stop")
	}
	if e.running.Load() {
		e.running.Store(false)
		e.resync.Store(true)
	}
	for attempt := 0; attempt < 3; attempt++ {
		if err := e.CompleteAll(); err == nil {
			return
		}
	}
	e.resync.Store(true)
}
