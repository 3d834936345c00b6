// Package transition animates changes of the clock face.
//
// A display request is diffed against the previous logical matrix. Changed
// cells are allocated slots from a fixed table in tier order; the rest are
// written instantly before the request returns. A scheduler running at a fixed
// tick advances every slot and writes the interpolated values.
//
// Locks follow the guard order: brightness, display, transitions, bus. The slot
// lock is only held for one slot operation and never across a hardware write.
// Every write carries a per-cell generation so a late write can never bury a
// newer one, and the display always converges to the last requested matrix
// even when animation is degraded or off.
package transition

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreman2200/wordclock/internal/brightness"
	"github.com/coreman2200/wordclock/internal/curve"
	"github.com/coreman2200/wordclock/internal/grid"
	"github.com/coreman2200/wordclock/internal/guard"
	"github.com/coreman2200/wordclock/internal/metrics"
)

const (
	MinDuration     = 200 * time.Millisecond
	MaxDuration     = 5000 * time.Millisecond
	DefaultDuration = 1500 * time.Millisecond
	DefaultTick     = 50 * time.Millisecond
	DefaultCapacity = 32
)

var (
	ErrDurationRange = errors.New("duration out of range")
	ErrNotRunning    = errors.New("scheduler not running")
	ErrRunning       = errors.New("scheduler already running")
)

// Settings shape new transitions. Changing them never touches slots in flight.
type Settings struct {
	Duration time.Duration
	FadeIn   curve.Kind
	FadeOut  curve.Kind
}

func DefaultSettings() Settings {
	return Settings{Duration: DefaultDuration, FadeIn: curve.EaseIn, FadeOut: curve.EaseOut}
}

func (s Settings) Validate() error {
	if s.Duration < MinDuration || s.Duration > MaxDuration {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrDurationRange, s.Duration, MinDuration, MaxDuration)
	}
	if !s.FadeIn.Valid() {
		return fmt.Errorf("fade in: %w: %s", curve.ErrUnknownCurve, s.FadeIn)
	}
	if !s.FadeOut.Valid() {
		return fmt.Errorf("fade out: %w: %s", curve.ErrUnknownCurve, s.FadeOut)
	}
	return nil
}

type Options struct {
	// Capacity is the number of concurrent slots, 0..MaxSlots. Zero disables animation.
	Capacity int
	Tick     time.Duration
	Enabled  bool
	// IndicatorFast runs minute indicator fades at half duration on a linear curve.
	IndicatorFast bool
	// LockTimeout bounds the display and slot locks.
	LockTimeout time.Duration
	Settings    Settings
	Clock       func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Capacity:      DefaultCapacity,
		Tick:          DefaultTick,
		Enabled:       true,
		IndicatorFast: true,
		LockTimeout:   guard.DefaultTimeout,
		Settings:      DefaultSettings(),
		Clock:         time.Now,
	}
}

// Output receives per-cell brightness writes. A write whose seq is older than
// one already applied to the cell must be dropped. led.Writer implements it.
type Output interface {
	SetOrdered(ch *guard.Chain, c grid.Cell, v uint8, seq uint64) error
}

// Request is one display update.
type Request struct {
	Matrix grid.Matrix
	// Settings replaces the engine settings for this request only.
	Settings *Settings
	// Refresh ignores Matrix, keeps the current logical matrix and rewrites
	// every settled cell at the current brightness.
	Refresh bool
}

// Result reports how a request was applied.
type Result struct {
	Animated   int  `json:"animated"`
	Retargeted int  `json:"retargeted"`
	Instant    int  `json:"instant"`
	Degraded   bool `json:"degraded"`
}

type write struct {
	cell grid.Cell
	v    uint8
	seq  uint64
}

const noPending = -1

type Engine struct {
	opts   Options
	bright *brightness.State
	out    Output
	now    func() time.Time

	displayMu *guard.Mutex
	// guarded by displayMu
	logical  grid.Matrix
	settings Settings
	diff     []grid.Change
	plan     Plan
	writes   [grid.Size]write
	nwrites  int

	slotsMu *guard.Mutex
	// guarded by slotsMu
	tab table
	gen [grid.Size]uint64

	// pending forces a cell to a value decided while the slot lock was
	// unavailable; the scheduler retires the cell's slot onto it.
	pending [grid.Size]atomic.Int32
	// resync asks the next request to rewrite every settled cell.
	resync    atomic.Bool
	lastLevel atomic.Uint32

	enabled  atomic.Bool
	fallback atomic.Bool
	running  atomic.Bool
	active   atomic.Int32

	ticks, skipped, animated, retargeted, instant, completed, degraded atomic.Uint64
}

// NewEngine builds an engine writing to out. The scheduler is not running
// until Run is called, and until then every request is applied instantly.
func NewEngine(bright *brightness.State, out Output, opts Options) (*Engine, error) {
	if opts.Capacity < 0 || opts.Capacity > MaxSlots {
		return nil, fmt.Errorf("capacity %d not in [0, %d]", opts.Capacity, MaxSlots)
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = guard.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	e := &Engine{
		opts:      opts,
		bright:    bright,
		out:       out,
		now:       opts.Clock,
		displayMu: guard.NewMutex(guard.Display).WithTimeout(opts.LockTimeout),
		slotsMu:   guard.NewMutex(guard.Transitions).WithTimeout(opts.LockTimeout),
		settings:  opts.Settings,
		diff:      make([]grid.Change, 0, grid.Size),
		plan:      newPlan(),
	}
	e.tab.init(opts.Capacity)
	for i := range e.pending {
		e.pending[i].Store(noPending)
	}
	e.lastLevel.Store(brightness.DefaultIndividual)
	e.enabled.Store(opts.Enabled)
	return e, nil
}

// Display requests m with the engine settings.
func (e *Engine) Display(m grid.Matrix) (Result, error) {
	return e.RequestDisplay(Request{Matrix: m})
}

// Refresh rewrites the current matrix at the current brightness.
func (e *Engine) Refresh() (Result, error) {
	return e.RequestDisplay(Request{Refresh: true})
}

// RequestDisplay applies a new logical matrix. It returns once slots are
// updated and every instant cell has been written. Lock timeouts degrade the
// request to instant writes and are reported in Result, not as errors.
func (e *Engine) RequestDisplay(req Request) (Result, error) {
	if req.Settings != nil {
		if err := req.Settings.Validate(); err != nil {
			return Result{}, err
		}
	}

	var ch guard.Chain
	defer ch.Release()

	level := e.level(&ch)
	if err := ch.Lock(e.displayMu); err != nil {
		if req.Refresh {
			e.resync.Store(true)
			return Result{Degraded: true}, nil
		}
		return e.degradeDisplay(&ch, &req.Matrix, level, err), nil
	}
	if req.Refresh {
		req.Matrix = e.logical
		e.resync.Store(true)
	}

	set := e.settings
	if req.Settings != nil {
		set = *req.Settings
	}
	prev := e.logical
	e.logical = req.Matrix
	e.diff = grid.Diff(&prev, &req.Matrix, e.diff[:0])
	if len(e.diff) == 0 && !e.resync.Load() {
		return Result{}, nil
	}
	now := e.now()

	if err := ch.Lock(e.slotsMu); err != nil {
		return e.degradeSlots(&ch, level, err), nil
	}

	var res Result
	e.nwrites = 0
	animate := e.animating()
	free := 0
	if animate {
		free = e.tab.free()
	}
	Partition(e.diff, e.tab.owns, free, &e.plan)

	for _, c := range e.plan.Retarget {
		s := e.tab.lookup(c.Cell)
		g := e.touch(c.Cell)
		if !animate {
			e.tab.retire(s)
			e.queue(c.Cell, target(c.Lit, level), g)
			continue
		}
		to := target(c.Lit, level)
		s.from = s.last
		s.to = to
		s.start = now
		s.dur, s.kind = e.shape(c.Cell, s.from, to, set)
		s.gen = g
		res.Retargeted++
	}
	for _, c := range e.plan.Animated {
		s := e.tab.acquire(c.Cell)
		if s == nil {
			// free() said otherwise; keep the cell converging anyway
			e.queue(c.Cell, target(c.Lit, level), e.touch(c.Cell))
			continue
		}
		from, to := level, uint8(0)
		if c.Lit {
			from, to = 0, level
		}
		s.from, s.to, s.last = from, to, from
		s.start = now
		s.dur, s.kind = e.shape(c.Cell, from, to, set)
		s.gen = e.touch(c.Cell)
		res.Animated++
	}
	for _, c := range e.plan.Instant {
		e.queue(c.Cell, target(c.Lit, level), e.touch(c.Cell))
	}
	res.Instant = e.nwrites

	if e.resync.Swap(false) {
		for i := range e.pending {
			e.pending[i].Store(noPending)
		}
		for r := 0; r < grid.Rows; r++ {
			for col := 0; col < grid.Cols; col++ {
				c := grid.Cell{Row: r, Col: col}
				if prev[r][col] != req.Matrix[r][col] || e.tab.owns(c) {
					continue
				}
				e.queue(c, target(req.Matrix[r][col], level), e.touch(c))
			}
		}
	}
	e.active.Store(int32(e.tab.active))
	ch.Unlock(e.slotsMu)

	// Instant writes go out under the display lock only.
	for i := 0; i < e.nwrites; i++ {
		w := e.writes[i]
		if err := e.out.SetOrdered(&ch, w.cell, w.v, w.seq); err != nil {
			e.resync.Store(true)
		}
	}

	e.animated.Add(uint64(res.Animated))
	e.retargeted.Add(uint64(res.Retargeted))
	e.instant.Add(uint64(res.Instant))
	metrics.Transitions.WithLabelValues("animated").Add(float64(res.Animated))
	metrics.Transitions.WithLabelValues("retargeted").Add(float64(res.Retargeted))
	metrics.Transitions.WithLabelValues("instant").Add(float64(res.Instant))
	metrics.ActiveSlots.Set(float64(e.active.Load()))
	log.Debug().
		Int("changed", len(e.diff)).
		Int("animated", res.Animated).
		Int("retargeted", res.Retargeted).
		Int("instant", res.Instant).
		Uint8("level", level).
		Msg("display request")
	return res, nil
}

// level snapshots the individual brightness, falling back to the last good
// value when the brightness lock times out.
func (e *Engine) level(ch *guard.Chain) uint8 {
	l, err := e.bright.Snapshot(ch)
	if err != nil {
		v := uint8(e.lastLevel.Load())
		log.Warn().Err(err).Uint8("level", v).Msg("brightness unavailable, using last level")
		return v
	}
	e.lastLevel.Store(uint32(l.Individual))
	return l.Individual
}

// animating reports whether new slots may be created. Call with the slot lock held.
func (e *Engine) animating() bool {
	return e.enabled.Load() && !e.fallback.Load() && e.running.Load() && e.tab.capacity > 0
}

// touch bumps the write generation of c. Call with the slot lock held.
func (e *Engine) touch(c grid.Cell) uint64 {
	i := c.Index()
	e.pending[i].Store(noPending)
	e.gen[i]++
	return e.gen[i]
}

// queue adds an instant write. Call with the display lock held.
func (e *Engine) queue(c grid.Cell, v uint8, seq uint64) {
	e.writes[e.nwrites] = write{cell: c, v: v, seq: seq}
	e.nwrites++
}

func (e *Engine) shape(c grid.Cell, from, to uint8, set Settings) (time.Duration, curve.Kind) {
	if e.opts.IndicatorFast && grid.TierOf(c) == grid.Tier3 {
		return set.Duration / 2, curve.Linear
	}
	if to > from {
		return set.Duration, set.FadeIn
	}
	return set.Duration, set.FadeOut
}

// degradeDisplay handles a display lock timeout: the whole requested matrix is
// written instantly and the next request resynchronizes.
func (e *Engine) degradeDisplay(ch *guard.Chain, m *grid.Matrix, level uint8, cause error) Result {
	log.Warn().Err(cause).Msg("display lock unavailable, writing matrix instantly")
	var res Result
	res.Degraded = true
	for i := 0; i < grid.Size; i++ {
		c := grid.CellAt(i)
		v := target(m.Lit(c), level)
		e.pending[i].Store(int32(v))
		if err := e.out.SetOrdered(ch, c, v, 0); err != nil {
			log.Debug().Err(err).Stringer("cell", c).Msg("degraded write failed")
		}
		res.Instant++
	}
	e.resync.Store(true)
	e.degraded.Add(1)
	metrics.Transitions.WithLabelValues("degraded").Inc()
	return res
}

// degradeSlots handles a slot lock timeout: the diff is written instantly and
// any slot still animating one of its cells is retired onto the new value by
// the scheduler. Call with the display lock held.
func (e *Engine) degradeSlots(ch *guard.Chain, level uint8, cause error) Result {
	log.Warn().Err(cause).Int("changed", len(e.diff)).Msg("slot table unavailable, applying diff instantly")
	var res Result
	res.Degraded = true
	for _, c := range e.diff {
		v := target(c.Lit, level)
		e.pending[c.Cell.Index()].Store(int32(v))
		if err := e.out.SetOrdered(ch, c.Cell, v, 0); err != nil {
			e.resync.Store(true)
		}
		res.Instant++
	}
	e.resync.Store(true)
	e.instant.Add(uint64(res.Instant))
	e.degraded.Add(1)
	metrics.Transitions.WithLabelValues("degraded").Inc()
	return res
}

// SetDuration changes the duration of future transitions.
func (e *Engine) SetDuration(d time.Duration) error {
	if d < MinDuration || d > MaxDuration {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrDurationRange, d, MinDuration, MaxDuration)
	}
	return e.displayMu.With(func() { e.settings.Duration = d })
}

// SetCurves changes the curves of future transitions.
func (e *Engine) SetCurves(fadeIn, fadeOut curve.Kind) error {
	if !fadeIn.Valid() || !fadeOut.Valid() {
		return fmt.Errorf("%w: %s/%s", curve.ErrUnknownCurve, fadeIn, fadeOut)
	}
	return e.displayMu.With(func() {
		e.settings.FadeIn = fadeIn
		e.settings.FadeOut = fadeOut
	})
}

func (e *Engine) Settings() (Settings, error) {
	var s Settings
	err := e.displayMu.With(func() { s = e.settings })
	return s, err
}

// SetEnabled turns animation on or off. Turning it off snaps every slot to
// its target.
func (e *Engine) SetEnabled(on bool) error {
	prev := e.enabled.Swap(on)
	if prev != on {
		log.Info().Bool("enabled", on).Msg("transitions")
	}
	if !on {
		return e.CompleteAll()
	}
	return nil
}

func (e *Engine) Enabled() bool { return e.enabled.Load() }

// EnterFallback forces instant mode and completes everything in flight.
func (e *Engine) EnterFallback() error {
	if !e.fallback.Swap(true) {
		log.Warn().Msg("transition fallback mode on")
	}
	return e.CompleteAll()
}

// TryExitFallback leaves fallback mode if the scheduler is running.
func (e *Engine) TryExitFallback() error {
	if !e.fallback.Load() {
		return nil
	}
	if !e.running.Load() {
		return fmt.Errorf("exit fallback: %w", ErrNotRunning)
	}
	e.fallback.Store(false)
	log.Info().Msg("transition fallback mode off")
	return nil
}

func (e *Engine) InFallback() bool { return e.fallback.Load() }

func (e *Engine) Running() bool { return e.running.Load() }

// CompleteAll writes every active slot's target and retires it.
func (e *Engine) CompleteAll() error {
	var ch guard.Chain
	defer ch.Release()
	var buf [MaxSlots]write
	n := 0
	if err := ch.Lock(e.slotsMu); err != nil {
		return fmt.Errorf("complete all: %w", err)
	}
	for i := 0; i < e.tab.capacity; i++ {
		s := &e.tab.slots[i]
		if !s.active {
			continue
		}
		v := s.to
		if p := e.pending[s.cell.Index()].Load(); p != noPending {
			v = uint8(p)
		}
		buf[n] = write{cell: s.cell, v: v, seq: s.gen}
		n++
		s.last = v
		e.tab.retire(s)
	}
	e.active.Store(int32(e.tab.active))
	ch.Unlock(e.slotsMu)

	var first error
	for _, w := range buf[:n] {
		if err := e.out.SetOrdered(&ch, w.cell, w.v, w.seq); err != nil {
			e.resync.Store(true)
			if first == nil {
				first = err
			}
		}
	}
	e.completed.Add(uint64(n))
	metrics.Transitions.WithLabelValues("completed").Add(float64(n))
	metrics.ActiveSlots.Set(0)
	return first
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Active     int     `json:"active"`
	Capacity   int     `json:"capacity"`
	TickHz     float64 `json:"tick_hz"`
	Ticks      uint64  `json:"ticks"`
	Skipped    uint64  `json:"skipped"`
	Animated   uint64  `json:"animated"`
	Retargeted uint64  `json:"retargeted"`
	Instant    uint64  `json:"instant"`
	Completed  uint64  `json:"completed"`
	Degraded   uint64  `json:"degraded"`
	Enabled    bool    `json:"enabled"`
	Fallback   bool    `json:"fallback"`
	Running    bool    `json:"running"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Active:     int(e.active.Load()),
		Capacity:   e.tab.capacity,
		TickHz:     float64(time.Second) / float64(e.opts.Tick),
		Ticks:      e.ticks.Load(),
		Skipped:    e.skipped.Load(),
		Animated:   e.animated.Load(),
		Retargeted: e.retargeted.Load(),
		Instant:    e.instant.Load(),
		Completed:  e.completed.Load(),
		Degraded:   e.degraded.Load(),
		Enabled:    e.enabled.Load(),
		Fallback:   e.fallback.Load(),
		Running:    e.running.Load(),
	}
}

// SlotInfo describes one active slot.
type SlotInfo struct {
	Cell     grid.Cell     `json:"cell"`
	From     uint8         `json:"from"`
	To       uint8         `json:"to"`
	Last     uint8         `json:"last"`
	Curve    curve.Kind    `json:"curve"`
	Duration time.Duration `json:"duration"`
}

// Snapshot is the logical matrix plus the slots in flight.
type Snapshot struct {
	Logical grid.Matrix `json:"logical"`
	Slots   []SlotInfo  `json:"slots"`
}

func (e *Engine) Snapshot() (Snapshot, error) {
	var ch guard.Chain
	defer ch.Release()
	var snap Snapshot
	if err := ch.Lock(e.displayMu); err != nil {
		return snap, err
	}
	snap.Logical = e.logical
	if err := ch.Lock(e.slotsMu); err != nil {
		return snap, err
	}
	for i := 0; i < e.tab.capacity; i++ {
		s := &e.tab.slots[i]
		if s.active {
			snap.Slots = append(snap.Slots, SlotInfo{
				Cell: s.cell, From: s.from, To: s.to, Last: s.last, Curve: s.kind, Duration: s.dur,
			})
		}
	}
	return snap, nil
}
