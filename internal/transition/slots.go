package transition

import (
	"time"

	"github.com/coreman2200/wordclock/internal/curve"
	"github.com/coreman2200/wordclock/internal/grid"
)

// MaxSlots bounds the configurable capacity: one slot per cell.
const MaxSlots = grid.Size

const noSlot = -1

// slot is one in-flight fade of one cell.
type slot struct {
	cell   grid.Cell
	from   uint8
	to     uint8
	last   uint8 // last value the scheduler emitted
	start  time.Time
	dur    time.Duration
	kind   curve.Kind
	gen    uint64 // write ordering token
	active bool
}

// at evaluates the slot at now. done is true once the full duration has
// elapsed, and then v is exactly s.to.
func (s *slot) at(now time.Time) (v uint8, done bool) {
	if s.dur <= 0 {
		return s.to, true
	}
	el := now.Sub(s.start)
	if el >= s.dur {
		return s.to, true
	}
	if el < 0 {
		el = 0
	}
	t := float64(el) / float64(s.dur)
	return curve.Interpolate(s.from, s.to, t, s.kind), false
}

// table is a fixed arena of slots with a per-cell owner index, so a cell can
// own at most one active slot. It is guarded by the engine's slot lock.
type table struct {
	slots    [MaxSlots]slot
	owner    [grid.Size]int16
	capacity int
	active   int
}

func (t *table) init(capacity int) {
	t.capacity = capacity
	for i := range t.owner {
		t.owner[i] = noSlot
	}
}

func (t *table) free() int { return t.capacity - t.active }

func (t *table) owns(c grid.Cell) bool {
	return t.owner[c.Index()] != noSlot
}

func (t *table) lookup(c grid.Cell) *slot {
	i := t.owner[c.Index()]
	if i == noSlot {
		return nil
	}
	return &t.slots[i]
}

// acquire claims an unused slot for c. The caller checks free() first.
func (t *table) acquire(c grid.Cell) *slot {
	for i := 0; i < t.capacity; i++ {
		s := &t.slots[i]
		if s.active {
			continue
		}
		*s = slot{cell: c, active: true}
		t.owner[c.Index()] = int16(i)
		t.active++
		return s
	}
	return nil
}

func (t *table) retire(s *slot) {
	if !s.active {
		return
	}
	t.owner[s.cell.Index()] = noSlot
	s.active = false
	t.active--
}
