package transition

import (
	"github.com/coreman2200/wordclock/internal/grid"
)

// Plan is the partition of one diff.
type Plan struct {
	// Animated cells get a new slot, in tier-then-position order.
	Animated []grid.Change
	// Retarget cells already own an active slot, which is reused.
	Retarget []grid.Change
	// Instant cells are written straight to the hardware.
	Instant []grid.Change
}

func newPlan() Plan {
	return Plan{
		Animated: make([]grid.Change, 0, grid.Size),
		Retarget: make([]grid.Change, 0, grid.Size),
		Instant:  make([]grid.Change, 0, grid.Size),
	}
}

func (p *Plan) reset() {
	p.Animated = p.Animated[:0]
	p.Retarget = p.Retarget[:0]
	p.Instant = p.Instant[:0]
}

// Partition splits changes, which must already be in tier order (see
// grid.Diff), into p. owned reports cells holding an active slot and may be
// nil; free is the number of unused slots. A cell that owns a slot is always
// retargeted, new slots are handed out in order until free runs out, and
// everything after that is instant.
func Partition(changes []grid.Change, owned func(grid.Cell) bool, free int, p *Plan) {
	p.reset()
	for _, c := range changes {
		switch {
		case owned != nil && owned(c.Cell):
			p.Retarget = append(p.Retarget, c)
		case free > 0:
			p.Animated = append(p.Animated, c)
			free--
		default:
			p.Instant = append(p.Instant, c)
		}
	}
}

// Allocate plans the change from prev to next against an empty slot table of
// the given capacity.
func Allocate(prev, next *grid.Matrix, capacity int) Plan {
	p := newPlan()
	Partition(grid.Diff(prev, next, make([]grid.Change, 0, grid.Size)), nil, capacity, &p)
	return p
}

// target is the PWM value a cell settles at.
func target(lit bool, level uint8) uint8 {
	if lit {
		return level
	}
	return 0
}
