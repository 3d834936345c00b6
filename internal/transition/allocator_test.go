package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/wordclock/internal/grid"
)

func TestAllocatePriorityOrder(t *testing.T) {
	var next grid.Matrix
	next.Span(0, 0, 10) // tier 2
	next.Span(6, 0, 16) // tier 1
	next.Span(8, 0, 10) // tier 1
	for i := 0; i < grid.Indicators; i++ {
		next.Set(grid.IndicatorCell(i), true) // tier 3
	}
	var prev grid.Matrix
	diff := grid.Diff(&prev, &next, nil)
	require.Len(t, diff, 40)

	p := Allocate(&prev, &next, DefaultCapacity)
	assert.Equal(t, diff[:32], p.Animated)
	assert.Equal(t, diff[32:], p.Instant)
	assert.Empty(t, p.Retarget)

	// All of tier 1 is animated before any of tier 2.
	for _, c := range p.Animated[:26] {
		assert.Equal(t, grid.Tier1, grid.TierOf(c.Cell))
	}
	for _, c := range p.Instant {
		assert.NotEqual(t, grid.Tier1, grid.TierOf(c.Cell))
	}
}

func TestAllocateUnderCapacity(t *testing.T) {
	var prev, next grid.Matrix
	prev.Span(2, 0, 5)
	next.Span(4, 0, 6)
	p := Allocate(&prev, &next, DefaultCapacity)
	assert.Len(t, p.Animated, 11)
	assert.Empty(t, p.Instant)
}

func TestPartitionRetargetsOwnedCells(t *testing.T) {
	owned := grid.Cell{Row: 5, Col: 5}
	changes := []grid.Change{
		{Cell: grid.Cell{Row: 4, Col: 0}, Lit: true},
		{Cell: owned, Lit: false},
		{Cell: grid.Cell{Row: 6, Col: 0}, Lit: true},
	}
	p := newPlan()
	Partition(changes, func(c grid.Cell) bool { return c == owned }, 1, &p)
	assert.Equal(t, changes[:1], p.Animated)
	assert.Equal(t, []grid.Change{changes[1]}, p.Retarget)
	assert.Equal(t, changes[2:], p.Instant)

	// With no free slots an owned cell is still retargeted, never instant.
	Partition(changes, func(c grid.Cell) bool { return c == owned }, 0, &p)
	assert.Empty(t, p.Animated)
	assert.Len(t, p.Retarget, 1)
	assert.Len(t, p.Instant, 2)
}
