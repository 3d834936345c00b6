package demo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/wordclock/internal/brightness"
	"github.com/coreman2200/wordclock/internal/grid"
	"github.com/coreman2200/wordclock/internal/led"
	"github.com/coreman2200/wordclock/internal/transition"
)

// recorder captures every displayed matrix.
type recorder struct {
	mu   sync.Mutex
	seen []grid.Matrix
}

func (r *recorder) Display(m grid.Matrix) (transition.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m)
	return transition.Result{}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestStepWrapsAround(t *testing.T) {
	a, err := Words("ES", "IST")
	require.NoError(t, err)
	b, err := Words("HALB")
	require.NoError(t, err)

	rec := &recorder{}
	d := NewDriver(rec, Sequence{a, b}, time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Step())
	}
	assert.Equal(t, []grid.Matrix{a, b, a}, rec.seen)
	assert.Equal(t, Idle, d.State())
}

func TestStartStop(t *testing.T) {
	rec := &recorder{}
	d := NewDriver(rec, DefaultFrames(), 5*time.Millisecond)

	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.Active())
	require.NoError(t, d.Start(context.Background()), "second start is a no-op")
	require.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, time.Millisecond)

	d.Stop()
	assert.False(t, d.Active())
	assert.Equal(t, Cancelled, d.State())
	n := rec.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, rec.count(), "no frames after stop")

	d.Stop() // idempotent
	require.NoError(t, d.Start(context.Background()))
	assert.True(t, d.Active())
	d.Stop()
}

func TestContextEndsSequence(t *testing.T) {
	rec := &recorder{}
	d := NewDriver(rec, DefaultFrames(), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return d.State() == Cancelled }, time.Second, time.Millisecond)
}

func TestEmptyFrames(t *testing.T) {
	d := NewDriver(&recorder{}, Sequence{}, 0)
	assert.True(t, errors.Is(d.Start(context.Background()), ErrNoFrames))
	assert.True(t, errors.Is(d.Step(), ErrNoFrames))
	assert.True(t, errors.Is(d.SetFrames(nil), ErrNoFrames))
}

func TestDefaultFrames(t *testing.T) {
	seq := DefaultFrames()
	require.Len(t, seq, 14)
	es, err := Words("ES", "IST")
	require.NoError(t, err)
	for i, m := range seq {
		for _, c := range es.Cells() {
			assert.True(t, m.Lit(c), "frame %d", i)
		}
	}
	assert.True(t, seq[1].Lit(grid.IndicatorCell(2)))
	assert.False(t, seq[1].Lit(grid.IndicatorCell(3)))
}

func TestWordsUnknown(t *testing.T) {
	_, err := Words("ES", "MITTERNACHT")
	assert.True(t, errors.Is(err, ErrUnknownWord))
	var m grid.Matrix
	assert.Error(t, Light(&m, 5))
}

func TestLuaFrames(t *testing.T) {
	script := `
frames = 3
function frame(i)
  word("es")
  word("ist")
  if i == 1 then
    span(4, 0, 4)
  elseif i == 2 then
    lit(rows - 1, cols - 1)
  else
    indicators(i)
  end
end
`
	seq, err := LuaFrames(script)
	require.NoError(t, err)
	require.Len(t, seq, 3)

	want, err := Words("ES", "IST", "HALB")
	require.NoError(t, err)
	assert.Equal(t, want, seq[0])
	assert.True(t, seq[1].Lit(grid.Cell{Row: 9, Col: 15}))
	assert.Equal(t, 5+3, seq[2].Count())
}

func TestLuaFramesErrors(t *testing.T) {
	cases := map[string]string{
		"syntax":      `frames = `,
		"no count":    `function frame(i) end`,
		"no function": `frames = 2`,
		"bad word":    "frames = 1\nfunction frame(i) word('nope') end",
		"runtime":     "frames = 1\nfunction frame(i) error('boom') end",
		"too many":    `frames = 5000 function frame(i) end`,
		"zero frames": `frames = 0 function frame(i) end`,
	}
	for name, script := range cases {
		_, err := LuaFrames(script)
		assert.Error(t, err, name)
	}
}

func TestDriverThroughEngine(t *testing.T) {
	bus := led.NewSimBus()
	wo := led.DefaultWriterOptions()
	wo.Spacing = 0
	e, err := transition.NewEngine(brightness.New(brightness.Default()), led.NewWriter(bus, wo), transition.DefaultOptions())
	require.NoError(t, err)

	// Without a running scheduler every frame lands instantly.
	seq := DefaultFrames()
	d := NewDriver(e, seq, time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Step())
		assert.Equal(t, seq[i], bus.Lit(), "frame %d", i)
	}
}
