package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/wordclock/internal/curve"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 1500*time.Millisecond, c.Transition.Duration())
	assert.Equal(t, 50*time.Millisecond, c.Transition.Tick())
	assert.Equal(t, 10*time.Second, c.Demo.Interval())
	assert.True(t, c.Transition.IndicatorFast)
}

func TestLoadOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
log_level: debug
bus:
  driver: tlc59116
  base_addr: 0x60
transition:
  duration_ms: 800
  fade_in: bounce
  fade_out: ease-in-out
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, DriverTLC59116, c.Bus.Driver)
	assert.Equal(t, uint16(0x60), c.Bus.BaseAddr)
	assert.Equal(t, 800, c.Transition.DurationMs)
	assert.Equal(t, curve.Bounce, c.Transition.FadeIn)
	assert.Equal(t, curve.EaseInOut, c.Transition.FadeOut)
	// untouched fields keep their defaults
	assert.Equal(t, 32, c.Transition.Capacity)
	assert.True(t, c.Transition.Enabled)
	assert.Equal(t, 120, c.Brightness.Global)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"duration":   "transition:\n  duration_ms: 100\n",
		"curve":      "transition:\n  fade_in: wobble\n",
		"driver":     "bus:\n  driver: ws2811\n",
		"brightness": "brightness:\n  individual: 300\n",
		"capacity":   "transition:\n  capacity: 161\n",
		"level":      "log_level: loud\n",
	}
	dir := t.TempDir()
	for name, doc := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}

	c := Default()
	c.Transition.DurationMs = 9000
	assert.True(t, errors.Is(c.Validate(), ErrInvalid))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := Default()
	c.Transition.FadeOut = curve.Linear
	c.Brightness.Individual = 64
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "fade_out: linear")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
