package led

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/wordclock/internal/grid"
)

// zeroBus acks every write and reads back zeroed registers.
type zeroBus struct{}

func (zeroBus) String() string                  { return "zero" }
func (zeroBus) SetSpeed(physic.Frequency) error { return nil }
func (zeroBus) Tx(_ uint16, _, r []byte) error {
	clear(r)
	return nil
}

func TestPCA9685Duty(t *testing.T) {
	assert.Equal(t, gpio.Duty(4095), duty(255, 255))
	assert.Equal(t, gpio.Duty(0), duty(0, 255))
	assert.Equal(t, gpio.Duty(1927), duty(255, 120))
	assert.Equal(t, gpio.Duty(241), duty(32, 120))
}

func TestPCA9685(t *testing.T) {
	rec := &i2ctest.Record{Bus: zeroBus{}}
	d, err := NewPCA9685(rec, PCA9685BaseAddr, 255)
	require.NoError(t, err)

	// every row is brought up at its own address and set to 1 kHz
	got := writes(rec.Ops)
	assert.Equal(t, uint16(0x40), got[0].addr)
	assert.Equal(t, uint16(0x49), got[len(got)-1].addr)
	for r := 0; r < grid.Rows; r++ {
		assert.Contains(t, got, tx{0x40 + uint16(r), []byte{0xFE, 6}}, "row %d prescale", r)
	}

	rec.Ops = nil
	c := grid.Cell{Row: 3, Col: 15}
	require.NoError(t, d.SetPWM(c, 255))
	assert.Equal(t, []tx{{0x43, []byte{0x42, 0, 0, 0xFF, 0x0F}}}, writes(rec.Ops))
	assert.Error(t, d.SetPWM(grid.Cell{Row: 0, Col: 16}, 1))

	rec.Ops = nil
	require.NoError(t, d.SetGlobal(120))
	require.Len(t, rec.Ops, grid.Size)
	got = writes(rec.Ops)
	assert.Equal(t, tx{0x43, []byte{0x42, 0, 0, 0x87, 0x07}}, got[c.Index()])
	assert.Equal(t, tx{0x40, []byte{0x06, 0, 0, 0, 0}}, got[0])

	rec.Ops = nil
	require.NoError(t, d.Close())
	require.Len(t, rec.Ops, grid.Rows)
	for r, op := range writes(rec.Ops) {
		assert.Equal(t, tx{0x40 + uint16(r), []byte{0xFA, 0, 0, 0, 0}}, op)
	}
}
