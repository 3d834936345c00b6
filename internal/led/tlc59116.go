package led

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"

	"github.com/coreman2200/wordclock/internal/grid"
)

// TLC59116 registers.
const (
	tlcMode1   = 0x00
	tlcMode2   = 0x01
	tlcPWM0    = 0x02
	tlcGrpPWM  = 0x12
	tlcLEDOut0 = 0x14

	// Control byte flag: auto-increment over all registers.
	tlcAutoInc = 0x80

	// LEDOUTx value putting all four LEDs in individual + group PWM mode.
	tlcLEDPWMGroup = 0xFF

	// TLC59116BaseAddr is the address of the first row's controller.
	TLC59116BaseAddr = 0x60
)

// TLC59116 drives the matrix through one 16-channel TLC59116 per row, at
// consecutive I2C addresses. Column c of a row is channel c.
type TLC59116 struct {
	devs [grid.Rows]i2c.Dev
}

// NewTLC59116 wakes and configures every controller. global is written to the
// group dimmer.
func NewTLC59116(bus i2c.Bus, base uint16, global uint8) (*TLC59116, error) {
	t := &TLC59116{}
	for r := range t.devs {
		t.devs[r] = i2c.Dev{Bus: bus, Addr: base + uint16(r)}
		d := &t.devs[r]
		setup := [][]byte{
			{tlcMode1, 0x00}, // oscillator on, no all-call
			{tlcMode2, 0x00},
			{tlcAutoInc | tlcLEDOut0, tlcLEDPWMGroup, tlcLEDPWMGroup, tlcLEDPWMGroup, tlcLEDPWMGroup},
			{tlcGrpPWM, global},
		}
		for _, w := range setup {
			if err := d.Tx(w, nil); err != nil {
				return nil, fmt.Errorf("tlc59116 row %d at %#x: %w", r, d.Addr, err)
			}
		}
	}
	return t, nil
}

func (t *TLC59116) SetPWM(c grid.Cell, v uint8) error {
	if err := checkCell(c); err != nil {
		return err
	}
	return t.devs[c.Row].Tx([]byte{tlcPWM0 + byte(c.Col), v}, nil)
}

// SetGlobal writes the group dimmer of every controller.
func (t *TLC59116) SetGlobal(v uint8) error {
	for r := range t.devs {
		if err := t.devs[r].Tx([]byte{tlcGrpPWM, v}, nil); err != nil {
			return fmt.Errorf("tlc59116 row %d: %w", r, err)
		}
	}
	return nil
}

// Close switches every output off. The bus itself belongs to the caller.
func (t *TLC59116) Close() error {
	var first error
	for r := range t.devs {
		err := t.devs[r].Tx([]byte{tlcAutoInc | tlcLEDOut0, 0, 0, 0, 0}, nil)
		if err != nil && first == nil {
			first = fmt.Errorf("tlc59116 row %d: %w", r, err)
		}
	}
	return first
}
