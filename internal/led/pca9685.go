package led

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"

	"github.com/coreman2200/wordclock/internal/grid"
)

// PCA9685BaseAddr is the address of the first row's controller.
const PCA9685BaseAddr = pca9685.I2CAddr

// PCA9685 drives the matrix through one 16-channel PCA9685 per row. The chip
// has no group dimmer, so the global level scales every channel's duty.
type PCA9685 struct {
	devs   [grid.Rows]*pca9685.Dev
	values [grid.Size]uint8
	global uint8
}

// NewPCA9685 opens one controller per row at base+row.
func NewPCA9685(bus i2c.Bus, base uint16, global uint8) (*PCA9685, error) {
	p := &PCA9685{global: global}
	for r := range p.devs {
		d, err := pca9685.NewI2C(bus, base+uint16(r))
		if err != nil {
			return nil, fmt.Errorf("pca9685 row %d: %w", r, err)
		}
		if err := d.SetPwmFreq(physic.KiloHertz); err != nil {
			return nil, fmt.Errorf("pca9685 row %d: %w", r, err)
		}
		p.devs[r] = d
	}
	return p, nil
}

// duty maps an 8-bit value through the global level onto the 12-bit counter.
func duty(v, global uint8) gpio.Duty {
	return gpio.Duty(uint32(v) * uint32(global) * 4095 / (255 * 255))
}

func (p *PCA9685) SetPWM(c grid.Cell, v uint8) error {
	if err := checkCell(c); err != nil {
		return err
	}
	if err := p.devs[c.Row].SetPwm(c.Col, 0, duty(v, p.global)); err != nil {
		return err
	}
	p.values[c.Index()] = v
	return nil
}

// SetGlobal rescales every channel.
func (p *PCA9685) SetGlobal(v uint8) error {
	p.global = v
	for i, val := range p.values {
		c := grid.CellAt(i)
		if err := p.devs[c.Row].SetPwm(c.Col, 0, duty(val, v)); err != nil {
			return fmt.Errorf("pca9685 %v: %w", c, err)
		}
	}
	return nil
}

func (p *PCA9685) Close() error {
	var first error
	for r, d := range p.devs {
		if err := d.SetAllPwm(0, 0); err != nil && first == nil {
			first = fmt.Errorf("pca9685 row %d: %w", r, err)
		}
	}
	return first
}
