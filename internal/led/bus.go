// Package led writes cell brightness values to the LED controllers.
//
// A Bus is the raw hardware backend (one PWM register per cell). The Writer in
// front of it deduplicates against the last value written, serializes access
// under the bus lock, and retries failed writes a bounded number of times.
package led

import (
	"errors"
	"fmt"

	"github.com/coreman2200/wordclock/internal/grid"
)

var ErrOutOfRange = errors.New("cell out of range")

// Bus abstracts a hardware sink with one 8-bit PWM channel per cell.
type Bus interface {
	// SetPWM writes v to the cell's channel.
	SetPWM(c grid.Cell, v uint8) error
	// Close releases resources.
	Close() error
}

// GlobalDimmer is implemented by backends with a hardware-wide brightness control.
type GlobalDimmer interface {
	SetGlobal(v uint8) error
}

func checkCell(c grid.Cell) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %v", ErrOutOfRange, c)
	}
	return nil
}
