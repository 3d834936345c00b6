// Package brightness holds the two brightness levels of the clock: the
// per-cell PWM level that a lit cell fades to, and the global dimmer applied by
// the LED drivers.
package brightness

import (
	"github.com/coreman2200/wordclock/internal/guard"
)

const (
	Min               = 5
	Max               = 255
	DefaultIndividual = 32
	DefaultGlobal     = 120
)

// Levels is a consistent copy of both values.
type Levels struct {
	Individual uint8 `json:"individual" yaml:"individual"`
	Global     uint8 `json:"global" yaml:"global"`
}

// State guards the levels with a Brightness-level lock.
type State struct {
	mu         *guard.Mutex
	individual uint8
	global     uint8
}

// New returns a state holding the given levels, each clamped to [Min, Max].
func New(l Levels) *State {
	return &State{
		mu:         guard.NewMutex(guard.Brightness),
		individual: Clamp(int(l.Individual)),
		global:     Clamp(int(l.Global)),
	}
}

// Default returns Levels{DefaultIndividual, DefaultGlobal}.
func Default() Levels {
	return Levels{Individual: DefaultIndividual, Global: DefaultGlobal}
}

// Clamp bounds v to [Min, Max].
func Clamp(v int) uint8 {
	if v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return uint8(v)
}

// Mutex exposes the lock so callers can order it within a larger chain.
func (s *State) Mutex() *guard.Mutex { return s.mu }

// Snapshot reads both levels while ch holds the brightness lock for the
// duration of the read only.
func (s *State) Snapshot(ch *guard.Chain) (Levels, error) {
	if err := ch.Lock(s.mu); err != nil {
		return Levels{}, err
	}
	l := Levels{Individual: s.individual, Global: s.global}
	return l, ch.Unlock(s.mu)
}

// Individual returns the per-cell level, or DefaultIndividual if the lock times out.
func (s *State) Individual() uint8 {
	var ch guard.Chain
	l, err := s.Snapshot(&ch)
	if err != nil {
		return DefaultIndividual
	}
	return l.Individual
}

// Global returns the global dimmer level, or DefaultGlobal if the lock times out.
func (s *State) Global() uint8 {
	var ch guard.Chain
	l, err := s.Snapshot(&ch)
	if err != nil {
		return DefaultGlobal
	}
	return l.Global
}

// SetIndividual clamps and stores the per-cell level. Cells already lit keep
// their value until their next transition.
func (s *State) SetIndividual(v int) (uint8, error) {
	c := Clamp(v)
	return c, s.mu.With(func() { s.individual = c })
}

// SetGlobal clamps and stores the global level without touching hardware.
func (s *State) SetGlobal(v int) (uint8, error) {
	c := Clamp(v)
	return c, s.mu.With(func() { s.global = c })
}

// Dimmer is the hardware side of the global level.
type Dimmer interface {
	SetGlobal(v uint8) error
}

// ApplyGlobal stores the clamped global level and forwards it to d. The stored
// level stands even when d fails.
func (s *State) ApplyGlobal(v int, d Dimmer) (uint8, error) {
	g, err := s.SetGlobal(v)
	if err != nil {
		return 0, err
	}
	return g, d.SetGlobal(g)
}
