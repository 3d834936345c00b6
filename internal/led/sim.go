package led

import (
	"errors"
	"sync"

	"github.com/coreman2200/wordclock/internal/grid"
)

// ErrInjected is returned by SimBus for writes scheduled to fail.
var ErrInjected = errors.New("sim: injected write failure")

// SimBus is an in-memory Bus for headless runs and tests. Failures can be
// injected per cell.
type SimBus struct {
	mu      sync.Mutex
	values  [grid.Size]uint8
	fail    [grid.Size]int
	failAll bool
	global  uint8
	writes  int
	closed  bool
}

func NewSimBus() *SimBus { return &SimBus{} }

func (s *SimBus) SetPWM(c grid.Cell, v uint8) error {
	if err := checkCell(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := c.Index()
	if s.failAll {
		return ErrInjected
	}
	if s.fail[i] > 0 {
		s.fail[i]--
		return ErrInjected
	}
	s.values[i] = v
	s.writes++
	return nil
}

func (s *SimBus) SetGlobal(v uint8) error {
	s.mu.Lock()
	s.global = v
	s.mu.Unlock()
	return nil
}

func (s *SimBus) Close() error {
	s.mu.Lock()
	s.closed = true
	s.values = [grid.Size]uint8{}
	s.mu.Unlock()
	return nil
}

// FailNext makes the next n writes to c fail.
func (s *SimBus) FailNext(c grid.Cell, n int) {
	s.mu.Lock()
	s.fail[c.Index()] = n
	s.mu.Unlock()
}

// FailAll makes every write fail until called with false.
func (s *SimBus) FailAll(on bool) {
	s.mu.Lock()
	s.failAll = on
	s.mu.Unlock()
}

// Value returns the current register value of c.
func (s *SimBus) Value(c grid.Cell) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[c.Index()]
}

// Writes counts successful writes.
func (s *SimBus) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *SimBus) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SimBus) Global() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global
}

// Lit reports the cells whose register is non-zero.
func (s *SimBus) Lit() grid.Matrix {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m grid.Matrix
	for i, v := range s.values {
		if v > 0 {
			m.Set(grid.CellAt(i), true)
		}
	}
	return m
}
