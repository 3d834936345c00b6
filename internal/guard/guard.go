// Package guard coordinates the locks that protect the clock's shared state.
//
// Every lock belongs to a Level, and the levels form a fixed total order:
//
//	Network -> Brightness -> Display -> Transitions -> Bus
//
// A call path that needs several locks carries a Chain, which refuses to acquire
// a lock at or before the highest level it already holds. Every acquisition is
// bounded; a timeout is reported as ErrTimeout and never blocks forever.
package guard

import (
	"errors"
	"fmt"
	"time"

	"github.com/coreman2200/wordclock/internal/metrics"
)

// DefaultTimeout bounds every lock acquisition that does not ask for another bound.
const DefaultTimeout = time.Second

var (
	ErrTimeout   = errors.New("lock timeout")
	ErrLockOrder = errors.New("lock order violation")
	ErrNotHeld   = errors.New("lock not held")
)

// Level is a position in the lock hierarchy. Lower levels are acquired first.
type Level int

const (
	Network Level = iota + 1
	Brightness
	Display
	Transitions
	Bus

	numLevels = int(Bus) + 1
)

var levelNames = [numLevels]string{"", "network", "brightness", "display", "transitions", "bus"}

func (l Level) String() string {
	if l <= 0 || int(l) >= numLevels {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// Mutex is a lock bound to one level of the hierarchy. The zero value is not usable;
// build one with NewMutex.
type Mutex struct {
	level   Level
	timeout time.Duration
	sem     chan struct{}
}

// NewMutex returns an unlocked mutex at the given level using DefaultTimeout.
func NewMutex(level Level) *Mutex {
	return &Mutex{level: level, timeout: DefaultTimeout, sem: make(chan struct{}, 1)}
}

// WithTimeout sets the acquisition bound and returns m.
func (m *Mutex) WithTimeout(d time.Duration) *Mutex {
	if d > 0 {
		m.timeout = d
	}
	return m
}

func (m *Mutex) Level() Level { return m.level }

func (m *Mutex) acquire(d time.Duration) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	default:
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-t.C:
		metrics.LockTimeouts.WithLabelValues(m.level.String()).Inc()
		return fmt.Errorf("%s after %s: %w", m.level, d, ErrTimeout)
	}
}

func (m *Mutex) release() {
	select {
	case <-m.sem:
	default:
		panic("guard: release of unlocked " + m.level.String() + " mutex")
	}
}

// With runs fn while holding m alone.
func (m *Mutex) With(fn func()) error {
	var ch Chain
	if err := ch.Lock(m); err != nil {
		return err
	}
	defer ch.Unlock(m)
	fn()
	return nil
}

// Chain records the locks held by one call path. It is not safe for use by more
// than one goroutine and must not be copied once used.
type Chain struct {
	held [numLevels]*Mutex
	top  Level
}

// Lock acquires m with its own timeout.
func (c *Chain) Lock(m *Mutex) error {
	return c.LockWithin(m, m.timeout)
}

// LockWithin acquires m, giving up after d.
func (c *Chain) LockWithin(m *Mutex, d time.Duration) error {
	if m.level <= c.top {
		return fmt.Errorf("%w: acquiring %s while holding %s", ErrLockOrder, m.level, c.top)
	}
	if err := m.acquire(d); err != nil {
		return err
	}
	c.held[m.level] = m
	c.top = m.level
	return nil
}

// Unlock releases m, which must be held by this chain.
func (c *Chain) Unlock(m *Mutex) error {
	if c.held[m.level] != m {
		return fmt.Errorf("%w: %s", ErrNotHeld, m.level)
	}
	c.held[m.level] = nil
	m.release()
	c.top = 0
	for l := Level(numLevels - 1); l > 0; l-- {
		if c.held[l] != nil {
			c.top = l
			break
		}
	}
	return nil
}

// Holds reports whether the chain currently holds a lock at level l.
func (c *Chain) Holds(l Level) bool {
	return l > 0 && int(l) < numLevels && c.held[l] != nil
}

// Release unlocks everything still held, highest level first.
func (c *Chain) Release() {
	for l := numLevels - 1; l > 0; l-- {
		if m := c.held[l]; m != nil {
			c.held[l] = nil
			m.release()
		}
	}
	c.top = 0
}
