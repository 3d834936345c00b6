// Package curve holds the easing functions used to fade a cell between two
// PWM values.
package curve

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind names an easing curve. Every curve maps [0,1] into [0,1] with f(0)=0 and f(1)=1.
type Kind uint8

const (
	Linear Kind = iota
	EaseIn
	EaseOut
	EaseInOut
	Bounce

	numKinds
)

var ErrUnknownCurve = errors.New("unknown curve")

var names = [numKinds]string{"linear", "ease_in", "ease_out", "ease_in_out", "bounce"}

// All lists every known curve in wire order.
func All() []Kind {
	out := make([]Kind, numKinds)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

func (k Kind) Valid() bool { return k < numKinds }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("curve(%d)", uint8(k))
	}
	return names[k]
}

// Parse accepts the wire names, case-insensitive, with '-' or '_' separators.
func Parse(s string) (Kind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, n := range names {
		if n == norm {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCurve, s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCurve, uint8(k))
	}
	return []byte(names[k]), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func easeOut(t float64) float64 {
	u := 1 - t
	return 1 - u*u
}

// Eval applies curve k to progress t. t is clamped to [0,1] first, and unknown
// kinds fall back to linear.
func Eval(k Kind, t float64) float64 {
	t = clamp01(t)
	switch k {
	case EaseIn:
		return t * t
	case EaseOut:
		return easeOut(t)
	case EaseInOut:
		// classic smoothstep 3t^2 - 2t^3
		return t * t * (3 - 2*t)
	case Bounce:
		if t >= 1 {
			return 1
		}
		// ease-out with a decaying ripple; the ripple vanishes at both ends
		return clamp01(easeOut(t) + math.Sin(8*math.Pi*t)*0.1*(1-t))
	default:
		return t
	}
}

// Interpolate returns the PWM value at progress t between from and to, rounded
// to the nearest step. At t >= 1 the result is exactly to.
func Interpolate(from, to uint8, t float64, k Kind) uint8 {
	if t >= 1 {
		return to
	}
	if t <= 0 {
		return from
	}
	v := float64(from) + (float64(to)-float64(from))*Eval(k, t)
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
