package dmx

import (
	"fmt"
	"math"
	"strings"
	"time"

	"blaulicht/internal/event"
)

// Waveform is the base function of a phaser.
type Waveform uint8

const (
	Sine Waveform = iota
	Cosine
	Triangle
	Square
	Sawtooth
	EaseIn
	EaseOut
	EaseInOut
)

var waveformNames = [...]string{"sine", "cosine", "triangle", "square", "sawtooth", "ease-in", "ease-out", "ease-in-out"}

func (w Waveform) String() string {
	if int(w) < len(waveformNames) {
		return waveformNames[w]
	}
	return fmt.Sprintf("waveform(%d)", uint8(w))
}

func ParseWaveform(s string) (Waveform, error) {
	for i, n := range waveformNames {
		if strings.EqualFold(n, s) {
			return Waveform(i), nil
		}
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

// Phaser maps a phase angle through a waveform into [Min, Max].
type Phaser struct {
	Waveform Waveform
	Stretch  float64 // angle multiplier, 1 when unset.
	Min      uint8
	Max      uint8
}

// Value evaluates the phaser at the given angle in degrees.
func (p Phaser) Value(degrees float64) uint8 {
	theta := wrap(degrees)
	stretch := p.Stretch
	if stretch == 0 {
		stretch = 1
	}
	lo, hi := float64(p.Min), float64(p.Max)
	span := hi - lo

	var v float64
	switch p.Waveform {
	case Sine:
		v = (math.Sin(theta*stretch*math.Pi/180)+1)/2*span + lo
	case Cosine:
		v = (math.Cos(theta*stretch*math.Pi/180)+1)/2*span + lo
	case Triangle:
		phase := wrap(theta*stretch) / 360
		v = 2*math.Abs(phase-0.5)*span + lo
	case Square:
		if wrap(theta*stretch) < 180 {
			v = hi
		} else {
			v = lo
		}
	case Sawtooth:
		v = lo + wrap(theta*stretch)/360*span
	case EaseIn:
		v = easeQuad(theta/360)*span + lo
	case EaseOut:
		v = (1-easeQuad(theta/360))*span + lo
	case EaseInOut:
		v = math.Sin(math.Pi*theta/360)*span + lo
	}

	bottom, top := math.Min(lo, hi), math.Max(lo, hi)
	return uint8(math.Round(math.Max(bottom, math.Min(top, v))))
}

func easeQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - 2*(1-t)*(1-t)
}

func wrap(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// Duration is the length of one full phaser cycle: either a fixed time or a
// number of beats (as a speed modifier, 1/16 .. 8 beats).
type Duration struct {
	Fixed time.Duration
	Beats event.SpeedModifier
	Beat  bool
}

func FixedDuration(d time.Duration) Duration { return Duration{Fixed: d} }

func BeatDuration(beats event.SpeedModifier) Duration { return Duration{Beats: beats, Beat: true} }

// Cycle resolves the cycle length for the given time between beats. Zero means
// the animation holds.
func (d Duration) Cycle(timeBetweenBeats time.Duration) time.Duration {
	if !d.Beat {
		return d.Fixed
	}
	return time.Duration(float64(timeBetweenBeats) * d.Beats.Factor())
}

func (d Duration) String() string {
	if d.Beat {
		return fmt.Sprintf("%s beats", d.Beats)
	}
	return d.Fixed.String()
}
