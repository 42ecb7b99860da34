package dmx

import (
	"time"

	"blaulicht/internal/audio"
)

// animate advances every playing animation by dt and writes the resulting
// value into the animated property.
func (e *Engine) animate(dt time.Duration, snap audio.Snapshot) {
	if dt <= 0 {
		return
	}
	between := time.Duration(snap.TimeBetweenBeatsMs) * time.Millisecond

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, g := range e.state.Groups {
		for _, f := range g.Fixtures {
			for id, applied := range f.State.Animations {
				if !applied.Enabled {
					continue
				}
				spec, ok := e.state.Animations[id]
				if !ok {
					continue
				}
				if spec.Duration.Beat && snap.Bpm == 0 {
					continue
				}
				cycle := spec.Duration.Cycle(between)
				if cycle <= 0 {
					continue
				}
				cycle = time.Duration(float64(cycle) / applied.Speed.Factor())
				if cycle <= 0 {
					continue
				}
				applied.Phase = wrap(applied.Phase + 360*float64(dt)/float64(cycle))
				setProperty(&f.State, spec.Property, spec.Phaser.Value(applied.Phase))
			}
		}
	}
}

func setProperty(st *FixtureState, p Property, v uint8) {
	switch p {
	case PropBrightness:
		st.Alpha = v
	case PropColorHue:
		st.Color = HueToRGB(float64(v) * 360 / 256)
	case PropPan:
		st.Pan = v
	case PropTilt:
		st.Tilt = v
	case PropRotation:
		st.Rotation = v
	case PropStrobe:
		st.Strobe = v
	}
}
