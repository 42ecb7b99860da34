package dmx

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"blaulicht/internal/event"
)

// Patch is the YAML document describing the rig.
type Patch struct {
	Groups     []PatchGroup     `yaml:"groups"`
	Animations []PatchAnimation `yaml:"animations"`
}

type PatchGroup struct {
	ID       uint8          `yaml:"id"`
	Name     string         `yaml:"name"`
	Fixtures []PatchFixture `yaml:"fixtures"`
}

type PatchFixture struct {
	ID      uint8  `yaml:"id"`
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	Address int    `yaml:"address"`
}

type PatchAnimation struct {
	ID         uint8   `yaml:"id"`
	Name       string  `yaml:"name"`
	Property   string  `yaml:"property"`
	Waveform   string  `yaml:"waveform"`
	Stretch    float64 `yaml:"stretch"`
	Min        uint8   `yaml:"min"`
	Max        uint8   `yaml:"max"`
	DurationMs int     `yaml:"duration-ms"`
	Beats      float64 `yaml:"beats"` // power of two between 1/16 and 8, overrides duration-ms.
}

// LoadPatch reads a patch file. An empty path yields the built-in rig.
func LoadPatch(path string) (*State, error) {
	if path == "" {
		return DefaultState(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch: %w", err)
	}
	return ParsePatch(b)
}

// ParsePatch decodes and validates a YAML patch.
func ParsePatch(b []byte) (*State, error) {
	var p Patch
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	return p.Build()
}

// Build validates the patch and produces an engine state.
func (p Patch) Build() (*State, error) {
	groups := make(map[uint8]*Group, len(p.Groups))
	var used [UniverseSize]string
	for _, pg := range p.Groups {
		if _, dup := groups[pg.ID]; dup {
			return nil, fmt.Errorf("duplicate group id %d", pg.ID)
		}
		g := &Group{Name: pg.Name, Fixtures: make(map[uint8]*Fixture, len(pg.Fixtures))}
		for _, pf := range pg.Fixtures {
			if _, dup := g.Fixtures[pf.ID]; dup {
				return nil, fmt.Errorf("group %d: duplicate fixture id %d", pg.ID, pf.ID)
			}
			model, err := ParseModel(pf.Model)
			if err != nil {
				return nil, fmt.Errorf("group %d fixture %d: %w", pg.ID, pf.ID, err)
			}
			f, err := NewFixture(pf.Name, model, pf.Address)
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", pg.ID, err)
			}
			for ch := pf.Address; ch < pf.Address+model.Layout().Footprint; ch++ {
				if used[ch] != "" {
					return nil, fmt.Errorf("%w: %q overlaps %q at channel %d", ErrAddressRange, pf.Name, used[ch], ch)
				}
				used[ch] = pf.Name
			}
			g.Fixtures[pf.ID] = f
		}
		groups[pg.ID] = g
	}

	animations := make(map[uint8]AnimationSpec, len(p.Animations))
	for _, pa := range p.Animations {
		if _, dup := animations[pa.ID]; dup {
			return nil, fmt.Errorf("duplicate animation id %d", pa.ID)
		}
		spec, err := pa.spec()
		if err != nil {
			return nil, fmt.Errorf("animation %d: %w", pa.ID, err)
		}
		animations[pa.ID] = spec
	}
	return NewState(groups, animations), nil
}

func (pa PatchAnimation) spec() (AnimationSpec, error) {
	prop, err := ParseProperty(pa.Property)
	if err != nil {
		return AnimationSpec{}, err
	}
	wave, err := ParseWaveform(pa.Waveform)
	if err != nil {
		return AnimationSpec{}, err
	}
	stretch := pa.Stretch
	if stretch == 0 {
		stretch = 1
	}
	spec := AnimationSpec{
		Name:     pa.Name,
		Property: prop,
		Phaser:   Phaser{Waveform: wave, Stretch: stretch, Min: pa.Min, Max: pa.Max},
	}
	switch {
	case pa.Beats > 0:
		exp := math.Log2(pa.Beats)
		mod := event.SpeedModifier(math.Round(exp))
		if exp != math.Round(exp) || !mod.Valid() {
			return AnimationSpec{}, fmt.Errorf("beats %v is not a power of two between 1/16 and 8", pa.Beats)
		}
		spec.Duration = BeatDuration(mod)
	case pa.DurationMs > 0:
		spec.Duration = FixedDuration(time.Duration(pa.DurationMs) * time.Millisecond)
	default:
		return AnimationSpec{}, errors.New("either duration-ms or beats is required")
	}
	return spec, nil
}
