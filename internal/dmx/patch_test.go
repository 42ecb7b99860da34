package dmx

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"blaulicht/internal/event"
)

const testPatch = `
groups:
  - id: 0
    name: front
    fixtures:
      - {id: 0, name: wash, model: generic-4chan, address: 1}
      - {id: 1, name: spot, model: led-party-tcl-spot, address: 5}
  - id: 7
    name: back
    fixtures:
      - {id: 0, name: head, model: martin-mac-aura, address: 499}
animations:
  - {id: 0, name: pulse, property: brightness, waveform: sine, min: 10, max: 200, duration-ms: 800}
  - {id: 3, name: sweep, property: pan, waveform: triangle, max: 255, beats: 0.25}
`

func TestParsePatch(t *testing.T) {
	st, err := ParsePatch([]byte(testPatch))
	if err != nil {
		t.Fatal(err)
	}
	if got := st.GroupIDs(); len(got) != 2 || got[0] != 0 || got[1] != 7 {
		t.Fatalf("groups %v", got)
	}
	f, ok := st.Fixture(7, 0)
	if !ok || f.Model != MartinMacAura || f.State.StartAddr != 499 {
		t.Fatalf("fixture %+v", f)
	}
	if a := st.Animations[0]; a.Duration.Beat || a.Duration.Fixed != 800*time.Millisecond || a.Phaser.Stretch != 1 {
		t.Fatalf("animation 0 %+v", a)
	}
	if a := st.Animations[3]; !a.Duration.Beat || a.Duration.Beats != event.SpeedQuarter || a.Property != PropPan {
		t.Fatalf("animation 3 %+v", a)
	}
}

func TestPatchRejectsOverflowAndOverlap(t *testing.T) {
	overflow := `
groups:
  - id: 0
    fixtures:
      - {id: 0, name: late, model: martin-mac-aura, address: 500}
`
	if _, err := ParsePatch([]byte(overflow)); !errors.Is(err, ErrAddressRange) {
		t.Fatalf("expected ErrAddressRange, got %v", err)
	}
	overlap := `
groups:
  - id: 0
    fixtures:
      - {id: 0, name: a, model: generic-3chan, address: 10}
      - {id: 1, name: b, model: generic-3chan, address: 12}
`
	if _, err := ParsePatch([]byte(overlap)); !errors.Is(err, ErrAddressRange) {
		t.Fatalf("expected ErrAddressRange, got %v", err)
	}
}

func TestPatchRejectsBadAnimation(t *testing.T) {
	cases := map[string]string{
		"beats":    `animations: [{id: 0, property: pan, waveform: sine, beats: 3}]`,
		"duration": `animations: [{id: 0, property: pan, waveform: sine}]`,
		"property": `animations: [{id: 0, property: zoom, waveform: sine, duration-ms: 10}]`,
		"model":    `groups: [{id: 0, fixtures: [{id: 0, model: laser, address: 1}]}]`,
	}
	for name, doc := range cases {
		if _, err := ParsePatch([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadPatchDefaultsToBuiltinRig(t *testing.T) {
	st, err := LoadPatch("")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Groups) != 4 || len(st.Animations) != 2 {
		t.Fatalf("built-in rig has %d groups, %d animations", len(st.Groups), len(st.Animations))
	}

	path := filepath.Join(t.TempDir(), "patch.yaml")
	if err := os.WriteFile(path, []byte(testPatch), 0o600); err != nil {
		t.Fatal(err)
	}
	if st, err = LoadPatch(path); err != nil || len(st.Groups) != 2 {
		t.Fatalf("load patch: %v", err)
	}
}

func TestFixtureLayouts(t *testing.T) {
	tests := []struct {
		model Model
		want  map[int]uint8
	}{
		{Generic3ChanNoAlpha, map[int]uint8{10: 1, 11: 2, 12: 3}},
		{Generic4ChanWithAlpha, map[int]uint8{10: 9, 11: 1, 12: 2, 13: 3}},
		{LEDPartyTCLSpot, map[int]uint8{10: 1, 11: 2, 12: 3, 13: 9, 14: 7}},
		{Generic1ChanDimmer, map[int]uint8{10: 9}},
		{MartinMacAura, map[int]uint8{10: 7, 11: 9, 13: 4, 15: 5, 19: 1, 20: 2, 21: 3}},
	}
	for _, tc := range tests {
		f, err := NewFixture("x", tc.model, 10)
		if err != nil {
			t.Fatal(err)
		}
		f.State.Color = event.Color{R: 1, G: 2, B: 3}
		f.State.Alpha = 9
		f.State.Strobe = 7
		f.State.Pan = 4
		f.State.Tilt = 5
		var buf [UniverseSize]byte
		f.Write(buf[:])
		for ch, v := range tc.want {
			if buf[ch] != v {
				t.Errorf("%s: channel %d = %d, want %d", tc.model, ch, buf[ch], v)
			}
		}
		if buf[0] != 0 {
			t.Errorf("%s: start code overwritten", tc.model)
		}
	}
}

func TestShippedPatchLoads(t *testing.T) {
	s, err := LoadPatch("../../configs/patch.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Groups) != 4 || len(s.Animations) != 4 {
		t.Fatalf("groups %d, animations %d", len(s.Groups), len(s.Animations))
	}
	if _, ok := s.Fixture(3, 1); !ok {
		t.Fatal("back dimmer missing")
	}
}
