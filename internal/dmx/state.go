package dmx

import (
	"fmt"
	"strings"
	"time"
)

// Selection is the set of selected groups, optionally limited to some
// fixtures. Fixtures are only ever limited while exactly one group is selected.
type Selection struct {
	GroupIDs        map[uint8]struct{}
	FixturesInGroup map[uint8]struct{}
}

func NewSelection() Selection {
	return Selection{GroupIDs: map[uint8]struct{}{}, FixturesInGroup: map[uint8]struct{}{}}
}

func (s Selection) IsEmpty() bool { return len(s.GroupIDs) == 0 }

func (s *Selection) Clear() {
	s.GroupIDs = map[uint8]struct{}{}
	s.FixturesInGroup = map[uint8]struct{}{}
}

func (s Selection) Clone() Selection {
	c := NewSelection()
	for id := range s.GroupIDs {
		c.GroupIDs[id] = struct{}{}
	}
	for id := range s.FixturesInGroup {
		c.FixturesInGroup[id] = struct{}{}
	}
	return c
}

// Groups returns the selected group ids in ascending order.
func (s Selection) Groups() []uint8 { return sortedKeys(s.GroupIDs) }

// Fixtures returns the limited fixture ids in ascending order.
func (s Selection) Fixtures() []uint8 { return sortedKeys(s.FixturesInGroup) }

// Equal compares both sets.
func (s Selection) Equal(o Selection) bool {
	return setEqual(s.GroupIDs, o.GroupIDs) && setEqual(s.FixturesInGroup, o.FixturesInGroup)
}

// only single-group selections may carry a fixture limit.
func (s *Selection) normalize() {
	if len(s.GroupIDs) != 1 && len(s.FixturesInGroup) > 0 {
		s.FixturesInGroup = map[uint8]struct{}{}
	}
}

func setEqual(a, b map[uint8]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Property is the fixture attribute an animation drives.
type Property uint8

const (
	PropBrightness Property = iota
	PropColorHue
	PropPan
	PropTilt
	PropRotation
	PropStrobe
)

var propertyNames = [...]string{"brightness", "color-hue", "pan", "tilt", "rotation", "strobe"}

func (p Property) String() string {
	if int(p) < len(propertyNames) {
		return propertyNames[p]
	}
	return fmt.Sprintf("property(%d)", uint8(p))
}

func ParseProperty(s string) (Property, error) {
	for i, n := range propertyNames {
		if strings.EqualFold(n, s) {
			return Property(i), nil
		}
	}
	return 0, fmt.Errorf("unknown animation property %q", s)
}

// AnimationSpec describes an animation fixtures can have applied.
type AnimationSpec struct {
	Name     string
	Property Property
	Phaser   Phaser
	Duration Duration
}

// State is the engine state. It is owned by the Engine and only mutated under
// its write lock.
type State struct {
	Groups         map[uint8]*Group
	Selection      Selection
	SelectionStack []Selection // top is the last element.
	ControlBuffer  FixtureState
	Animations     map[uint8]AnimationSpec
}

func NewState(groups map[uint8]*Group, animations map[uint8]AnimationSpec) *State {
	if groups == nil {
		groups = map[uint8]*Group{}
	}
	if animations == nil {
		animations = map[uint8]AnimationSpec{}
	}
	return &State{
		Groups:        groups,
		Selection:     NewSelection(),
		ControlBuffer: DefaultFixtureState(),
		Animations:    animations,
	}
}

// GroupIDs returns the group ids in ascending order.
func (s *State) GroupIDs() []uint8 { return sortedKeys(s.Groups) }

// Fixture looks up one fixture.
func (s *State) Fixture(group, fixture uint8) (*Fixture, bool) {
	g, ok := s.Groups[group]
	if !ok {
		return nil, false
	}
	f, ok := g.Fixtures[fixture]
	return f, ok
}

// Clone deep-copies everything mutable. Animation specs are shared.
func (s *State) Clone() *State {
	c := &State{
		Groups:        make(map[uint8]*Group, len(s.Groups)),
		Selection:     s.Selection.Clone(),
		ControlBuffer: s.ControlBuffer.clone(),
		Animations:    s.Animations,
	}
	for id, g := range s.Groups {
		c.Groups[id] = g.clone()
	}
	c.SelectionStack = make([]Selection, len(s.SelectionStack))
	for i, sel := range s.SelectionStack {
		c.SelectionStack[i] = sel.Clone()
	}
	return c
}

// FixtureRef addresses a fixture by group and fixture id.
type FixtureRef struct {
	Group   uint8
	Fixture uint8
}

// Resolve returns the fixtures the current selection targets.
func (s *State) Resolve() []FixtureRef {
	var out []FixtureRef
	for _, gid := range s.Selection.Groups() {
		g, ok := s.Groups[gid]
		if !ok {
			continue
		}
		if len(s.Selection.FixturesInGroup) == 0 {
			for _, fid := range g.FixtureIDs() {
				out = append(out, FixtureRef{gid, fid})
			}
			continue
		}
		for _, fid := range s.Selection.Fixtures() {
			if _, ok := g.Fixtures[fid]; ok {
				out = append(out, FixtureRef{gid, fid})
			}
		}
	}
	return out
}

// DefaultState is the built-in rig used when no patch file is configured.
func DefaultState() *State {
	mk := func(name string, model Model, addr int) *Fixture {
		f, err := NewFixture(name, model, addr)
		if err != nil {
			panic(err)
		}
		return f
	}
	groups := map[uint8]*Group{
		0: {Name: "Group 0", Fixtures: map[uint8]*Fixture{
			0: mk("G0 Head", MartinMacAura, 42),
			1: mk("G0 Wash", Generic3ChanNoAlpha, 69),
		}},
		1: {Name: "Group 1", Fixtures: map[uint8]*Fixture{0: mk("G1", MartinMacAura, 142)}},
		2: {Name: "Group 2", Fixtures: map[uint8]*Fixture{0: mk("G2", MartinMacAura, 169)}},
		3: {Name: "Group 3", Fixtures: map[uint8]*Fixture{0: mk("G3", MartinMacAura, 242)}},
	}
	animations := map[uint8]AnimationSpec{
		0: {
			Name:     "Brightness Animation 0",
			Property: PropBrightness,
			Phaser:   Phaser{Waveform: Sine, Stretch: 1, Min: 0, Max: 255},
			Duration: FixedDuration(time.Second),
		},
		1: {
			Name:     "Brightness Animation 1",
			Property: PropBrightness,
			Phaser:   Phaser{Waveform: EaseInOut, Stretch: 1, Min: 0, Max: 255},
			Duration: FixedDuration(time.Second),
		},
	}
	return NewState(groups, animations)
}
