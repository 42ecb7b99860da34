package dmx

// Highlight is how a fixture is marked in a selection view.
type Highlight uint8

const (
	HighlightOff Highlight = iota
	// HighlightCascading: the fixture's group is selected without a limit.
	HighlightCascading
	// HighlightLimited: the fixture is explicitly limited in its group.
	HighlightLimited
)

func (h Highlight) String() string {
	switch h {
	case HighlightCascading:
		return "cascading"
	case HighlightLimited:
		return "limited"
	}
	return "off"
}

// Highlight derives the mark of one fixture from the current selection.
func (s *State) Highlight(ref FixtureRef) Highlight {
	if _, ok := s.Selection.GroupIDs[ref.Group]; !ok {
		return HighlightOff
	}
	if len(s.Selection.FixturesInGroup) == 0 {
		return HighlightCascading
	}
	if _, ok := s.Selection.FixturesInGroup[ref.Fixture]; ok {
		return HighlightLimited
	}
	return HighlightOff
}

// Highlights marks every patched fixture.
func (s *State) Highlights() map[FixtureRef]Highlight {
	out := make(map[FixtureRef]Highlight)
	for gid, g := range s.Groups {
		for fid := range g.Fixtures {
			ref := FixtureRef{Group: gid, Fixture: fid}
			out[ref] = s.Highlight(ref)
		}
	}
	return out
}
