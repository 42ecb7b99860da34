package dmx

import (
	"sync"
	"time"

	"blaulicht/internal/audio"
	"blaulicht/internal/event"
	"blaulicht/internal/logger"
	"blaulicht/internal/system"
)

// Reasons an event is rejected with.
const (
	ReasonAlreadySelected   = "Already selected"
	ReasonNotSelected       = "Not selected"
	ReasonIllegalGroup      = "Illegal group"
	ReasonIllegalFixture    = "Illegal fixture"
	ReasonIllegalAnimation  = "Illegal animation"
	ReasonExactlyOneGroup   = "Exactly 1 group shall be selected"
	ReasonPushEmpty         = "Push to empty selection"
	ReasonStackEmpty        = "Selection stack empty"
	ReasonNoSelectedObjects = "No selected object(s)"
	ReasonNoSelection       = "No selection"
	ReasonUnknownEvent      = "Unknown event"
)

// Outcome is the result of applying one event. An empty Reason means success.
// Compensate, when set, is sent back onto the bus so optimistic UIs can undo.
type Outcome struct {
	Reason     string
	Compensate *event.ControlEvent
}

func (o Outcome) Rejected() bool { return o.Reason != "" }

func reject(reason string) Outcome { return Outcome{Reason: reason} }

func rejectWith(reason string, ev event.ControlEvent) Outcome {
	return Outcome{Reason: reason, Compensate: &ev}
}

// Engine applies control events to the fixture state and renders the DMX
// output buffer.
type Engine struct {
	log  *logger.Log
	conn *event.Connection
	pub  *system.Publisher

	mu    sync.RWMutex
	state *State

	outMu    sync.RWMutex
	current  [UniverseSize]byte
	previous [UniverseSize]byte

	// serializes Tick; lastTick belongs to it.
	tickMu   sync.Mutex
	lastTick time.Time
}

// NewEngine creates an engine over state. conn and pub may be nil.
func NewEngine(log logger.Logger, state *State, conn *event.Connection, pub *system.Publisher) *Engine {
	if state == nil {
		state = DefaultState()
	}
	return &Engine{
		log:   log.With(logger.Fields{"module": "engine"}),
		conn:  conn,
		pub:   pub,
		state: state,
	}
}

// View runs fn with the state under the read lock. fn must not keep references.
func (e *Engine) View(fn func(s *State)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state)
}

// Snapshot returns a deep copy of the state.
func (e *Engine) Snapshot() *State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Output returns a copy of the last rendered buffer.
func (e *Engine) Output() [UniverseSize]byte {
	e.outMu.RLock()
	defer e.outMu.RUnlock()
	return e.current
}

// Apply applies one message under its own write lock.
func (e *Engine) Apply(msg event.Message) Outcome {
	if msg.Originator == event.OriginDmxEngine {
		return Outcome{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return apply(e.state, msg.Body)
}

// Tick drains the bus, applies every pending event, advances animations and
// re-renders. It reports whether the output buffer changed.
func (e *Engine) Tick(now time.Time, snap audio.Snapshot) bool {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.conn != nil {
		for _, msg := range e.conn.Drain() {
			e.handle(msg)
		}
	}

	var dt time.Duration
	if !e.lastTick.IsZero() {
		dt = now.Sub(e.lastTick)
	}
	e.lastTick = now
	e.animate(dt, snap)

	return e.render()
}

func (e *Engine) handle(msg event.Message) {
	if msg.Originator == event.OriginDmxEngine {
		return
	}
	out := e.Apply(msg)
	if !out.Rejected() {
		return
	}
	e.log.Debugf("%s rejected: %s", msg, out.Reason)
	if e.pub != nil {
		e.pub.Logf("[engine] %s: %s", msg.Body, out.Reason)
	}
	if out.Compensate != nil && e.conn != nil {
		if !e.conn.TrySend(event.NewMessage(event.OriginDmxEngine, *out.Compensate)) {
			e.log.Warnf("bus full, compensation %s dropped", out.Compensate)
		}
	}
}

func (e *Engine) render() bool {
	var scratch [UniverseSize]byte
	e.mu.RLock()
	for _, gid := range e.state.GroupIDs() {
		g := e.state.Groups[gid]
		for _, fid := range g.FixtureIDs() {
			g.Fixtures[fid].Write(scratch[:])
		}
	}
	e.mu.RUnlock()

	e.outMu.Lock()
	defer e.outMu.Unlock()
	e.previous = e.current
	e.current = scratch
	return e.current != e.previous
}

func apply(s *State, ev event.ControlEvent) Outcome {
	requires := ev.RequiresSelection()
	if requires && s.Selection.IsEmpty() {
		return reject(ReasonNoSelectedObjects)
	}
	if !requires && ev.Kind != event.KindMisc && ev.Kind != event.KindTransaction {
		s.ControlBuffer = DefaultFixtureState()
	}

	switch ev.Kind {
	case event.KindSelectGroup:
		if _, ok := s.Groups[ev.Group]; !ok {
			return rejectWith(ReasonIllegalGroup, event.DeSelectGroup(ev.Group))
		}
		if _, ok := s.Selection.GroupIDs[ev.Group]; ok {
			return reject(ReasonAlreadySelected)
		}
		s.Selection.GroupIDs[ev.Group] = struct{}{}
		s.Selection.normalize()

	case event.KindDeSelectGroup:
		if _, ok := s.Groups[ev.Group]; !ok {
			return rejectWith(ReasonIllegalGroup, event.DeSelectGroup(ev.Group))
		}
		if _, ok := s.Selection.GroupIDs[ev.Group]; !ok {
			return reject(ReasonNotSelected)
		}
		delete(s.Selection.GroupIDs, ev.Group)
		s.Selection.normalize()

	case event.KindLimitSelection:
		unlimit := event.UnlimitSelectionToFixtureInCurrentGroup(ev.Fixture)
		if len(s.Selection.GroupIDs) != 1 {
			return rejectWith(ReasonExactlyOneGroup, unlimit)
		}
		gid := s.Selection.Groups()[0]
		if _, ok := s.Groups[gid].Fixtures[ev.Fixture]; !ok {
			return rejectWith(ReasonIllegalFixture, unlimit)
		}
		if _, ok := s.Selection.FixturesInGroup[ev.Fixture]; ok {
			return reject(ReasonAlreadySelected)
		}
		s.Selection.FixturesInGroup[ev.Fixture] = struct{}{}

	case event.KindUnlimitSelection:
		if len(s.Selection.GroupIDs) != 1 {
			return reject(ReasonExactlyOneGroup)
		}
		if _, ok := s.Selection.FixturesInGroup[ev.Fixture]; !ok {
			return reject(ReasonNotSelected)
		}
		delete(s.Selection.FixturesInGroup, ev.Fixture)

	case event.KindRemoveSelection:
		switch {
		case len(s.Selection.FixturesInGroup) > 0:
			s.Selection.FixturesInGroup = map[uint8]struct{}{}
		case !s.Selection.IsEmpty():
			s.Selection.Clear()
		default:
			return reject(ReasonNoSelection)
		}

	case event.KindRemoveAllSelection:
		s.Selection.Clear()

	case event.KindPushSelection:
		topEmpty := len(s.SelectionStack) == 0 || s.SelectionStack[len(s.SelectionStack)-1].IsEmpty()
		if s.Selection.IsEmpty() && topEmpty {
			return reject(ReasonPushEmpty)
		}
		s.SelectionStack = append(s.SelectionStack, s.Selection.Clone())
		s.Selection.Clear()

	case event.KindPopSelection:
		n := len(s.SelectionStack)
		if n == 0 {
			return reject(ReasonStackEmpty)
		}
		s.Selection = s.SelectionStack[n-1]
		s.SelectionStack = s.SelectionStack[:n-1]

	case event.KindSetEnabled, event.KindSetBrightness, event.KindSetColor:
		for _, ref := range s.Resolve() {
			f, _ := s.Fixture(ref.Group, ref.Fixture)
			applyFixture(&f.State, ev)
		}
		applyFixture(&s.ControlBuffer, ev)

	case event.KindAddAnimation, event.KindRemoveAnimation, event.KindResetAnimation,
		event.KindPauseAnimation, event.KindPlayAnimation, event.KindSetAnimationSpeed:
		if _, ok := s.Animations[ev.Animation]; !ok {
			return reject(ReasonIllegalAnimation)
		}
		for _, ref := range s.Resolve() {
			f, _ := s.Fixture(ref.Group, ref.Fixture)
			applyFixture(&f.State, ev)
		}
		applyFixture(&s.ControlBuffer, ev)

	case event.KindMisc:
		// Plugin-to-plugin traffic, nothing to do here.

	case event.KindTransaction:
		scratch := s.Clone()
		for _, child := range ev.Events {
			if out := apply(scratch, child); out.Rejected() {
				return out
			}
		}
		*s = *scratch

	default:
		return reject(ReasonUnknownEvent)
	}
	return Outcome{}
}

func applyFixture(st *FixtureState, ev event.ControlEvent) {
	switch ev.Kind {
	case event.KindSetEnabled:
		st.Enabled = ev.Enabled
	case event.KindSetBrightness:
		st.Alpha = ev.Value
	case event.KindSetColor:
		st.Color = ev.Color
	case event.KindAddAnimation:
		if st.Animations == nil {
			st.Animations = map[uint8]*AppliedAnimation{}
		}
		st.Animations[ev.Animation] = &AppliedAnimation{Speed: event.SpeedNormal}
	case event.KindRemoveAnimation:
		delete(st.Animations, ev.Animation)
	case event.KindResetAnimation:
		if a, ok := st.Animations[ev.Animation]; ok {
			a.Phase = 0
		}
	case event.KindPauseAnimation:
		if a, ok := st.Animations[ev.Animation]; ok {
			a.Enabled = false
		}
	case event.KindPlayAnimation:
		if a, ok := st.Animations[ev.Animation]; ok {
			a.Enabled = true
		}
	case event.KindSetAnimationSpeed:
		if a, ok := st.Animations[ev.Animation]; ok {
			a.Speed = ev.Speed
		}
	}
}
