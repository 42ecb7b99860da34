// Package event defines the control events exchanged between the operator
// surfaces, the plugin runtime and the DMX engine, and the bus that carries them.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of a ControlEvent.
type Kind uint8

const (
	KindInvalid Kind = iota
	// Selection.
	KindSelectGroup
	KindDeSelectGroup
	KindLimitSelection
	KindUnlimitSelection
	KindRemoveSelection
	KindRemoveAllSelection
	KindPushSelection
	KindPopSelection
	// Fixtures.
	KindSetEnabled
	KindSetBrightness
	KindSetColor
	// Animations.
	KindAddAnimation
	KindRemoveAnimation
	KindResetAnimation
	KindPauseAnimation
	KindPlayAnimation
	KindSetAnimationSpeed
	// Other.
	KindMisc
	KindTransaction

	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid:            "invalid",
	KindSelectGroup:        "select-group",
	KindDeSelectGroup:      "deselect-group",
	KindLimitSelection:     "limit-selection",
	KindUnlimitSelection:   "unlimit-selection",
	KindRemoveSelection:    "remove-selection",
	KindRemoveAllSelection: "remove-all-selection",
	KindPushSelection:      "push-selection",
	KindPopSelection:       "pop-selection",
	KindSetEnabled:         "set-enabled",
	KindSetBrightness:      "set-brightness",
	KindSetColor:           "set-color",
	KindAddAnimation:       "add-animation",
	KindRemoveAnimation:    "remove-animation",
	KindResetAnimation:     "reset-animation",
	KindPauseAnimation:     "pause-animation",
	KindPlayAnimation:      "play-animation",
	KindSetAnimationSpeed:  "set-animation-speed",
	KindMisc:               "misc",
	KindTransaction:        "transaction",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	return k > KindInvalid && k < kindCount
}

// MarshalJSON encodes the kind by name so MQTT payloads stay readable.
// The plugin wire format keeps the numeric value.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		var n uint8
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return err
		}
		*k = Kind(n)
		return nil
	}
	for i, kn := range kindNames {
		if kn == name {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Color is an RGB triple.
type Color struct {
	R uint8 `msgpack:"r" json:"r"`
	G uint8 `msgpack:"g" json:"g"`
	B uint8 `msgpack:"b" json:"b"`
}

// SpeedModifier scales an animation by a power of two: -4 is 1/16x, 0 is 1x, 3 is 8x.
type SpeedModifier int8

const (
	SpeedSixteenth SpeedModifier = -4
	SpeedEighth    SpeedModifier = -3
	SpeedQuarter   SpeedModifier = -2
	SpeedHalf      SpeedModifier = -1
	SpeedNormal    SpeedModifier = 0
	SpeedDouble    SpeedModifier = 1
	SpeedQuadruple SpeedModifier = 2
	SpeedOctuple   SpeedModifier = 3
)

// Valid reports whether the modifier is inside 1/16x .. 8x.
func (s SpeedModifier) Valid() bool {
	return s >= SpeedSixteenth && s <= SpeedOctuple
}

// Factor returns the multiplier.
func (s SpeedModifier) Factor() float64 {
	if s >= 0 {
		return float64(uint(1) << uint(s))
	}
	return 1 / float64(uint(1)<<uint(-s))
}

func (s SpeedModifier) String() string {
	if s >= 0 {
		return fmt.Sprintf("%dx", 1<<uint(s))
	}
	return fmt.Sprintf("1/%dx", 1<<uint(-s))
}

// ControlEvent is a flat tagged union: Kind selects which of the payload fields
// are meaningful.
type ControlEvent struct {
	Kind       Kind           `msgpack:"kind" json:"kind"`
	Group      uint8          `msgpack:"group,omitempty" json:"group,omitempty"`
	Fixture    uint8          `msgpack:"fixture,omitempty" json:"fixture,omitempty"`
	Enabled    bool           `msgpack:"enabled,omitempty" json:"enabled,omitempty"`
	Value      uint8          `msgpack:"value,omitempty" json:"value,omitempty"`
	Color      Color          `msgpack:"color,omitempty" json:"color,omitempty"`
	Animation  uint8          `msgpack:"animation,omitempty" json:"animation,omitempty"`
	Speed      SpeedModifier  `msgpack:"speed,omitempty" json:"speed,omitempty"`
	Descriptor uint8          `msgpack:"descriptor,omitempty" json:"descriptor,omitempty"`
	Events     []ControlEvent `msgpack:"events,omitempty" json:"events,omitempty"`
}

func SelectGroup(id uint8) ControlEvent   { return ControlEvent{Kind: KindSelectGroup, Group: id} }
func DeSelectGroup(id uint8) ControlEvent { return ControlEvent{Kind: KindDeSelectGroup, Group: id} }

func LimitSelectionToFixtureInCurrentGroup(id uint8) ControlEvent {
	return ControlEvent{Kind: KindLimitSelection, Fixture: id}
}

func UnlimitSelectionToFixtureInCurrentGroup(id uint8) ControlEvent {
	return ControlEvent{Kind: KindUnlimitSelection, Fixture: id}
}

func RemoveSelection() ControlEvent    { return ControlEvent{Kind: KindRemoveSelection} }
func RemoveAllSelection() ControlEvent { return ControlEvent{Kind: KindRemoveAllSelection} }
func PushSelection() ControlEvent      { return ControlEvent{Kind: KindPushSelection} }
func PopSelection() ControlEvent       { return ControlEvent{Kind: KindPopSelection} }

func SetEnabled(enabled bool) ControlEvent {
	return ControlEvent{Kind: KindSetEnabled, Enabled: enabled}
}
func SetBrightness(v uint8) ControlEvent { return ControlEvent{Kind: KindSetBrightness, Value: v} }
func SetColor(c Color) ControlEvent      { return ControlEvent{Kind: KindSetColor, Color: c} }

func AddAnimation(id uint8) ControlEvent { return ControlEvent{Kind: KindAddAnimation, Animation: id} }
func RemoveAnimation(id uint8) ControlEvent {
	return ControlEvent{Kind: KindRemoveAnimation, Animation: id}
}
func ResetAnimation(id uint8) ControlEvent {
	return ControlEvent{Kind: KindResetAnimation, Animation: id}
}
func PauseAnimation(id uint8) ControlEvent {
	return ControlEvent{Kind: KindPauseAnimation, Animation: id}
}
func PlayAnimation(id uint8) ControlEvent {
	return ControlEvent{Kind: KindPlayAnimation, Animation: id}
}

func SetAnimationSpeed(id uint8, speed SpeedModifier) ControlEvent {
	return ControlEvent{Kind: KindSetAnimationSpeed, Animation: id, Speed: speed}
}

func MiscEvent(descriptor, value uint8) ControlEvent {
	return ControlEvent{Kind: KindMisc, Descriptor: descriptor, Value: value}
}

func Transaction(events ...ControlEvent) ControlEvent {
	return ControlEvent{Kind: KindTransaction, Events: events}
}

// RequiresSelection reports whether the event only makes sense with an active selection.
func (e ControlEvent) RequiresSelection() bool {
	switch e.Kind {
	case KindSetEnabled, KindSetBrightness, KindSetColor,
		KindAddAnimation, KindRemoveAnimation, KindResetAnimation,
		KindPauseAnimation, KindPlayAnimation, KindSetAnimationSpeed:
		return true
	}
	return false
}

// Clone returns a deep copy; transactions own their children.
func (e ControlEvent) Clone() ControlEvent {
	if e.Events == nil {
		return e
	}
	children := make([]ControlEvent, len(e.Events))
	for i, c := range e.Events {
		children[i] = c.Clone()
	}
	e.Events = children
	return e
}

func (e ControlEvent) String() string {
	switch e.Kind {
	case KindSelectGroup, KindDeSelectGroup:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Group)
	case KindLimitSelection, KindUnlimitSelection:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Fixture)
	case KindSetEnabled:
		return fmt.Sprintf("%s(%t)", e.Kind, e.Enabled)
	case KindSetBrightness:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Value)
	case KindSetColor:
		return fmt.Sprintf("%s(%d,%d,%d)", e.Kind, e.Color.R, e.Color.G, e.Color.B)
	case KindAddAnimation, KindRemoveAnimation, KindResetAnimation, KindPauseAnimation, KindPlayAnimation:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Animation)
	case KindSetAnimationSpeed:
		return fmt.Sprintf("%s(%d, %s)", e.Kind, e.Animation, e.Speed)
	case KindMisc:
		return fmt.Sprintf("%s(%d=%d)", e.Kind, e.Descriptor, e.Value)
	case KindTransaction:
		return fmt.Sprintf("%s[%d]", e.Kind, len(e.Events))
	}
	return e.Kind.String()
}

// Originator tags which subsystem produced a message.
type Originator uint8

const (
	OriginWeb Originator = iota
	OriginPlugin
	OriginDmxEngine
)

func (o Originator) String() string {
	switch o {
	case OriginWeb:
		return "web"
	case OriginPlugin:
		return "plugin"
	case OriginDmxEngine:
		return "dmx-engine"
	}
	return fmt.Sprintf("originator(%d)", uint8(o))
}

// Message is a ControlEvent on the bus.
type Message struct {
	Originator Originator
	Body       ControlEvent
}

func NewMessage(origin Originator, body ControlEvent) Message {
	return Message{Originator: origin, Body: body}
}

func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Originator, m.Body)
}
