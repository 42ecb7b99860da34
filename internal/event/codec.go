package event

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownKind    = errors.New("unknown control event kind")
	ErrInvalidSpeed   = errors.New("animation speed out of range")
	ErrNestingTooDeep = errors.New("transaction nesting too deep")
)

// MaxTransactionDepth bounds nested transactions accepted from plugins and MQTT.
const MaxTransactionDepth = 4

// Encode serializes a single event into the plugin wire format (msgpack map).
func Encode(ev ControlEvent) ([]byte, error) {
	return msgpack.Marshal(&ev)
}

// Decode parses and validates an event produced by a plugin.
func Decode(b []byte) (ControlEvent, error) {
	var ev ControlEvent
	if err := msgpack.Unmarshal(b, &ev); err != nil {
		return ControlEvent{}, fmt.Errorf("decode control event: %w", err)
	}
	if err := Validate(ev); err != nil {
		return ControlEvent{}, err
	}
	return ev, nil
}

// EncodeBatch serializes the events handed to plugins on every tick.
func EncodeBatch(events []ControlEvent) ([]byte, error) {
	if events == nil {
		events = []ControlEvent{}
	}
	return msgpack.Marshal(events)
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(b []byte) ([]ControlEvent, error) {
	var events []ControlEvent
	if err := msgpack.Unmarshal(b, &events); err != nil {
		return nil, fmt.Errorf("decode control events: %w", err)
	}
	return events, nil
}

// Validate checks kinds, speed ranges and transaction depth.
func Validate(ev ControlEvent) error {
	return validate(ev, 0)
}

func validate(ev ControlEvent, depth int) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(ev.Kind))
	}
	if ev.Kind == KindSetAnimationSpeed && !ev.Speed.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSpeed, ev.Speed)
	}
	if ev.Kind != KindTransaction {
		return nil
	}
	if depth >= MaxTransactionDepth {
		return ErrNestingTooDeep
	}
	for _, child := range ev.Events {
		if err := validate(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}
