package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRequiresSelection(t *testing.T) {
	needs := []ControlEvent{
		SetEnabled(true), SetBrightness(10), SetColor(Color{R: 1}),
		AddAnimation(1), RemoveAnimation(1), ResetAnimation(1),
		PauseAnimation(1), PlayAnimation(1), SetAnimationSpeed(1, SpeedDouble),
	}
	for _, ev := range needs {
		if !ev.RequiresSelection() {
			t.Errorf("%s: expected to require selection", ev)
		}
	}
	free := []ControlEvent{
		SelectGroup(1), DeSelectGroup(1), LimitSelectionToFixtureInCurrentGroup(1),
		UnlimitSelectionToFixtureInCurrentGroup(1), RemoveSelection(), RemoveAllSelection(),
		PushSelection(), PopSelection(), MiscEvent(1, 2), Transaction(SetBrightness(1)),
	}
	for _, ev := range free {
		if ev.RequiresSelection() {
			t.Errorf("%s: expected not to require selection", ev)
		}
	}
}

func TestSpeedModifierFactor(t *testing.T) {
	cases := map[SpeedModifier]float64{
		SpeedSixteenth: 1.0 / 16,
		SpeedHalf:      0.5,
		SpeedNormal:    1,
		SpeedOctuple:   8,
	}
	for s, want := range cases {
		if got := s.Factor(); got != want {
			t.Errorf("%s: got %v want %v", s, got, want)
		}
	}
	if SpeedModifier(4).Valid() || SpeedModifier(-5).Valid() {
		t.Error("modifiers outside 1/16x..8x must be invalid")
	}
}

func TestCodecTransaction(t *testing.T) {
	in := Transaction(SelectGroup(2), SetColor(Color{R: 255, G: 10}), SetAnimationSpeed(3, SpeedQuarter))
	b, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindTransaction || len(out.Events) != 3 {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if out.Events[1].Color != (Color{R: 255, G: 10}) || out.Events[2].Speed != SpeedQuarter {
		t.Fatalf("payload lost: %+v", out.Events)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	b, _ := Encode(ControlEvent{Kind: Kind(200)})
	if _, err := Decode(b); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	b, _ = Encode(SetAnimationSpeed(1, SpeedModifier(9)))
	if _, err := Decode(b); !errors.Is(err, ErrInvalidSpeed) {
		t.Fatalf("expected ErrInvalidSpeed, got %v", err)
	}
	deep := SetBrightness(1)
	for i := 0; i <= MaxTransactionDepth; i++ {
		deep = Transaction(deep)
	}
	b, _ = Encode(deep)
	if _, err := Decode(b); !errors.Is(err, ErrNestingTooDeep) {
		t.Fatalf("expected ErrNestingTooDeep, got %v", err)
	}
}

func TestJSONUsesKindNames(t *testing.T) {
	b, err := json.Marshal(SelectGroup(3))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"kind":"select-group","group":3,"color":{"r":0,"g":0,"b":0}}` {
		t.Fatalf("unexpected json %s", b)
	}
	var ev ControlEvent
	if err := json.Unmarshal([]byte(`{"kind":"set-brightness","value":200}`), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != KindSetBrightness || ev.Value != 200 {
		t.Fatalf("got %+v", ev)
	}
	if err := json.Unmarshal([]byte(`{"kind":"nope"}`), &ev); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
