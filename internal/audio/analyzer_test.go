package audio

import (
	"math"
	"testing"
	"time"

	"blaulicht/internal/logger"
)

const frameStep = 5 * time.Millisecond

func newTestAnalyzer(out chan<- Signal) *Analyzer {
	return NewAnalyzer(logger.NewDiscard(), out, NewCollector(), DefaultBassModifier, DefaultPublishInterval)
}

func frame(volume float32) []Frequency {
	return []Frequency{{Volume: volume, Freq: 60}}
}

// feedPulse sends a bass level of 30 with a 200 spike every period.
func feedPulse(a *Analyzer, start time.Time, period time.Duration, frames int) time.Time {
	now := start
	for i := 0; i < frames; i++ {
		v := float32(0.3)
		if now.Sub(start)%period == 0 {
			v = 2.0
		}
		a.Process(now, frame(v))
		now = now.Add(frameStep)
	}
	return now
}

func TestBpmConvergesToPulsePeriod(t *testing.T) {
	cases := []struct {
		period time.Duration
		want   uint8
	}{
		{400 * time.Millisecond, 150},
		{500 * time.Millisecond, 120},
		{600 * time.Millisecond, 100},
	}
	for _, tc := range cases {
		t.Run(tc.period.String(), func(t *testing.T) {
			a := newTestAnalyzer(nil)
			feedPulse(a, time.Unix(1000, 0), tc.period, 14000)
			snap := a.Collector().Snapshot()
			if snap.Bpm != tc.want {
				t.Fatalf("bpm %d, want %d", snap.Bpm, tc.want)
			}
			if want := uint16(tc.period.Milliseconds()); snap.TimeBetweenBeatsMs != want {
				t.Fatalf("time between beats %d, want %d", snap.TimeBetweenBeatsMs, want)
			}
		})
	}
}

func TestSilenceYieldsZeroBpm(t *testing.T) {
	a := newTestAnalyzer(nil)
	now := time.Unix(1000, 0)
	for i := 0; i < BassFrames; i++ {
		a.Process(now, frame(0.1))
		now = now.Add(frameStep)
	}
	snap := a.Collector().Snapshot()
	if snap.Bpm != 0 {
		t.Fatalf("bpm %d, want 0", snap.Bpm)
	}
	if snap.Bass != 10 {
		t.Fatalf("bass %d, want 10", snap.Bass)
	}
	if snap.BassAvgShort != 0 {
		t.Fatalf("bass avg short %d, want 0", snap.BassAvgShort)
	}
}

func TestBassAverageRampsOverCapacity(t *testing.T) {
	a := newTestAnalyzer(nil)
	now := time.Unix(1000, 0)
	for i := 0; i < BassFrames/2; i++ {
		a.Process(now, frame(1.0))
		now = now.Add(frameStep)
	}
	if got := a.Collector().Snapshot().BassAvg; got != 50 {
		t.Fatalf("bass avg after half a ring %d, want 50", got)
	}
}

func TestPeaksAreDebounced(t *testing.T) {
	a := newTestAnalyzer(nil)
	now := feedPulse(a, time.Unix(1000, 0), 500*time.Millisecond, 12000)
	before := len(a.peaks)
	// Spikes 100ms apart: only the first may count.
	for i := 0; i < 3; i++ {
		a.Process(now, frame(2.0))
		now = now.Add(100 * time.Millisecond)
	}
	if got := len(a.peaks) - before; got > 1 {
		t.Fatalf("%d peaks recorded inside the debounce window", got)
	}
}

func TestBassAvgShortHoldsAfterPeak(t *testing.T) {
	a := newTestAnalyzer(nil)
	feedPulse(a, time.Unix(1000, 0), 500*time.Millisecond, 12000)
	last := a.peaks[len(a.peaks)-1]
	a.Process(last.Add(50*time.Millisecond), frame(0.3))
	if got := a.Collector().Snapshot().BassAvgShort; got != math.MaxUint8 {
		t.Fatalf("bass avg short %d within hold, want 255", got)
	}
}

func TestBeatVolumeEmittedOnChangeOnly(t *testing.T) {
	out := make(chan Signal, 1024)
	a := newTestAnalyzer(out)
	now := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		a.Process(now, frame(0.5))
		now = now.Add(time.Second)
	}
	a.Process(now, frame(1.0))

	var beats []Signal
	for len(out) > 0 {
		if s := <-out; s.Kind == SignalBeatVolume {
			beats = append(beats, s)
		}
	}
	if len(beats) != 1 || beats[0].Value != 255 {
		t.Fatalf("beat volume signals %v, want a single 255", beats)
	}
}

func TestPublishIsThrottled(t *testing.T) {
	out := make(chan Signal, 4096)
	a := newTestAnalyzer(out)
	now := time.Unix(1000, 0)
	// 1s of frames every 5ms: volume is published at most every 50ms.
	for i := 0; i < 200; i++ {
		a.Process(now, frame(0.5))
		now = now.Add(frameStep)
	}
	var volumes int
	for len(out) > 0 {
		if s := <-out; s.Kind == SignalVolume {
			volumes++
		}
	}
	if volumes == 0 || volumes > 20 {
		t.Fatalf("%d volume publications in one second", volumes)
	}
	if got := a.Collector().Snapshot().Volume; got != 5 {
		t.Fatalf("collector volume %d, want 5", got)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	out := make(chan Signal)
	a := newTestAnalyzer(out)
	done := make(chan struct{})
	go func() {
		a.Process(time.Unix(1000, 0), frame(0.5))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Process blocked on a full signal channel")
	}
}
