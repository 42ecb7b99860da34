// Package audio turns spectrum frames into beat, tempo and volume signals.
package audio

import (
	"fmt"
	"sync"
)

// Frequency is one spectrum bin.
type Frequency struct {
	Volume   float32 // magnitude, 1.0 is a full-scale sine.
	Freq     float32 // Hz.
	Position float32 // 0..1 across the configured band.
}

// SignalKind identifies a Signal variant.
type SignalKind uint8

const (
	SignalVolume SignalKind = iota
	SignalBeatVolume
	SignalBass
	SignalBassAvgShort
	SignalBassAvg
	SignalBpm
)

var signalNames = [...]string{
	SignalVolume:       "volume",
	SignalBeatVolume:   "beat-volume",
	SignalBass:         "bass",
	SignalBassAvgShort: "bass-avg-short",
	SignalBassAvg:      "bass-avg",
	SignalBpm:          "bpm",
}

func (k SignalKind) String() string {
	if int(k) < len(signalNames) {
		return signalNames[k]
	}
	return fmt.Sprintf("signal(%d)", uint8(k))
}

func (k SignalKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Signal is one analyzer output. Value is set for every kind except Bpm.
type Signal struct {
	Kind               SignalKind `json:"kind"`
	Value              uint8      `json:"value"`
	Bpm                uint8      `json:"bpm,omitempty"`
	TimeBetweenBeatsMs uint16     `json:"time_between_beats_ms,omitempty"`
}

func Volume(v uint8) Signal       { return Signal{Kind: SignalVolume, Value: v} }
func BeatVolume(v uint8) Signal   { return Signal{Kind: SignalBeatVolume, Value: v} }
func Bass(v uint8) Signal         { return Signal{Kind: SignalBass, Value: v} }
func BassAvgShort(v uint8) Signal { return Signal{Kind: SignalBassAvgShort, Value: v} }
func BassAvg(v uint8) Signal      { return Signal{Kind: SignalBassAvg, Value: v} }

func Bpm(bpm uint8, timeBetweenBeatsMs uint16) Signal {
	return Signal{Kind: SignalBpm, Bpm: bpm, TimeBetweenBeatsMs: timeBetweenBeatsMs}
}

func (s Signal) String() string {
	if s.Kind == SignalBpm {
		return fmt.Sprintf("bpm(%d, %dms)", s.Bpm, s.TimeBetweenBeatsMs)
	}
	return fmt.Sprintf("%s(%d)", s.Kind, s.Value)
}

// Snapshot is the latest value of every signal.
type Snapshot struct {
	Volume             uint8  `json:"volume"`
	BeatVolume         uint8  `json:"beat_volume"`
	Bass               uint8  `json:"bass"`
	BassAvgShort       uint8  `json:"bass_avg_short"`
	BassAvg            uint8  `json:"bass_avg"`
	Bpm                uint8  `json:"bpm"`
	TimeBetweenBeatsMs uint16 `json:"time_between_beats_ms"`
}

// Collector keeps the latest-value Snapshot. It is written by the worker
// and may be read from anywhere.
type Collector struct {
	mu  sync.RWMutex
	cur Snapshot
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Apply(s Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Kind {
	case SignalVolume:
		c.cur.Volume = s.Value
	case SignalBeatVolume:
		c.cur.BeatVolume = s.Value
	case SignalBass:
		c.cur.Bass = s.Value
	case SignalBassAvgShort:
		c.cur.BassAvgShort = s.Value
	case SignalBassAvg:
		c.cur.BassAvg = s.Value
	case SignalBpm:
		c.cur.Bpm = s.Bpm
		c.cur.TimeBetweenBeatsMs = s.TimeBetweenBeatsMs
	}
}

func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}
