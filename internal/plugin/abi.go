package plugin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"blaulicht/internal/audio"
	"blaulicht/internal/event"
)

const (
	// InputOffset is where the tick record is written into guest memory.
	InputOffset uint32 = 0x10000
	// MidiBufferSize is the number of packed MIDI words a guest buffer holds.
	MidiBufferSize = 256

	inputHeaderLen = 20
)

var (
	ErrShortInput    = errors.New("tick input truncated")
	ErrTooManyEvents = errors.New("too many events for one tick")
)

// TickInput is the record handed to every plugin on every tick.
//
// Layout (little endian):
//
//	0  u32 clock_ms      4  u8 initial        5  u8 plugin_id
//	6  u16 event_count   8  u8 volume         9  u8 beat_volume
//	10 u8 bass           11 u8 bass_avg_short 12 u8 bass_avg
//	13 u8 bpm            14 u16 tbb_ms        16 u32 events_len
//	20 events (msgpack array of control events)
type TickInput struct {
	ClockMs  uint32
	Initial  bool
	PluginID uint8
	Audio    audio.Snapshot
	Events   []event.ControlEvent
}

func (in TickInput) Encode() ([]byte, error) {
	batch, err := event.EncodeBatch(in.Events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	return in.encode(batch)
}

// encode lays out the header in front of an already encoded event batch, so
// the batch is serialized once per tick and shared by all plugins.
func (in TickInput) encode(batch []byte) ([]byte, error) {
	if len(in.Events) > math.MaxUint16 {
		return nil, fmt.Errorf("%d events: %w", len(in.Events), ErrTooManyEvents)
	}
	buf := make([]byte, inputHeaderLen+len(batch))
	binary.LittleEndian.PutUint32(buf[0:], in.ClockMs)
	if in.Initial {
		buf[4] = 1
	}
	buf[5] = in.PluginID
	binary.LittleEndian.PutUint16(buf[6:], uint16(len(in.Events)))
	buf[8] = in.Audio.Volume
	buf[9] = in.Audio.BeatVolume
	buf[10] = in.Audio.Bass
	buf[11] = in.Audio.BassAvgShort
	buf[12] = in.Audio.BassAvg
	buf[13] = in.Audio.Bpm
	binary.LittleEndian.PutUint16(buf[14:], in.Audio.TimeBetweenBeatsMs)
	binary.LittleEndian.PutUint32(buf[16:], uint32(len(batch)))
	copy(buf[inputHeaderLen:], batch)
	return buf, nil
}

// DecodeTickInput is the guest-side view of a record, mostly useful for tools and tests.
func DecodeTickInput(b []byte) (TickInput, error) {
	if len(b) < inputHeaderLen {
		return TickInput{}, ErrShortInput
	}
	n := binary.LittleEndian.Uint32(b[16:])
	if uint64(len(b)-inputHeaderLen) < uint64(n) {
		return TickInput{}, ErrShortInput
	}
	events, err := event.DecodeBatch(b[inputHeaderLen : inputHeaderLen+int(n)])
	if err != nil {
		return TickInput{}, err
	}
	if count := binary.LittleEndian.Uint16(b[6:]); int(count) != len(events) {
		return TickInput{}, fmt.Errorf("event count %d, batch holds %d: %w", count, len(events), ErrShortInput)
	}
	return TickInput{
		ClockMs:  binary.LittleEndian.Uint32(b[0:]),
		Initial:  b[4] != 0,
		PluginID: b[5],
		Audio: audio.Snapshot{
			Volume:             b[8],
			BeatVolume:         b[9],
			Bass:               b[10],
			BassAvgShort:       b[11],
			BassAvg:            b[12],
			Bpm:                b[13],
			TimeBetweenBeatsMs: binary.LittleEndian.Uint16(b[14:]),
		},
		Events: events,
	}, nil
}

// scratchOffset is the first 8 byte aligned address past a record of n bytes.
func scratchOffset(n int) uint32 {
	return (InputOffset + uint32(n) + 7) &^ 7
}
