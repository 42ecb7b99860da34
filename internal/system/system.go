// Package system carries presentation-layer messages: heartbeats, logs,
// loop timings, device lists, plugin control-grid feedback and DMX frames.
package system

import (
	"fmt"
	"time"
)

// Kind identifies a system message.
type Kind uint8

const (
	KindHeartbeat Kind = iota
	KindLog
	KindPluginLog
	KindControlsLog
	KindControlsSet
	KindControlsConfig
	KindLoopSpeed
	KindTickSpeed
	KindAudioSelected
	KindAudioDevices
	KindSerialSelected
	KindDMX
	KindPluginStatus
)

var kindNames = map[Kind]string{
	KindHeartbeat:      "heartbeat",
	KindLog:            "log",
	KindPluginLog:      "plugin-log",
	KindControlsLog:    "controls-log",
	KindControlsSet:    "controls-set",
	KindControlsConfig: "controls-config",
	KindLoopSpeed:      "loop-speed",
	KindTickSpeed:      "tick-speed",
	KindAudioSelected:  "audio-selected",
	KindAudioDevices:   "audio-devices",
	KindSerialSelected: "serial-selected",
	KindDMX:            "dmx",
	KindPluginStatus:   "plugin-status",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Message is a flat union; Kind tells which fields are set.
type Message struct {
	Kind     Kind          `json:"kind"`
	Seq      uint64        `json:"seq,omitempty"`
	Text     string        `json:"text,omitempty"`
	PluginID uint8         `json:"plugin_id,omitempty"`
	X        uint8         `json:"x,omitempty"`
	Y        uint8         `json:"y,omitempty"`
	On       bool          `json:"on,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Devices  []string      `json:"devices,omitempty"`
	DMX      []byte        `json:"dmx,omitempty"`
	Plugins  []PluginState `json:"plugins,omitempty"`
}

// PluginState is the health of one configured plugin.
type PluginState struct {
	ID       uint8  `json:"id"`
	Path     string `json:"path"`
	Enabled  bool   `json:"enabled"`
	Failing  bool   `json:"failing"`
	Panicked bool   `json:"panicked"`
}

func Heartbeat(seq uint64) Message { return Message{Kind: KindHeartbeat, Seq: seq} }
func Log(text string) Message      { return Message{Kind: KindLog, Text: text} }

func Logf(format string, args ...interface{}) Message {
	return Log(fmt.Sprintf(format, args...))
}

func PluginLog(pluginID uint8, text string) Message {
	return Message{Kind: KindPluginLog, PluginID: pluginID, Text: text}
}

func ControlsLog(x, y uint8, text string) Message {
	return Message{Kind: KindControlsLog, X: x, Y: y, Text: text}
}

func ControlsSet(x, y uint8, on bool) Message {
	return Message{Kind: KindControlsSet, X: x, Y: y, On: on}
}

func ControlsConfig(x, y uint8) Message {
	return Message{Kind: KindControlsConfig, X: x, Y: y}
}

func LoopSpeed(d time.Duration) Message { return Message{Kind: KindLoopSpeed, Duration: d} }
func TickSpeed(d time.Duration) Message { return Message{Kind: KindTickSpeed, Duration: d} }

// AudioSelected reports the active capture device; an empty name means none.
func AudioSelected(name string) Message { return Message{Kind: KindAudioSelected, Text: name} }

func AudioDevices(names []string) Message {
	return Message{Kind: KindAudioDevices, Devices: names}
}

func SerialSelected(port string) Message { return Message{Kind: KindSerialSelected, Text: port} }

// DMX carries a copy of the 513 byte output buffer.
func DMX(frame []byte) Message {
	return Message{Kind: KindDMX, DMX: append([]byte(nil), frame...)}
}

// PluginStatus carries the health of every configured plugin.
func PluginStatus(states []PluginState) Message {
	return Message{Kind: KindPluginStatus, Plugins: append([]PluginState(nil), states...)}
}

func (m Message) String() string {
	switch m.Kind {
	case KindHeartbeat:
		return fmt.Sprintf("heartbeat #%d", m.Seq)
	case KindLog, KindAudioSelected, KindSerialSelected:
		return fmt.Sprintf("%s: %s", m.Kind, m.Text)
	case KindPluginLog:
		return fmt.Sprintf("[plugin %d] %s", m.PluginID, m.Text)
	case KindLoopSpeed, KindTickSpeed:
		return fmt.Sprintf("%s: %s", m.Kind, m.Duration)
	case KindPluginStatus:
		return fmt.Sprintf("%s: %+v", m.Kind, m.Plugins)
	}
	return m.Kind.String()
}
