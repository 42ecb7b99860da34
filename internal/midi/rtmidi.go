package midi

import (
	"errors"
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// RtMidi is the system transport backed by rtmidi.
type RtMidi struct {
	drv *rtmididrv.Driver
}

func NewRtMidi() (*RtMidi, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("rtmididrv: %w", err)
	}
	return &RtMidi{drv: drv}, nil
}

// Ports lists the input port names.
func (r *RtMidi) Ports() ([]string, error) {
	ins, err := r.drv.Ins()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// Open finds the input and output port named name (exact match first, then a
// case insensitive substring) and starts listening.
func (r *RtMidi) Open(name string, onMessage func(msg []byte)) (Port, error) {
	ins, err := r.drv.Ins()
	if err != nil {
		return nil, err
	}
	outs, err := r.drv.Outs()
	if err != nil {
		return nil, err
	}
	in := findPort(ins, name)
	out := findPort(outs, name)
	if in == nil || out == nil {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}

	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := out.Open(); err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("open output: %w", err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		return nil, fmt.Errorf("send to: %w", err)
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		onMessage([]byte(msg))
	})
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &rtPort{in: in, out: out, send: send, stop: stop}, nil
}

func (r *RtMidi) Close() error {
	return r.drv.Close()
}

func findPort[P interface{ String() string }](ports []P, name string) P {
	var zero P
	for _, p := range ports {
		if p.String() == name {
			return p
		}
	}
	lower := strings.ToLower(name)
	for _, p := range ports {
		if strings.Contains(strings.ToLower(p.String()), lower) {
			return p
		}
	}
	return zero
}

type rtPort struct {
	in   drivers.In
	out  drivers.Out
	send func(midi.Message) error
	stop func()
}

func (p *rtPort) Send(msg []byte) error {
	return p.send(midi.Message(msg))
}

func (p *rtPort) Close() error {
	p.stop()
	return errors.Join(p.in.Close(), p.out.Close())
}
