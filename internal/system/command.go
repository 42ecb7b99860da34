package system

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingName    = errors.New("command needs a device name")
)

// CommandKind identifies an operator command.
type CommandKind uint8

const (
	CommandReload CommandKind = iota
	CommandSelectInputDevice
	CommandSelectSerialDevice
	// CommandMatrixControl injects a press on the virtual button grid as a
	// MIDI event from device 255.
	CommandMatrixControl
)

var commandNames = map[CommandKind]string{
	CommandReload:             "reload",
	CommandSelectInputDevice:  "select-input-device",
	CommandSelectSerialDevice: "select-serial-device",
	CommandMatrixControl:      "matrix-control",
}

func (k CommandKind) String() string {
	if n, ok := commandNames[k]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", uint8(k))
}

func (k CommandKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *CommandKind) UnmarshalText(b []byte) error {
	for kind, name := range commandNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, b)
}

// Command is sent by the operator to the supervisor.
type Command struct {
	Kind  CommandKind `json:"command"`
	Name  string      `json:"name,omitempty"`
	X     uint8       `json:"x,omitempty"`
	Y     uint8       `json:"y,omitempty"`
	Value uint8       `json:"value,omitempty"`
}

func Reload() Command { return Command{Kind: CommandReload} }

func SelectInputDevice(name string) Command {
	return Command{Kind: CommandSelectInputDevice, Name: name}
}

func SelectSerialDevice(name string) Command {
	return Command{Kind: CommandSelectSerialDevice, Name: name}
}

func MatrixControl(x, y, value uint8) Command {
	return Command{Kind: CommandMatrixControl, X: x, Y: y, Value: value}
}

func (c Command) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Name)
	}
	return c.Kind.String()
}

// ParseCommand decodes a JSON command such as {"command":"reload"}.
func ParseCommand(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	if c.Kind == CommandSelectInputDevice && c.Name == "" {
		return Command{}, fmt.Errorf("%s: %w", c.Kind, ErrMissingName)
	}
	return c, nil
}
