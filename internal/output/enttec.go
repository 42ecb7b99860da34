package output

import (
	"fmt"
	"io"

	"blaulicht/internal/logger"
	"go.bug.st/serial"
)

// Enttec DMX USB Pro framing.
const (
	enttecStart    = 0x7e
	enttecEnd      = 0xe7
	labelOutputDMX = 6
)

// EncodeEnttec wraps a frame (start code + channels) into an "Output Only
// Send DMX Packet" request.
func EncodeEnttec(frame []byte) []byte {
	n := len(frame)
	out := make([]byte, 0, n+5)
	out = append(out, enttecStart, labelOutputDMX, byte(n), byte(n>>8))
	out = append(out, frame...)
	return append(out, enttecEnd)
}

// Serial drives an Enttec compatible widget on a serial port.
type Serial struct {
	log  *logger.Log
	name string
	port io.WriteCloser
}

// OpenSerial opens the named serial device at the given baud rate.
func OpenSerial(log logger.Logger, name string, baud int) (*Serial, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	s := newSerial(log, name, p)
	s.log.Infof("port opened (baud %d)", baud)
	return s, nil
}

func newSerial(log logger.Logger, name string, port io.WriteCloser) *Serial {
	return &Serial{
		log:  log.With(logger.Fields{"module": "serial", "port": name}),
		name: name,
		port: port,
	}
}

func (s *Serial) Name() string { return s.name }

func (s *Serial) Write(frame []byte) error {
	data := EncodeEnttec(frame)
	n, err := s.port.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (s *Serial) Close() error {
	s.log.Info("closing port")
	return s.port.Close()
}

// SerialPorts lists the serial devices present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
