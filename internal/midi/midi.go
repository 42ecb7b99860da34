// Package midi keeps named MIDI device connections and shuttles 3 byte
// messages between them and the worker loop.
package midi

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"blaulicht/internal/logger"
)

const (
	// NotFound is handed to plugins when a device cannot be opened.
	NotFound uint8 = 255
	// MaxDevices is the highest id that can be assigned.
	MaxDevices = 254
	// Builtin tags events from the virtual control grid. It shares its
	// value with NotFound since neither is ever assigned to a port.
	Builtin uint8 = 255

	InboundSize  = 256
	OutboundSize = 64
)

var (
	ErrDeviceNotFound = errors.New("midi device not found")
	ErrDeviceLimit    = errors.New("too many midi devices")
)

// Event is one channel message tagged with the device id.
type Event struct {
	Device uint8
	Status uint8
	Data0  uint8
	Data1  uint8
}

// Pack encodes the event as device:status:data0:data1, device in the top byte.
func (e Event) Pack() uint32 {
	return uint32(e.Device)<<24 | uint32(e.Status)<<16 | uint32(e.Data0)<<8 | uint32(e.Data1)
}

func Unpack(w uint32) Event {
	return Event{Device: uint8(w >> 24), Status: uint8(w >> 16), Data0: uint8(w >> 8), Data1: uint8(w)}
}

func (e Event) String() string {
	return fmt.Sprintf("dev %d: %02x %02x %02x", e.Device, e.Status, e.Data0, e.Data1)
}

// Port is an opened bidirectional device.
type Port interface {
	Send(msg []byte) error
	Close() error
}

// Transport opens devices by name. onMessage is called from the driver's
// goroutine for every received message.
type Transport interface {
	Open(name string, onMessage func(msg []byte)) (Port, error)
	Close() error
}

type device struct {
	id   uint8
	name string
	port Port
}

// Manager owns the device registry and the two message queues.
type Manager struct {
	log       *logger.Log
	transport Transport

	mu     sync.Mutex
	byName map[string]*device
	byID   map[uint8]*device
	nextID uint8

	inbound  chan Event
	outbound chan Event
}

func NewManager(log logger.Logger, transport Transport) *Manager {
	return &Manager{
		log:       log.With(logger.Fields{"module": "midi"}),
		transport: transport,
		byName:    map[string]*device{},
		byID:      map[uint8]*device{},
		nextID:    1,
		inbound:   make(chan Event, InboundSize),
		outbound:  make(chan Event, OutboundSize),
	}
}

// RequestDevice opens name on first use and returns its id. Later calls
// return the same id.
func (m *Manager) RequestDevice(name string) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.byName[name]; ok {
		return d.id, nil
	}
	if m.transport == nil {
		return NotFound, fmt.Errorf("%w: %q (no transport)", ErrDeviceNotFound, name)
	}
	if m.nextID > MaxDevices {
		return NotFound, ErrDeviceLimit
	}

	id := m.nextID
	port, err := m.transport.Open(name, func(msg []byte) { m.receive(id, msg) })
	if err != nil {
		return NotFound, fmt.Errorf("open %q: %w", name, err)
	}
	m.nextID++

	d := &device{id: id, name: name, port: port}
	m.byName[name] = d
	m.byID[id] = d
	m.log.Infof("device %q opened as %d", name, id)
	return id, nil
}

func (m *Manager) receive(id uint8, msg []byte) {
	if len(msg) != 3 {
		return
	}
	ev := Event{Device: id, Status: msg[0], Data0: msg[1], Data1: msg[2]}
	select {
	case m.inbound <- ev:
	default:
		m.log.Warnf("inbound queue full, dropped %s", ev)
	}
}

// Inject queues ev as if it had been received from a device.
func (m *Manager) Inject(ev Event) bool {
	select {
	case m.inbound <- ev:
		return true
	default:
		m.log.Warnf("inbound queue full, dropped %s", ev)
		return false
	}
}

// Transmit queues ev for the next Tick. It never blocks and reports whether
// the event was accepted.
func (m *Manager) Transmit(ev Event) bool {
	select {
	case m.outbound <- ev:
		return true
	default:
		m.log.Warnf("outbound queue full, dropped %s", ev)
		return false
	}
}

// Tick returns every received event and sends every queued one. Sending to
// an unknown id yields a per-event ErrDeviceNotFound; the rest still go out.
func (m *Manager) Tick() ([]Event, error) {
	var in []Event
drainIn:
	for {
		select {
		case ev := <-m.inbound:
			in = append(in, ev)
		default:
			break drainIn
		}
	}

	var errs []error
	for n := len(m.outbound); n > 0; n-- {
		ev := <-m.outbound
		m.mu.Lock()
		d, ok := m.byID[ev.Device]
		m.mu.Unlock()
		if !ok {
			errs = append(errs, fmt.Errorf("%w: id %d", ErrDeviceNotFound, ev.Device))
			continue
		}
		if err := d.port.Send([]byte{ev.Status, ev.Data0, ev.Data1}); err != nil {
			errs = append(errs, fmt.Errorf("send to %q: %w", d.name, err))
		}
	}
	return in, errors.Join(errs...)
}

// Devices returns the open device names keyed by id.
func (m *Manager) Devices() map[uint8]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint8]string, len(m.byID))
	for id, d := range m.byID {
		out[id] = d.name
	}
	return out
}

// Close closes every port and the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	var errs []error
	for _, id := range ids {
		d := m.byID[uint8(id)]
		if err := d.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", d.name, err))
		}
	}
	m.byID = map[uint8]*device{}
	m.byName = map[string]*device{}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
