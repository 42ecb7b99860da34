// Package output moves rendered DMX frames to the hardware.
package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"blaulicht/internal/logger"
)

// Sink receives complete 513 byte frames, DMX start code first.
type Sink interface {
	Write(frame []byte) error
	Close() error
}

type slot struct {
	sink    Sink
	failing bool
}

// Multi writes every frame to a set of named sinks. A slot can be swapped at
// runtime, which is how the serial port is changed while the worker runs.
type Multi struct {
	log *logger.Log

	mu    sync.Mutex
	slots map[string]*slot
}

func NewMulti(log logger.Logger) *Multi {
	return &Multi{
		log:   log.With(logger.Fields{"module": "output"}),
		slots: map[string]*slot{},
	}
}

// Set installs s under name, closing whatever was there. A nil s only removes.
func (m *Multi) Set(name string, s Sink) error {
	m.mu.Lock()
	old := m.slots[name]
	if s == nil {
		delete(m.slots, name)
	} else {
		m.slots[name] = &slot{sink: s}
	}
	m.mu.Unlock()

	if old == nil {
		return nil
	}
	if err := old.sink.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

// Names lists the installed sinks.
func (m *Multi) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.slots))
	for n := range m.slots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Write hands frame to every sink. Failures are logged when a sink starts or
// stops failing and are returned joined.
func (m *Multi) Write(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, s := range m.slots {
		err := s.sink.Write(frame)
		switch {
		case err != nil && !s.failing:
			m.log.Warnf("%s: %v", name, err)
		case err == nil && s.failing:
			m.log.Infof("%s: recovered", name)
		}
		s.failing = err != nil
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	m.mu.Lock()
	slots := m.slots
	m.slots = map[string]*slot{}
	m.mu.Unlock()

	var errs []error
	for name, s := range slots {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
