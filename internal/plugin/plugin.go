// Package plugin runs user supplied WebAssembly modules once per tick inside
// a shared wazero runtime.
package plugin

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"blaulicht/internal/audio"
	"blaulicht/internal/config"
	"blaulicht/internal/event"
	"blaulicht/internal/logger"
	"blaulicht/internal/midi"
	"blaulicht/internal/system"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const (
	hostModule       = "blaulicht"
	tickExport       = "internal_tick"
	midiBufferExport = "__internal_get_global_midi_buffer_start_addr"
	midiLengthExport = "__internal_get_global_midi_buffer_length_start_addr"

	DefaultTimeout = 20 * time.Millisecond
	loadTimeout    = 5 * time.Second
)

var (
	ErrMissingExport = errors.New("missing export")
	ErrMissingMemory = errors.New("module exports no memory")
	ErrOutOfBounds   = errors.New("guest memory access out of bounds")
)

// MIDI is what plugins may reach of the MIDI manager.
type MIDI interface {
	RequestDevice(name string) (uint8, error)
	Transmit(ev midi.Event) bool
}

// Status is the health of one configured plugin.
type Status = system.PluginState

type instance struct {
	Status
	name string
	log  *logger.Log

	mod     api.Module
	tick    api.Function
	hasMIDI bool
	midiBuf uint32
	midiLen uint32

	udpWarned bool
}

// Manager owns the runtime and all plugin instances. Load, Reload, Tick and
// Close must be called from one goroutine; Statuses is safe from anywhere.
type Manager struct {
	log     *logger.Log
	confs   []config.PluginConf
	conn    *event.Connection
	pub     *system.Publisher
	midi    MIDI
	timeout time.Duration
	start   time.Time
	initial bool

	runtime wazero.Runtime
	plugins []*instance
	byName  map[string]*instance

	// guards the Status of every instance and changed.
	mu      sync.RWMutex
	changed bool
}

func NewManager(log logger.Logger, confs []config.PluginConf, conn *event.Connection,
	pub *system.Publisher, devices MIDI, timeout time.Duration,
) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		log:     log.With(logger.Fields{"module": "plugin"}),
		confs:   confs,
		conn:    conn,
		pub:     pub,
		midi:    devices,
		timeout: timeout,
		start:   time.Now(),
		byName:  map[string]*instance{},
	}
}

// Load discards any previous runtime and instantiates every enabled plugin
// from scratch. Plugins that fail to load are marked failing; their errors
// are joined into the result while the rest keep running.
func (m *Manager) Load(ctx context.Context) error {
	if err := m.Close(ctx); err != nil {
		m.log.Warnf("close previous runtime: %v", err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("instantiate wasi: %w", err)
	}
	if err := m.exportHost(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return fmt.Errorf("instantiate host module: %w", err)
	}

	plugins := make([]*instance, 0, len(m.confs))
	m.byName = make(map[string]*instance, len(m.confs))
	var errs []error
	for i, conf := range m.confs {
		id := uint8(i)
		inst := &instance{
			Status: Status{ID: id, Path: conf.FilePath, Enabled: conf.Enabled},
			name:   fmt.Sprintf("plugin-%d", id),
			log:    m.log.With(logger.Fields{"plugin": id}),
		}
		plugins = append(plugins, inst)
		if !conf.Enabled {
			continue
		}
		// Registered before instantiation: _initialize may already call into the host.
		m.byName[inst.name] = inst
		if err := m.instantiate(ctx, rt, inst); err != nil {
			inst.Failing = true
			inst.log.Errorf("load %s: %v", conf.FilePath, err)
			m.pub.Logf("Plugin %d (%s) failed to load: %v", id, conf.FilePath, err)
			errs = append(errs, fmt.Errorf("plugin %d (%s): %w", id, conf.FilePath, err))
			continue
		}
		inst.log.Infof("loaded %s (midi: %t)", conf.FilePath, inst.hasMIDI)
	}

	m.mu.Lock()
	m.runtime = rt
	m.plugins = plugins
	m.changed = true
	m.mu.Unlock()
	m.initial = true

	return errors.Join(errs...)
}

// Reload clears every failure and panic flag and loads all plugins again.
// The next Tick is reported to the plugins as their first one.
func (m *Manager) Reload(ctx context.Context) error {
	m.log.Info("reloading plugins")
	if err := m.Load(ctx); err != nil {
		return fmt.Errorf("reload plugins: %w", err)
	}
	m.pub.Log("Plugins reloaded")
	return nil
}

func (m *Manager) instantiate(ctx context.Context, rt wazero.Runtime, inst *instance) error {
	bin, err := os.ReadFile(inst.Path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	out := logWriter{log: inst.log}
	cfg := wazero.NewModuleConfig().
		WithName(inst.name).
		WithStartFunctions("_initialize").
		WithStdout(out).
		WithStderr(out)
	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}

	tick := mod.ExportedFunction(tickExport)
	if tick == nil {
		_ = mod.Close(ctx)
		return fmt.Errorf("%s: %w", tickExport, ErrMissingExport)
	}
	if mod.Memory() == nil {
		_ = mod.Close(ctx)
		return ErrMissingMemory
	}
	inst.mod = mod
	inst.tick = tick

	bufFn, lenFn := mod.ExportedFunction(midiBufferExport), mod.ExportedFunction(midiLengthExport)
	if bufFn == nil || lenFn == nil {
		return nil
	}
	buf, err := bufFn.Call(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", midiBufferExport, err)
	}
	length, err := lenFn.Call(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", midiLengthExport, err)
	}
	if len(buf) != 1 || len(length) != 1 {
		return fmt.Errorf("midi buffer accessors must return one value: %w", ErrMissingExport)
	}
	inst.midiBuf, inst.midiLen, inst.hasMIDI = uint32(buf[0]), uint32(length[0]), true
	return nil
}

// Tick runs every healthy plugin once, strictly in configuration order, and
// returns how long the whole pass took. Control events queued on the bus
// connection since the previous tick are handed to every plugin.
func (m *Manager) Tick(ctx context.Context, snap audio.Snapshot, midiEvents []midi.Event) time.Duration {
	start := time.Now()

	var events []event.ControlEvent
	if m.conn != nil {
		for _, msg := range m.conn.Drain() {
			events = append(events, msg.Body)
		}
	}
	batch, err := event.EncodeBatch(events)
	if err != nil {
		m.log.Warnf("dropping %d events: %v", len(events), err)
		events = nil
		batch, _ = event.EncodeBatch(nil)
	}
	if len(midiEvents) > MidiBufferSize {
		m.log.Warnf("dropping %d midi events", len(midiEvents)-MidiBufferSize)
		midiEvents = midiEvents[:MidiBufferSize]
	}
	words := make([]byte, 4*len(midiEvents))
	for i, ev := range midiEvents {
		binary.LittleEndian.PutUint32(words[4*i:], ev.Pack())
	}

	in := TickInput{
		ClockMs: uint32(time.Since(m.start).Milliseconds()),
		Initial: m.initial,
		Audio:   snap,
		Events:  events,
	}
	for _, inst := range m.plugins {
		if !m.active(inst) {
			continue
		}
		in.PluginID = inst.ID
		if err := m.tickOne(ctx, inst, in, batch, words, len(midiEvents)); err != nil {
			m.fail(inst, err)
		}
	}
	m.initial = false

	return time.Since(start)
}

func (m *Manager) tickOne(ctx context.Context, inst *instance, in TickInput, batch, words []byte, nwords int) error {
	record, err := in.encode(batch)
	if err != nil {
		return err
	}
	mem := inst.mod.Memory()
	if !mem.Write(InputOffset, record) {
		return fmt.Errorf("tick input of %d bytes: %w", len(record), ErrOutOfBounds)
	}
	if inst.hasMIDI {
		if !mem.Write(inst.midiBuf, words) || !mem.WriteUint32Le(inst.midiLen, uint32(nwords)) {
			return fmt.Errorf("midi buffer at %#x: %w", inst.midiBuf, ErrOutOfBounds)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if _, err := inst.tick.Call(ctx, uint64(InputOffset), uint64(len(record)), uint64(scratchOffset(len(record)))); err != nil {
		return fmt.Errorf("%s: %w", tickExport, err)
	}
	return nil
}

func (m *Manager) active(inst *instance) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return inst.Enabled && !inst.Failing && inst.mod != nil
}

// fail logs only on the transition into the failing state.
func (m *Manager) fail(inst *instance, err error) {
	m.mu.Lock()
	was := inst.Failing
	inst.Failing = true
	m.changed = m.changed || !was
	m.mu.Unlock()
	if was {
		return
	}
	inst.log.Warnf("disabling plugin until reload: %v", err)
	m.pub.Logf("Plugin %d disabled: %v", inst.ID, err)
}

// Statuses reports the health of every configured plugin.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, len(m.plugins))
	for i, inst := range m.plugins {
		out[i] = inst.Status
	}
	return out
}

// StatusChanged reports whether any status changed since the previous call.
func (m *Manager) StatusChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.changed
	m.changed = false
	return c
}

// Close releases the runtime and every module in it.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	rt := m.runtime
	m.runtime = nil
	m.plugins = nil
	m.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Close(ctx)
}

// logWriter forwards guest stdout/stderr (WASI fd 1 and 2) to the log.
type logWriter struct {
	log *logger.Log
}

func (w logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.log.Info(line)
	}
	return len(p), nil
}

// WatchedPaths lists the files of enabled plugins that asked for hot reload.
func WatchedPaths(confs []config.PluginConf) []string {
	var paths []string
	for _, c := range confs {
		if c.Enabled && c.Watch {
			paths = append(paths, c.FilePath)
		}
	}
	return paths
}
