package plugin

import (
	"context"
	"fmt"

	"blaulicht/internal/event"
	"blaulicht/internal/midi"
	"blaulicht/internal/system"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// exportHost instantiates the "blaulicht" module every plugin imports from.
// The calling plugin is identified by its module name, so no host state is
// shared between instances.
func (m *Manager) exportHost(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(m.hostLog).Export("log").
		NewFunctionBuilder().WithFunc(m.hostUDP).Export("udp").
		NewFunctionBuilder().WithFunc(m.hostSendEvent).Export("bl_send_event").
		NewFunctionBuilder().WithFunc(m.hostControlsLog).Export("controls_log").
		NewFunctionBuilder().WithFunc(m.hostControlsSet).Export("controls_set").
		NewFunctionBuilder().WithFunc(m.hostControlsConfig).Export("controls_config").
		NewFunctionBuilder().WithFunc(m.hostTransmitMIDI).Export("bl_transmit_midi").
		NewFunctionBuilder().WithFunc(m.hostOpenMIDIDevice).Export("bl_open_midi_device").
		NewFunctionBuilder().WithFunc(m.hostReportPanic).Export("bl_report_panic").
		Instantiate(ctx)
	return err
}

func (m *Manager) caller(mod api.Module) *instance {
	inst, ok := m.byName[mod.Name()]
	if !ok {
		// Only plugin modules import the host, so this is a wiring bug.
		panic(fmt.Errorf("host call from unknown module %q", mod.Name()))
	}
	return inst
}

// read copies a guest byte range. An invalid range traps the calling plugin.
func read(mod api.Module, ptr, n uint32) []byte {
	b, ok := mod.Memory().Read(ptr, n)
	if !ok {
		panic(fmt.Errorf("read %d bytes at %#x: %w", n, ptr, ErrOutOfBounds))
	}
	return append([]byte(nil), b...)
}

// The id argument predates per-instance state; the caller's own id is used.
func (m *Manager) hostLog(_ context.Context, mod api.Module, _, ptr, n uint32) {
	inst := m.caller(mod)
	text := string(read(mod, ptr, n))
	inst.log.Info(text)
	m.pub.Publish(system.PluginLog(inst.ID, text))
}

func (m *Manager) hostUDP(_ context.Context, mod api.Module, _, _, _, _ uint32) {
	inst := m.caller(mod)
	if inst.udpWarned {
		return
	}
	inst.udpWarned = true
	inst.log.Warn("udp is not available to plugins")
}

func (m *Manager) hostSendEvent(_ context.Context, mod api.Module, ptr, n uint32) {
	inst := m.caller(mod)
	ev, err := event.Decode(read(mod, ptr, n))
	if err != nil {
		inst.log.Warnf("bl_send_event: %v", err)
		m.pub.Publish(system.PluginLog(inst.ID, fmt.Sprintf("invalid event: %v", err)))
		return
	}
	if m.conn == nil || !m.conn.TrySend(event.NewMessage(event.OriginPlugin, ev)) {
		inst.log.Warnf("bl_send_event: dropped %s", ev)
	}
}

func (m *Manager) hostControlsLog(_ context.Context, mod api.Module, x, y, ptr, n uint32) {
	m.caller(mod)
	m.pub.Publish(system.ControlsLog(uint8(x), uint8(y), string(read(mod, ptr, n))))
}

func (m *Manager) hostControlsSet(_ context.Context, mod api.Module, x, y, value uint32) {
	m.caller(mod)
	m.pub.Publish(system.ControlsSet(uint8(x), uint8(y), value != 0))
}

func (m *Manager) hostControlsConfig(_ context.Context, mod api.Module, x, y uint32) {
	m.caller(mod)
	m.pub.Publish(system.ControlsConfig(uint8(x), uint8(y)))
}

func (m *Manager) hostTransmitMIDI(_ context.Context, mod api.Module, dev, status, d0, d1 uint32) {
	inst := m.caller(mod)
	ev := midi.Event{Device: uint8(dev), Status: uint8(status), Data0: uint8(d0), Data1: uint8(d1)}
	if m.midi == nil || !m.midi.Transmit(ev) {
		inst.log.Warnf("bl_transmit_midi: dropped %s", ev)
	}
}

// hostOpenMIDIDevice returns the device id, or midi.NotFound.
func (m *Manager) hostOpenMIDIDevice(_ context.Context, mod api.Module, ptr, n uint32) uint32 {
	inst := m.caller(mod)
	name := string(read(mod, ptr, n))
	if m.midi == nil {
		return uint32(midi.NotFound)
	}
	id, err := m.midi.RequestDevice(name)
	if err != nil {
		inst.log.Warnf("bl_open_midi_device %q: %v", name, err)
		m.pub.Publish(system.PluginLog(inst.ID, fmt.Sprintf("MIDI device %q: %v", name, err)))
		return uint32(midi.NotFound)
	}
	return uint32(id)
}

func (m *Manager) hostReportPanic(_ context.Context, mod api.Module) {
	inst := m.caller(mod)
	m.mu.Lock()
	m.changed = m.changed || !inst.Panicked
	inst.Panicked = true
	m.mu.Unlock()
	inst.log.Error("plugin panicked")
	m.pub.Publish(system.PluginLog(inst.ID, "panicked"))
}
