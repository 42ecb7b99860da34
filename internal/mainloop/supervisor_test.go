package mainloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"blaulicht/internal/logger"
	"blaulicht/internal/midi"
	"blaulicht/internal/system"
)

// fakeRunner runs until aborted or superseded unless fail is set.
type fakeRunner struct {
	control *Control
	fail    error
	panics  bool
	stuck   bool
	release chan struct{}

	mu      sync.Mutex
	devices []string
}

func (r *fakeRunner) Run(ctx context.Context, device string, alive func() bool) error {
	r.mu.Lock()
	r.devices = append(r.devices, device)
	r.mu.Unlock()

	if r.panics {
		panic("boom")
	}
	if r.fail != nil {
		return r.fail
	}
	if r.stuck {
		<-r.release
		return nil
	}
	for {
		if !alive() || r.control.Load() == Abort {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *fakeRunner) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.devices...)
}

type supRig struct {
	s        *Supervisor
	control  *Control
	runner   *fakeRunner
	pub      *system.Publisher
	commands chan system.Command

	mu        sync.Mutex
	persisted []string
	injected  []midi.Event
	serial    []string
	serialErr error
}

func setupTest(t *testing.T, device string) *supRig {
	t.Helper()
	r := &supRig{
		control:  &Control{},
		pub:      system.NewPublisher(256, nil),
		commands: make(chan system.Command, 8),
	}
	r.runner = &fakeRunner{control: r.control, release: make(chan struct{})}
	hooks := Hooks{
		Devices: func() ([]string, error) { return []string{"mic", "line"}, nil },
		Persist: func(d string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.persisted = append(r.persisted, d)
			return nil
		},
		SelectSerial: func(port string) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.serial = append(r.serial, port)
			return r.serialErr
		},
		Inject: func(ev midi.Event) bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.injected = append(r.injected, ev)
			return true
		},
	}
	r.s = NewSupervisor(logger.NewDiscard(), r.control, r.runner, r.pub, r.commands, device, hooks)
	r.s.ShutdownTimeout = 200 * time.Millisecond
	t.Cleanup(func() {
		r.control.Store(Abort)
		close(r.runner.release)
	})
	return r
}

func (r *supRig) messages() []system.Message {
	var out []system.Message
	for {
		select {
		case m := <-r.pub.C():
			out = append(out, m)
		default:
			return out
		}
	}
}

func count(msgs []system.Message, kind system.Kind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSpawnOnConfiguredDevice(t *testing.T) {
	r := setupTest(t, "mic")
	now := time.Now()

	r.s.beat(context.Background(), now)
	waitFor(t, "worker start", func() bool { return len(r.runner.started()) == 1 })
	if got := r.runner.started()[0]; got != "mic" {
		t.Fatalf("started on %q", got)
	}
	r.s.beat(context.Background(), now.Add(time.Second))
	if g := r.s.Generation(); g != 1 {
		t.Fatalf("generation %d after a quiet beat", g)
	}

	msgs := r.messages()
	if count(msgs, system.KindHeartbeat) != 2 || count(msgs, system.KindAudioSelected) != 1 {
		t.Fatalf("messages %v", msgs)
	}
	if msgs[0].Seq != 0 {
		t.Fatalf("first heartbeat seq %d", msgs[0].Seq)
	}
}

func TestNoDevicePublishesDeviceList(t *testing.T) {
	r := setupTest(t, "")
	now := time.Now()
	for i := 0; i < 3; i++ {
		r.s.beat(context.Background(), now.Add(time.Duration(i)*time.Second))
	}
	msgs := r.messages()
	if n := count(msgs, system.KindAudioDevices); n != 3 {
		t.Fatalf("device list published %d times, want every beat", n)
	}
	if r.s.Generation() != 0 {
		t.Fatal("spawned without a device")
	}
}

func TestCrashCooldownThenRespawn(t *testing.T) {
	r := setupTest(t, "mic")
	r.runner.fail = errors.New("device unplugged")
	now := time.Now()

	r.s.beat(context.Background(), now)
	waitFor(t, "crash", func() bool { return r.control.Load() == Crashed })

	r.s.beat(context.Background(), now.Add(time.Second))
	r.s.beat(context.Background(), now.Add(2*time.Second))
	if g := r.s.Generation(); g != 1 {
		t.Fatalf("respawned during cooldown (generation %d)", g)
	}
	if n := count(r.messages(), system.KindAudioDevices); n != 1 {
		t.Fatalf("device list published %d times after crash", n)
	}

	r.s.beat(context.Background(), now.Add(3*time.Second))
	if g := r.s.Generation(); g != 2 {
		t.Fatalf("generation %d after cooldown", g)
	}
	waitFor(t, "second start", func() bool { return len(r.runner.started()) == 2 })
}

func TestWorkerPanicCrashes(t *testing.T) {
	r := setupTest(t, "mic")
	r.runner.panics = true
	r.s.beat(context.Background(), time.Now())
	waitFor(t, "crash", func() bool { return r.control.Load() == Crashed })
}

func TestSelectInputDeviceRespawns(t *testing.T) {
	r := setupTest(t, "mic")
	now := time.Now()
	r.s.beat(context.Background(), now)
	waitFor(t, "first start", func() bool { return len(r.runner.started()) == 1 })

	r.commands <- system.SelectInputDevice("line")
	r.s.beat(context.Background(), now.Add(time.Second))

	waitFor(t, "second start", func() bool { return len(r.runner.started()) == 2 })
	if got := r.runner.started(); got[0] != "mic" || got[1] != "line" {
		t.Fatalf("started on %q", got)
	}
	if g := r.s.Generation(); g != 2 {
		t.Fatalf("generation %d", g)
	}
	var selected []string
	for _, m := range r.messages() {
		if m.Kind == system.KindAudioSelected {
			selected = append(selected, m.Text)
		}
	}
	if len(selected) != 2 || selected[1] != "line" {
		t.Fatalf("audio selections %v", selected)
	}
	r.mu.Lock()
	persisted := append([]string(nil), r.persisted...)
	r.mu.Unlock()
	if len(persisted) != 1 || persisted[0] != "line" {
		t.Fatalf("persisted %v", persisted)
	}
	// The superseded worker leaves without touching the control value.
	time.Sleep(20 * time.Millisecond)
	if v := r.control.Load(); v != Continue {
		t.Fatalf("control %s", v)
	}
}

func TestReloadCommand(t *testing.T) {
	r := setupTest(t, "mic")
	now := time.Now()
	r.s.beat(context.Background(), now)

	r.commands <- system.Reload()
	r.s.beat(context.Background(), now.Add(time.Second))
	if v := r.control.Load(); v != Reload {
		t.Fatalf("control %s, want reload", v)
	}

	r.control.Store(Crashed)
	r.s.handle(system.Reload())
	if v := r.control.Load(); v != Crashed {
		t.Fatalf("reload overwrote %s", v)
	}
}

func TestSerialAndMatrixCommands(t *testing.T) {
	r := setupTest(t, "")
	r.commands <- system.SelectSerialDevice("/dev/ttyUSB0")
	r.commands <- system.MatrixControl(2, 5, 1)
	r.s.beat(context.Background(), time.Now())

	if count(r.messages(), system.KindSerialSelected) != 1 {
		t.Fatal("serial selection not published")
	}
	r.mu.Lock()
	injected := append([]midi.Event(nil), r.injected...)
	r.serialErr = errors.New("busy")
	r.mu.Unlock()
	want := midi.Event{Device: midi.Builtin, Status: 5, Data0: 2, Data1: 1}
	if len(injected) != 1 || injected[0] != want {
		t.Fatalf("injected %v, want %v", injected, want)
	}

	r.s.handle(system.SelectSerialDevice("/dev/ttyUSB1"))
	msgs := r.messages()
	if count(msgs, system.KindSerialSelected) != 0 || count(msgs, system.KindLog) != 1 {
		t.Fatalf("failed selection produced %v", msgs)
	}
}

func TestShutdownWaitsForWorker(t *testing.T) {
	r := setupTest(t, "mic")
	r.s.Heartbeat = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.s.Run(ctx)
		close(done)
	}()

	waitFor(t, "worker start", func() bool { return len(r.runner.started()) == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	if v := r.control.Load(); v != Aborted {
		t.Fatalf("control %s, want aborted", v)
	}
}

func TestShutdownGivesUpOnStuckWorker(t *testing.T) {
	r := setupTest(t, "mic")
	r.runner.stuck = true
	r.s.Heartbeat = 5 * time.Millisecond
	r.s.ShutdownTimeout = 30 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.s.Run(ctx)
		close(done)
	}()

	waitFor(t, "worker start", func() bool { return len(r.runner.started()) == 1 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run blocked on a stuck worker")
	}
	if v := r.control.Load(); v != Abort {
		t.Fatalf("control %s, want abort", v)
	}
}
