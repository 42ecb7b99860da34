package mainloop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"blaulicht/internal/logger"
	"blaulicht/internal/midi"
	"blaulicht/internal/system"
)

const (
	DefaultHeartbeat       = time.Second
	DefaultCooldown        = 2 * time.Second
	DefaultShutdownTimeout = 5 * time.Second

	shutdownPoll = 50 * time.Millisecond
)

// Runner runs one worker bound to an input device until it returns. alive
// turns false once a newer worker has been spawned.
type Runner interface {
	Run(ctx context.Context, device string, alive func() bool) error
}

// Hooks connect the supervisor to the rest of the process. Every hook is optional.
type Hooks struct {
	// Devices lists the available input devices.
	Devices func() ([]string, error)
	// Persist stores a newly selected input device.
	Persist func(device string) error
	// SelectSerial reopens the serial DMX output; an empty port closes it.
	SelectSerial func(port string) error
	// Inject delivers a virtual control grid press as a MIDI event.
	Inject func(ev midi.Event) bool
}

// Supervisor owns the worker lifecycle. It ticks once per heartbeat,
// processes operator commands and restarts crashed workers.
type Supervisor struct {
	log      *logger.Log
	control  *Control
	runner   Runner
	pub      *system.Publisher
	commands <-chan system.Command
	hooks    Hooks

	Heartbeat       time.Duration
	Cooldown        time.Duration
	ShutdownTimeout time.Duration

	gen       atomic.Uint64
	seq       uint64
	device    string
	changed   bool
	crashedAt time.Time
}

// NewSupervisor starts out bound to device; an empty device waits for a selection.
func NewSupervisor(log logger.Logger, control *Control, runner Runner, pub *system.Publisher,
	commands <-chan system.Command, device string, hooks Hooks,
) *Supervisor {
	return &Supervisor{
		log:             log.With(logger.Fields{"module": "supervisor"}),
		control:         control,
		runner:          runner,
		pub:             pub,
		commands:        commands,
		hooks:           hooks,
		Heartbeat:       DefaultHeartbeat,
		Cooldown:        DefaultCooldown,
		ShutdownTimeout: DefaultShutdownTimeout,
		device:          device,
		changed:         device != "",
	}
}

// Generation counts spawned workers.
func (s *Supervisor) Generation() uint64 { return s.gen.Load() }

// Run blocks until ctx is done, then stops the worker.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("started")
	t := time.NewTicker(s.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-t.C:
		}
		s.beat(ctx, time.Now())
	}
}

func (s *Supervisor) beat(ctx context.Context, now time.Time) {
	s.pub.Publish(system.Heartbeat(s.seq))
	s.seq++

	s.drainCommands()

	switch {
	case s.device == "":
		s.publishDevices()
		s.changed = false
	case s.changed:
		s.spawn(ctx)
		s.changed = false
	case s.control.Load() == Crashed:
		if s.crashedAt.IsZero() {
			s.crashedAt = now
			s.publishDevices()
		}
		if now.Sub(s.crashedAt) >= s.Cooldown {
			s.log.Warnf("worker crashed, restarting on %q", s.device)
			s.spawn(ctx)
		}
	}
}

func (s *Supervisor) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			s.handle(cmd)
		default:
			return
		}
	}
}

func (s *Supervisor) handle(cmd system.Command) {
	s.log.Debugf("command %s", cmd)
	switch cmd.Kind {
	case system.CommandReload:
		if !s.control.CompareAndSwap(Continue, Reload) {
			s.log.Warnf("reload ignored, worker is %s", s.control.Load())
		}
	case system.CommandSelectInputDevice:
		s.device = cmd.Name
		s.changed = true
		if s.hooks.Persist != nil {
			if err := s.hooks.Persist(cmd.Name); err != nil {
				s.log.Errorf("persist device selection: %v", err)
			}
		}
	case system.CommandSelectSerialDevice:
		if s.hooks.SelectSerial == nil {
			return
		}
		if err := s.hooks.SelectSerial(cmd.Name); err != nil {
			s.log.Errorf("select serial %q: %v", cmd.Name, err)
			s.pub.Logf("[serial] %v", err)
			return
		}
		s.pub.Publish(system.SerialSelected(cmd.Name))
	case system.CommandMatrixControl:
		if s.hooks.Inject != nil {
			s.hooks.Inject(midi.Event{Device: midi.Builtin, Status: cmd.Y, Data0: cmd.X, Data1: cmd.Value})
		}
	}
}

func (s *Supervisor) publishDevices() {
	if s.hooks.Devices == nil {
		return
	}
	devices, err := s.hooks.Devices()
	if err != nil {
		s.log.Warnf("list devices: %v", err)
		return
	}
	s.pub.Publish(system.AudioDevices(devices))
}

// spawn starts a worker for the current device. A previous worker is not
// waited for: it notices it was superseded at its next loop check.
func (s *Supervisor) spawn(ctx context.Context) {
	gen := s.gen.Add(1)
	device := s.device
	s.crashedAt = time.Time{}
	s.control.Store(Continue)
	s.pub.Publish(system.AudioSelected(device))

	alive := func() bool { return s.gen.Load() == gen }
	go func() {
		err := s.runWorker(ctx, device, alive)
		if !alive() {
			return
		}
		if err != nil {
			s.log.Errorf("worker %d on %q: %v", gen, device, err)
			s.pub.Logf("[audio] %v", err)
			s.control.Store(Crashed)
		} else {
			s.control.Store(Aborted)
		}
		s.pub.Log("[audio] Thread died.")
	}()

	s.log.Infof("worker %d started on %q", gen, device)
	s.pub.Log("[audio] Thread started.")
}

func (s *Supervisor) runWorker(ctx context.Context, device string, alive func() bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return s.runner.Run(ctx, device, alive)
}

// shutdown asks the worker to stop and waits a bounded time for it.
func (s *Supervisor) shutdown() {
	if s.gen.Load() == 0 {
		return
	}
	for {
		v := s.control.Load()
		if v == Aborted || v == Crashed {
			return
		}
		if s.control.CompareAndSwap(v, Abort) {
			break
		}
	}

	deadline := time.Now().Add(s.ShutdownTimeout)
	for time.Now().Before(deadline) {
		if v := s.control.Load(); v == Aborted || v == Crashed {
			s.log.Info("worker stopped")
			return
		}
		time.Sleep(shutdownPoll)
	}
	s.log.Warnf("worker did not stop within %s, continuing shutdown", s.ShutdownTimeout)
}
