package mainloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blaulicht/internal/audio"
	"blaulicht/internal/config"
	"blaulicht/internal/dmx"
	"blaulicht/internal/event"
	"blaulicht/internal/logger"
	"blaulicht/internal/midi"
	"blaulicht/internal/output"
	"blaulicht/internal/plugin"
	"blaulicht/internal/system"
)

const (
	frameQueue     = 16
	reportInterval = time.Second
)

var ErrNoSource = errors.New("no audio source")

// Deps are the long-lived parts a worker drives. They outlive any single
// worker; MIDI, Out, Signals and Collector may be nil.
type Deps struct {
	Bus       *event.Bus
	Engine    *dmx.Engine
	MIDI      *midi.Manager
	Out       output.Sink
	Pub       *system.Publisher
	Collector *audio.Collector
	Signals   chan<- audio.Signal
	// Open opens the capture device by name.
	Open func(device string) (audio.Source, error)
}

// Worker runs the per-tick pipeline: analyzer, MIDI, plugins, engine, sink.
type Worker struct {
	base    logger.Logger
	log     *logger.Log
	cfg     config.Config
	control *Control
	deps    Deps
}

func NewWorker(log logger.Logger, cfg config.Config, control *Control, deps Deps) *Worker {
	if deps.Collector == nil {
		deps.Collector = audio.NewCollector()
	}
	return &Worker{
		base:    log,
		log:     log.With(logger.Fields{"module": "worker"}),
		cfg:     cfg,
		control: control,
		deps:    deps,
	}
}

type spectrum struct {
	at   time.Time
	bins []audio.Frequency
}

// Run implements Runner. It returns nil when asked to stop and an error when
// the audio source or the plugin sandbox fails.
func (w *Worker) Run(ctx context.Context, device string, alive func() bool) error {
	if w.deps.Open == nil {
		return ErrNoSource
	}
	src, err := w.deps.Open(device)
	if err != nil {
		return fmt.Errorf("open audio device %q: %w", device, err)
	}
	if !alive() {
		_ = src.Close()
		return nil
	}

	conn := w.deps.Bus.Connect()
	defer conn.Close()

	var devices plugin.MIDI
	if w.deps.MIDI != nil {
		devices = w.deps.MIDI
	}
	timeout := time.Duration(w.cfg.Engine.PluginTimeoutMs) * time.Millisecond
	plugins := plugin.NewManager(w.base, w.cfg.Plugins, conn, w.deps.Pub, devices, timeout)
	defer func() {
		if err := plugins.Close(context.Background()); err != nil {
			w.log.Warnf("close plugins: %v", err)
		}
	}()
	if err := plugins.Load(ctx); err != nil {
		_ = src.Close()
		return err
	}
	if !alive() {
		_ = src.Close()
		return nil
	}

	analyzer := audio.NewAnalyzer(w.base, w.deps.Signals, w.deps.Collector, w.cfg.Analyzer.BassModifier,
		time.Duration(w.cfg.Analyzer.PublishIntervalMs)*time.Millisecond)

	frames := make(chan spectrum, frameQueue)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go w.capture(src, frames, readErr, stop, done)
	defer func() {
		close(stop)
		<-done
	}()

	w.log.Infof("running on %q", device)
	t := time.NewTicker(time.Duration(w.cfg.Engine.TickIntervalMs) * time.Millisecond)
	defer t.Stop()

	var (
		lastReport time.Time
		tickSpeed  time.Duration
		loopSpeed  time.Duration
	)
	for {
		var now time.Time
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("read spectrum: %w", err)
		case now = <-t.C:
		}

		if !alive() {
			w.log.Infof("superseded, leaving %q", device)
			return nil
		}
		switch w.control.Load() {
		case Abort:
			w.log.Info("abort requested")
			return nil
		case Reload:
			if err := plugins.Reload(ctx); err != nil {
				w.log.Errorf("%v", err)
			}
			w.control.CompareAndSwap(Reload, Continue)
		}

		start := time.Now()
	drain:
		for {
			select {
			case f := <-frames:
				analyzer.Process(f.at, f.bins)
			default:
				break drain
			}
		}

		var midiIn []midi.Event
		if w.deps.MIDI != nil {
			in, err := w.deps.MIDI.Tick()
			if err != nil {
				w.log.Warnf("midi: %v", err)
			}
			midiIn = in
		}

		snap := w.deps.Collector.Snapshot()
		tickSpeed = plugins.Tick(ctx, snap, midiIn)
		if plugins.StatusChanged() {
			w.deps.Pub.Publish(system.PluginStatus(plugins.Statuses()))
		}

		changed := w.deps.Engine.Tick(now, snap)
		buf := w.deps.Engine.Output()
		if w.deps.Out != nil {
			if err := w.deps.Out.Write(buf[:]); err != nil {
				w.log.Debugf("output: %v", err)
			}
		}
		if changed {
			w.deps.Pub.Publish(system.DMX(buf[:]))
		}
		loopSpeed = time.Since(start)

		if now.Sub(lastReport) >= reportInterval {
			lastReport = now
			w.deps.Pub.Publish(system.TickSpeed(tickSpeed))
			w.deps.Pub.Publish(system.LoopSpeed(loopSpeed))
		}
	}
}

// capture owns src: it reads frames until stop is closed or a read fails,
// then closes the source.
func (w *Worker) capture(src audio.Source, frames chan<- spectrum, readErr chan<- error, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := src.Close(); err != nil {
			w.log.Warnf("close audio source: %v", err)
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}
		bins, err := src.Read()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frames <- spectrum{at: time.Now(), bins: bins}:
		default:
			w.log.Debug("worker lagging, spectrum frame dropped")
		}
	}
}
