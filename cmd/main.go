package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blaulicht/internal/artnet"
	"blaulicht/internal/audio"
	"blaulicht/internal/clientmqtt"
	"blaulicht/internal/config"
	"blaulicht/internal/dmx"
	"blaulicht/internal/event"
	"blaulicht/internal/logger"
	"blaulicht/internal/mainloop"
	"blaulicht/internal/midi"
	"blaulicht/internal/output"
	"blaulicht/internal/plugin"
	"blaulicht/internal/system"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	bus := event.NewBus(log)
	go bus.Run(ctx)

	state, err := dmx.LoadPatch(cfg.Engine.PatchFile)
	if err != nil {
		log.With(logger.Fields{"module": "engine"}).Errorf("patch %s: %v", cfg.Engine.PatchFile, err)
		os.Exit(1)
	}

	pub := system.NewPublisher(256, system.NewLogBuffer(500))
	engine := dmx.NewEngine(log, state, bus.Connect(), pub)

	var midiManager *midi.Manager
	if rt, err := midi.NewRtMidi(); err != nil {
		log.With(logger.Fields{"module": "midi"}).Warnf("midi disabled: %v", err)
	} else {
		midiManager = midi.NewManager(log, rt)
	}

	sinks := output.NewMulti(log)
	if cfg.ArtNet.Enabled {
		a, err := artnet.NewController(log, cfg.ArtNet)
		if err != nil {
			log.With(logger.Fields{"module": "art-net"}).Errorf("error while creating a new controller art-net. %v", err)
			os.Exit(1)
		}
		if err = a.Start(ctx); err != nil {
			log.Error("failed to start art-net service:", err.Error())
			os.Exit(1)
		}
		_ = sinks.Set("art-net", a)
	}
	selectSerial := func(port string) error {
		if port == "" {
			return sinks.Set("serial", nil)
		}
		s, err := output.OpenSerial(log, port, cfg.Serial.Baud)
		if err != nil {
			return err
		}
		return sinks.Set("serial", s)
	}
	if err = selectSerial(cfg.Serial.Port); err != nil {
		log.With(logger.Fields{"module": "serial"}).Errorf("open %s: %v", cfg.Serial.Port, err)
	}

	if err = audio.Init(); err != nil {
		log.Error("failed to initialize audio:", err.Error())
		os.Exit(1)
	}

	// Канал команд оператора.
	commands := make(chan system.Command, 16)

	var (
		client  *clientmqtt.ClientMQTT
		signals chan audio.Signal
	)
	if cfg.MQTT.Host != "" {
		signals = make(chan audio.Signal, 64)
		client = clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT), bus.Connect(), commands)
		log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")
		if err = client.Start(ctx); err != nil {
			log.Error("failed to start MQTT service:", err.Error())
			cancel()
		}
		go client.Run(ctx, signals, pub.C())
	} else {
		go logMessages(ctx, log, pub.C())
	}

	if paths := plugin.WatchedPaths(cfg.Plugins); len(paths) > 0 {
		go func() {
			err := plugin.Watch(ctx, log, paths, func(string) {
				select {
				case commands <- system.Reload():
				default:
				}
			})
			if err != nil {
				log.With(logger.Fields{"module": "watcher"}).Errorf("plugin watcher stopped: %v", err)
			}
		}()
	}

	control := &mainloop.Control{}
	worker := mainloop.NewWorker(log, *cfg, control, mainloop.Deps{
		Bus:     bus,
		Engine:  engine,
		MIDI:    midiManager,
		Out:     sinks,
		Pub:     pub,
		Signals: signals,
		Open: func(device string) (audio.Source, error) {
			c, err := audio.OpenCapture(cfg.Audio, device)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	})

	saved := *cfg
	hooks := mainloop.Hooks{
		Devices: audio.Devices,
		Persist: func(device string) error {
			saved.Audio.DefaultDevice = device
			return config.Save(configFile, saved)
		},
		SelectSerial: selectSerial,
	}
	if midiManager != nil {
		hooks.Inject = midiManager.Inject
	}

	sup := mainloop.NewSupervisor(log, control, worker, pub, commands, cfg.Audio.DefaultDevice, hooks)
	sup.Run(ctx)

	if client != nil {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}
	if err := sinks.Close(); err != nil {
		log.Error("failed to close outputs:", err.Error())
	}
	if midiManager != nil {
		if err := midiManager.Close(); err != nil {
			log.Error("failed to close midi:", err.Error())
		}
	}
	if err := audio.Terminate(); err != nil {
		log.Error("failed to terminate audio:", err.Error())
	}

	log.Info("shutdown complete")
}

// logMessages отображает системные сообщения в журнале, когда MQTT выключен.
func logMessages(ctx context.Context, log logger.Logger, msgs <-chan system.Message) {
	l := log.With(logger.Fields{"module": "system"})
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-msgs:
			switch m.Kind {
			case system.KindLog, system.KindPluginLog:
				l.Info(m.String())
			case system.KindDMX, system.KindTickSpeed, system.KindLoopSpeed, system.KindHeartbeat:
			default:
				l.Debug(m.String())
			}
		}
	}
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:    cfg.ClientID,
		Schema:      "tcp",
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Qos:         cfg.Qos,
		TopicPrefix: cfg.TopicPrefix,
	}
}
