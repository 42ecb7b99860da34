package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger   LogConf      `toml:"logger"`   // Logger - конфигурация регистратора.
	MQTT     MQTTConf     `toml:"mqtt"`     // MQTT - конфигурация MQTT клиента.
	ArtNet   ArtNetConf   `toml:"artnet"`   // ArtNet - выход DMX по сети.
	Serial   SerialConf   `toml:"serial"`   // Serial - выход DMX через USB интерфейс.
	Audio    AudioConf    `toml:"audio"`    // Audio - устройство захвата звука.
	Analyzer AnalyzerConf `toml:"analyzer"` // Analyzer - параметры анализа сигнала.
	Engine   EngineConf   `toml:"engine"`   // Engine - DMX движок.
	Plugins  []PluginConf `toml:"plugins"`  // Plugins - список плагинов.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level string `toml:"log-level"` // Level - уровень логирования.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID    string `toml:"clientID"`     // ClientID - имя клиента.
	Host        string `toml:"server"`       // Host - адрес MQTT сервера. Empty disables the bridge.
	Port        string `toml:"port"`         // Port - порт MQTT сервера.
	User        string `toml:"user"`         // User - логин для подключения к MQTT серверу.
	Password    string `toml:"password"`     // Password - пароль для подключения к MQTT серверу.
	Qos         byte   `toml:"qos"`          // Qos - качество обслуживания.
	TopicPrefix string `toml:"topic-prefix"` // TopicPrefix - корень всех топиков.
}

// ArtNetConf describes the Art-Net output.
type ArtNetConf struct {
	Enabled      bool   `toml:"enabled"`
	AddressRange string `toml:"address-range"` // CIDR the art-net interface lives in.
	Universe     uint16 `toml:"universe"`      // high byte Net, low byte SubUni.
	MaxFPS       int    `toml:"max-fps"`
}

// SerialConf describes the Enttec DMX USB Pro output.
type SerialConf struct {
	Port string `toml:"port"` // Empty disables the serial output.
	Baud int    `toml:"baud"`
}

// AudioConf selects the capture device and the spectrum shape.
type AudioConf struct {
	DefaultDevice   string  `toml:"default-device"`
	FramesPerBuffer int     `toml:"frames-per-buffer"`
	Bins            int     `toml:"bins"`
	FreqMin         float64 `toml:"freq-min"`
	FreqMax         float64 `toml:"freq-max"`
}

// AnalyzerConf holds the analyzer tuning.
type AnalyzerConf struct {
	BassModifier      uint8 `toml:"bass-modifier"`       // percent, 65 by default.
	PublishIntervalMs int   `toml:"publish-interval-ms"` // signal publication throttle.
}

// EngineConf configures the DMX engine and the worker loop.
type EngineConf struct {
	TickIntervalMs  int    `toml:"tick-interval-ms"`
	PatchFile       string `toml:"patch"` // YAML fixture patch, empty uses the built-in rig.
	PluginTimeoutMs int    `toml:"plugin-timeout-ms"`
}

// PluginConf описывает один плагин.
type PluginConf struct {
	FilePath string `toml:"file"`
	Enabled  bool   `toml:"enabled"`
	Watch    bool   `toml:"watch"` // reload on content change.
}

// Default returns the configuration used for missing fields.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		MQTT: MQTTConf{
			Port:        "1883",
			TopicPrefix: "blaulicht",
		},
		ArtNet: ArtNetConf{
			AddressRange: "192.168.6.0/24",
			MaxFPS:       40,
		},
		Serial: SerialConf{Baud: 250000},
		Audio: AudioConf{
			FramesPerBuffer: 1024,
			Bins:            32,
			FreqMin:         30,
			FreqMax:         250,
		},
		Analyzer: AnalyzerConf{
			BassModifier:      65,
			PublishIntervalMs: 50,
		},
		Engine: EngineConf{
			TickIntervalMs:  25,
			PluginTimeoutMs: 20,
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.TickIntervalMs <= 0 {
		return fmt.Errorf("engine.tick-interval-ms must be positive, got %d", c.Engine.TickIntervalMs)
	}
	if c.Analyzer.BassModifier == 0 {
		return fmt.Errorf("analyzer.bass-modifier must be positive")
	}
	if c.Audio.Bins <= 0 || c.Audio.FreqMax <= c.Audio.FreqMin {
		return fmt.Errorf("audio: invalid spectrum shape (bins=%d, %v..%v Hz)", c.Audio.Bins, c.Audio.FreqMin, c.Audio.FreqMax)
	}
	for i, p := range c.Plugins {
		if p.FilePath == "" {
			return fmt.Errorf("plugins[%d]: file is empty", i)
		}
	}
	return nil
}

// Save записывает конфигурацию обратно на диск.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("config create: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return fmt.Errorf("config encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
