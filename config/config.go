// Package config holds the device configuration. On the original hardware
// these were compile-time constants; here they load from a YAML file with
// the same defaults baked in.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root document.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Control     ControlConfig     `yaml:"control"`
	Stream      StreamConfig      `yaml:"stream"`
	ADC         ADCConfig         `yaml:"adc"`
	StatusLink  StatusLinkConfig  `yaml:"status_link"`
	EnergyDebug EnergyDebugConfig `yaml:"energy_debug"`
	Charger     ChargerConfig     `yaml:"charger"`
	Log         LogConfig         `yaml:"log"`
}

// DeviceConfig identifies the instrument on the network.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Netmask string `yaml:"netmask"`
	Gateway string `yaml:"gateway"`
}

// ControlConfig configures the TCP command service.
type ControlConfig struct {
	Port          int `yaml:"port"`
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

// StreamConfig bounds the sample-stream engine.
type StreamConfig struct {
	MaxConnections int `yaml:"max_connections"`
	QueueDepth     int `yaml:"queue_depth"`
}

// ADCConfig carries the power-on acquisition defaults.
type ADCConfig struct {
	Resolution       uint8   `yaml:"resolution"`
	ClockDiv         uint16  `yaml:"clock_div"`
	SampleTime       float64 `yaml:"sample_time"` // cycles, both channels
	Averaging        uint16  `yaml:"averaging"`
	Prescaler        uint16  `yaml:"prescaler"`
	Period           uint32  `yaml:"period"`
	SamplesPerBuffer uint32  `yaml:"samples_per_buffer"`
}

// StatusLinkConfig bounds the status-link fan-out.
type StatusLinkConfig struct {
	MaxLinks   int `yaml:"max_links"`
	QueueDepth int `yaml:"queue_depth"`
}

// EnergyDebugConfig configures the breakpoint fan-out and its tag UART.
type EnergyDebugConfig struct {
	MaxPeers int    `yaml:"max_peers"`
	TagPort  string `yaml:"tag_port"` // serial device; empty = disabled
	TagBaud  int    `yaml:"tag_baud"`
}

// ChargerConfig configures the two-wire charger supervisor.
type ChargerConfig struct {
	Address      uint16 `yaml:"address"`
	PollPeriodMS int    `yaml:"poll_period_ms"`
}

// LogConfig configures the debug console sink.
type LogConfig struct {
	File       string `yaml:"file"` // empty = stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration the firmware ships with.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:    "ACQ Device",
			Address: "192.168.8.2",
			Netmask: "255.255.255.0",
			Gateway: "192.168.8.1",
		},
		Control: ControlConfig{
			Port:          5000,
			ReadTimeoutMS: 1000,
		},
		Stream: StreamConfig{
			MaxConnections: 4,
			QueueDepth:     4,
		},
		ADC: ADCConfig{
			Resolution:       16,
			ClockDiv:         4,
			SampleTime:       8.5,
			Averaging:        1,
			Prescaler:        107,
			Period:           9,
			SamplesPerBuffer: 512,
		},
		StatusLink: StatusLinkConfig{
			MaxLinks:   4,
			QueueDepth: 16,
		},
		EnergyDebug: EnergyDebugConfig{
			MaxPeers: 4,
			TagBaud:  115200,
		},
		Charger: ChargerConfig{
			Address:      0x6B,
			PollPeriodMS: 1000,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load reads path and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects values the hardware could not honour.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device name must not be empty")
	}
	if net.ParseIP(c.Device.Address) == nil {
		return fmt.Errorf("bad device address %q", c.Device.Address)
	}
	if c.Control.Port <= 0 || c.Control.Port > 65535 {
		return fmt.Errorf("bad control port %d", c.Control.Port)
	}
	if c.Control.ReadTimeoutMS <= 0 {
		return fmt.Errorf("control read timeout must be positive")
	}
	if c.Stream.MaxConnections <= 0 {
		return fmt.Errorf("stream max_connections must be positive")
	}
	if c.StatusLink.MaxLinks <= 0 || c.StatusLink.QueueDepth <= 0 {
		return fmt.Errorf("status link caps must be positive")
	}
	if c.EnergyDebug.MaxPeers <= 0 {
		return fmt.Errorf("energy debug max_peers must be positive")
	}
	return nil
}
