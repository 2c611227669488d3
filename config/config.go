package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file is read from unless overridden on the command line
const DefaultPath = "/etc/gpio2mqtt.yaml"

const (
	defaultClientID           = "gpio2mqtt_bridge"
	defaultMQTTPort           = 1883
	defaultModbusPort         = 502
	defaultUnitID             = 1
	defaultPollIntervalSecs   = 10
	defaultModbusTimeoutMs    = 2000
	defaultPulseMs            = 100
	defaultDriver             = "simonvetter"
	defaultUploadIntervalSecs = 30
	defaultBufferFile         = "telemetry.sqlite"
	defaultSupabaseTable      = "gpio2mqtt_inverter_readings"
	defaultLogLevel           = "info"
)

type DeviceConfig struct {
	Identifier   string `yaml:"identifier"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	SWVersion    string `yaml:"swVersion"`
}

type CoverConfig struct {
	Name    string `yaml:"name"`
	Chip    string `yaml:"chip"`
	UpPin   int    `yaml:"upPin"`
	DownPin int    `yaml:"downPin"`
	StopPin int    `yaml:"stopPin"`
	// Group names the set of covers that are paced together, it defaults to the chip
	Group string `yaml:"group"`
	// TxTimeoutMs is the extra delay after each actuation of this cover
	TxTimeoutMs int          `yaml:"txTimeoutMs"`
	PulseMs     int          `yaml:"pulseMs"`
	Device      DeviceConfig `yaml:"device"`
}

// GroupName returns the pacing group that the cover belongs to. Chips are grouped by device name, so
// `gpiochip0` and `/dev/gpiochip0` share a group.
func (c CoverConfig) GroupName() string {
	if c.Group != "" {
		return c.Group
	}
	return chipGroup(c.Chip)
}

func chipGroup(chip string) string {
	return filepath.Base(chip)
}

func (c CoverConfig) DeviceDelay() time.Duration {
	return time.Duration(c.TxTimeoutMs) * time.Millisecond
}

func (c CoverConfig) Pulse() time.Duration {
	return time.Duration(c.PulseMs) * time.Millisecond
}

type SunspecConfig struct {
	Name             string       `yaml:"name"`
	Host             string       `yaml:"host"`
	Port             int          `yaml:"port"`
	UnitID           uint8        `yaml:"unitId"`
	Driver           string       `yaml:"driver"`
	TimeoutMs        int          `yaml:"timeoutMs"`
	PollIntervalSecs int          `yaml:"pollIntervalSecs"`
	Emulated         bool         `yaml:"emulated"`
	Device           DeviceConfig `yaml:"device"`
}

func (s SunspecConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s SunspecConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

func (s SunspecConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

type SupabaseConfig struct {
	Url string `yaml:"url"`
	// key is specified via env var
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
}

type DataPlatformConfig struct {
	UploadIntervalSecs int            `yaml:"uploadIntervalSecs"`
	BufferFile         string         `yaml:"bufferFile"`
	Supabase           SupabaseConfig `yaml:"supabase"`
}

func (d DataPlatformConfig) UploadInterval() time.Duration {
	return time.Duration(d.UploadIntervalSecs) * time.Second
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File additionally writes logs to a rotated file when set
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type Config struct {
	ClientID string `yaml:"clientId"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	// password is specified via env var

	// GlobalTxTimeoutMs is the delay between actuations of covers in the same group
	GlobalTxTimeoutMs int `yaml:"globalTxTimeoutMs"`
	// Groups overrides GlobalTxTimeoutMs for individual groups
	Groups map[string]int `yaml:"groups"`

	Covers         []CoverConfig       `yaml:"covers"`
	SunspecDevices []SunspecConfig     `yaml:"sunspecDevices"`
	DataPlatform   *DataPlatformConfig `yaml:"dataPlatform"`
	Log            LogConfig           `yaml:"log"`
}

// GroupDelay returns the delay between actuations within the named group.
func (c Config) GroupDelay(group string) time.Duration {
	if ms, ok := c.Groups[group]; ok {
		return time.Duration(ms) * time.Millisecond
	}
	for name, ms := range c.Groups {
		if chipGroup(name) == group {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(c.GlobalTxTimeoutMs) * time.Millisecond
}

// Read loads the YAML config file at `path`, fills in defaults and validates the result.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	config, err := Parse(content)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return config, nil
}

// Parse is Read without the file. Unknown keys are rejected so that typos don't silently fall back to defaults.
func Parse(content []byte) (Config, error) {
	var config Config

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	err := decoder.Decode(&config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&config)

	err = Validate(&config)
	if err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

func applyDefaults(c *Config) {
	if c.ClientID == "" {
		c.ClientID = defaultClientID
	}
	if c.Port == 0 {
		c.Port = defaultMQTTPort
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}

	for i := range c.Covers {
		cover := &c.Covers[i]
		if cover.PulseMs == 0 {
			cover.PulseMs = defaultPulseMs
		}
	}

	for i := range c.SunspecDevices {
		dev := &c.SunspecDevices[i]
		if dev.Port == 0 {
			dev.Port = defaultModbusPort
		}
		if dev.UnitID == 0 {
			dev.UnitID = defaultUnitID
		}
		if dev.Driver == "" {
			dev.Driver = defaultDriver
		}
		if dev.TimeoutMs == 0 {
			dev.TimeoutMs = defaultModbusTimeoutMs
		}
		if dev.PollIntervalSecs == 0 {
			dev.PollIntervalSecs = defaultPollIntervalSecs
		}
	}

	if dp := c.DataPlatform; dp != nil {
		if dp.UploadIntervalSecs == 0 {
			dp.UploadIntervalSecs = defaultUploadIntervalSecs
		}
		if dp.BufferFile == "" {
			dp.BufferFile = defaultBufferFile
		}
		if dp.Supabase.Table == "" {
			dp.Supabase.Table = defaultSupabaseTable
		}
	}
}
