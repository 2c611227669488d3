package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
host: mqtt.local
globalTxTimeoutMs: 500
groups:
  garden: 1000
covers:
  - name: Kitchen blind
    chip: gpiochip0
    upPin: 17
    downPin: 27
    stopPin: 22
    txTimeoutMs: 250
    device:
      identifier: kitchen_blind
      manufacturer: Somfy
  - name: Garden awning
    chip: gpiochip0
    group: garden
    upPin: 5
    downPin: 6
    stopPin: 13
    pulseMs: 200
    device:
      identifier: garden_awning
sunspecDevices:
  - name: Varta
    host: 192.168.1.50
    device:
      identifier: varta
      manufacturer: Varta
      model: element
dataPlatform:
  supabase:
    url: https://example.supabase.co
    schema: gpio2mqtt
log:
  level: debug
  file: /var/log/gpio2mqtt.log
`

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpio2mqtt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0o600))

	config, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, "gpio2mqtt_bridge", config.ClientID)
	assert.Equal(t, "mqtt.local", config.Host)
	assert.Equal(t, 1883, config.Port)

	require.Len(t, config.Covers, 2)
	kitchen := config.Covers[0]
	assert.Equal(t, "gpiochip0", kitchen.GroupName())
	assert.Equal(t, 250*time.Millisecond, kitchen.DeviceDelay())
	assert.Equal(t, 100*time.Millisecond, kitchen.Pulse())
	assert.Equal(t, "Somfy", kitchen.Device.Manufacturer)

	garden := config.Covers[1]
	assert.Equal(t, "garden", garden.GroupName())
	assert.Equal(t, 200*time.Millisecond, garden.Pulse())
	assert.Equal(t, time.Duration(0), garden.DeviceDelay())

	assert.Equal(t, 500*time.Millisecond, config.GroupDelay("gpiochip0"))
	assert.Equal(t, time.Second, config.GroupDelay("garden"))

	require.Len(t, config.SunspecDevices, 1)
	varta := config.SunspecDevices[0]
	assert.Equal(t, "192.168.1.50:502", varta.Address())
	assert.Equal(t, uint8(1), varta.UnitID)
	assert.Equal(t, "simonvetter", varta.Driver)
	assert.Equal(t, 10*time.Second, varta.PollInterval())
	assert.Equal(t, 2*time.Second, varta.Timeout())
	assert.False(t, varta.Emulated)

	require.NotNil(t, config.DataPlatform)
	assert.Equal(t, 30*time.Second, config.DataPlatform.UploadInterval())
	assert.Equal(t, "telemetry.sqlite", config.DataPlatform.BufferFile)
	assert.Equal(t, "gpio2mqtt_inverter_readings", config.DataPlatform.Supabase.Table)

	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "/var/log/gpio2mqtt.log", config.Log.File)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseMinimal(t *testing.T) {
	config, err := Parse([]byte("host: localhost\n"))
	require.NoError(t, err)

	assert.Empty(t, config.Covers)
	assert.Empty(t, config.SunspecDevices)
	assert.Nil(t, config.DataPlatform)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, time.Duration(0), config.GroupDelay("gpiochip0"))
}

func TestCoversOnTheSameChipShareAGroup(t *testing.T) {
	config := Config{
		GlobalTxTimeoutMs: 100,
		Groups:            map[string]int{"/dev/gpiochip0": 500},
		Covers: []CoverConfig{
			{Chip: "gpiochip0"},
			{Chip: "/dev/gpiochip0"},
			{Chip: "/dev/gpiochip1"},
			{Chip: "/dev/gpiochip0", Group: "blinds"},
		},
	}

	assert.Equal(t, "gpiochip0", config.Covers[0].GroupName())
	assert.Equal(t, config.Covers[0].GroupName(), config.Covers[1].GroupName())
	assert.Equal(t, "gpiochip1", config.Covers[2].GroupName())
	assert.Equal(t, "blinds", config.Covers[3].GroupName())

	assert.Equal(t, 500*time.Millisecond, config.GroupDelay(config.Covers[0].GroupName()))
	assert.Equal(t, 100*time.Millisecond, config.GroupDelay(config.Covers[2].GroupName()))
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("host: localhost\nglobalTxTimeout: 500\n"))
	assert.ErrorContains(t, err, "globalTxTimeout")
}

func validConfig() Config {
	config := Config{
		Host: "localhost",
		Covers: []CoverConfig{
			{Name: "a", Chip: "gpiochip0", UpPin: 1, DownPin: 2, StopPin: 3, Device: DeviceConfig{Identifier: "cover_a"}},
		},
		SunspecDevices: []SunspecConfig{
			{Name: "b", Host: "10.0.0.2", Device: DeviceConfig{Identifier: "varta"}},
		},
	}
	applyDefaults(&config)
	return config
}

func TestValidate(t *testing.T) {

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "missing host",
			mutate: func(c *Config) { c.Host = "" },
			errMsg: "broker host is required",
		},
		{
			name:   "bad port",
			mutate: func(c *Config) { c.Port = 70000 },
			errMsg: "port: 70000 is out of range",
		},
		{
			name:   "bad identifier",
			mutate: func(c *Config) { c.Covers[0].Device.Identifier = "cover a" },
			errMsg: "must match [a-zA-Z0-9_]+",
		},
		{
			name:   "duplicate identifier",
			mutate: func(c *Config) { c.SunspecDevices[0].Device.Identifier = "cover_a" },
			errMsg: "already used by covers[0]",
		},
		{
			name:   "shared pins",
			mutate: func(c *Config) { c.Covers[0].StopPin = 1 },
			errMsg: "pins must be distinct",
		},
		{
			name:   "negative group delay",
			mutate: func(c *Config) { c.Groups = map[string]int{"gpiochip0": -1} },
			errMsg: "must not be negative",
		},
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.SunspecDevices[0].Driver = "goburrow" },
			errMsg: "unknown driver",
		},
		{
			name: "emulated device needs no host",
			mutate: func(c *Config) {
				c.SunspecDevices[0].Host = ""
				c.SunspecDevices[0].Emulated = true
			},
		},
		{
			name:   "data platform without url",
			mutate: func(c *Config) { c.DataPlatform = &DataPlatformConfig{} },
			errMsg: "supabase url is required",
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Log.Level = "verbose" },
			errMsg: "unknown level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)
			err := Validate(&config)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	config := validConfig()
	config.Host = ""
	config.Covers[0].Chip = ""

	err := Validate(&config)
	assert.ErrorContains(t, err, "broker host is required")
	assert.ErrorContains(t, err, "chip is required")
}
