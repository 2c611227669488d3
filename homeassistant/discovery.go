// Package homeassistant holds the topic layout and the payloads that let Home Assistant discover and talk to the
// bridge's devices over MQTT.
package homeassistant

import (
	"fmt"
	"strings"
)

const (
	BaseTopic         = "gpio2mqtt"
	DiscoveryPrefix   = "homeassistant"
	AvailabilityTopic = BaseTopic + "/bridge/state"

	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// CommandTopic is where Home Assistant sends OPEN, CLOSE and STOP for a cover.
func CommandTopic(id string) string {
	return fmt.Sprintf("%s/%s/set", BaseTopic, id)
}

// StateTopic is where the bridge publishes the state of a telemetry device.
func StateTopic(id string) string {
	return fmt.Sprintf("%s/%s/state", BaseTopic, id)
}

func uniqueID(id string) string {
	return fmt.Sprintf("%s_%s", BaseTopic, id)
}

// DeviceInfo describes a physical device as configured by the user.
type DeviceInfo struct {
	Identifier   string
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
}

type Device struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type Availability struct {
	Topic string `json:"topic"`
}

// Config is a discovery payload, published retained at Topic.
type Config struct {
	Topic string `json:"-"`

	Name         string         `json:"name"`
	UniqueID     string         `json:"unique_id"`
	Availability []Availability `json:"availability"`
	Device       Device         `json:"device"`

	// covers
	CommandTopic string `json:"command_topic,omitempty"`

	// sensors
	StateTopic        string `json:"state_topic,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	ValueTemplate     string `json:"value_template,omitempty"`
}

func (d DeviceInfo) device(withVersion bool) Device {
	device := Device{
		Name:         d.Name,
		Identifiers:  []string{d.Identifier},
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
	}
	if withVersion {
		device.SWVersion = d.SWVersion
	}
	return device
}

// CoverConfig returns the discovery payload for a cover.
func CoverConfig(d DeviceInfo) Config {
	id := uniqueID(d.Identifier)
	return Config{
		Topic:        fmt.Sprintf("%s/cover/%s/config", DiscoveryPrefix, id),
		Name:         d.Name,
		UniqueID:     id,
		Availability: []Availability{{Topic: AvailabilityTopic}},
		Device:       d.device(false),
		CommandTopic: CommandTopic(d.Identifier),
	}
}

type sensor struct {
	name        string
	deviceClass string
	stateClass  string
	unit        string
}

var inverterSensors = []sensor{
	{name: "state", stateClass: "measurement"},
	{name: "battery_active_charge_power", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{name: "battery_active_discharge_power", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{name: "state_of_charge", deviceClass: "battery", stateClass: "measurement", unit: "%"},
	{name: "total_charge_energy", deviceClass: "energy", stateClass: "total_increasing", unit: "Wh"},
	{name: "grid_consumption_power", deviceClass: "power", stateClass: "measurement", unit: "W"},
	{name: "grid_backfeed_power", deviceClass: "power", stateClass: "measurement", unit: "W"},
}

// SensorConfigs returns one discovery payload per value of the inverter's state payload.
func SensorConfigs(d DeviceInfo) []Config {
	id := uniqueID(d.Identifier)
	stateTopic := StateTopic(d.Identifier)

	configs := make([]Config, 0, len(inverterSensors))
	for _, s := range inverterSensors {
		configs = append(configs, Config{
			Topic:             fmt.Sprintf("%s/sensor/%s/%s/config", DiscoveryPrefix, id, s.name),
			Name:              fmt.Sprintf("%s %s", d.Name, s.name),
			UniqueID:          fmt.Sprintf("%s_%s", id, s.name),
			Availability:      []Availability{{Topic: AvailabilityTopic}},
			Device:            d.device(true),
			StateTopic:        stateTopic,
			StateClass:        s.stateClass,
			DeviceClass:       s.deviceClass,
			UnitOfMeasurement: s.unit,
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.name),
		})
	}
	return configs
}

// DecodeVersion turns a software version register array into text. Each register holds two ASCII characters,
// high byte first, padded with NULs or spaces.
func DecodeVersion(regs []uint16) string {
	var sb strings.Builder
	for _, reg := range regs {
		for _, b := range []byte{byte(reg >> 8), byte(reg)} {
			if b == 0 {
				continue
			}
			if b < 0x20 || b > 0x7e {
				b = '?'
			}
			sb.WriteByte(b)
		}
	}
	return strings.TrimSpace(sb.String())
}
