package homeassistant

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cepro/gpio2mqtt/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic    string
	payload  string
	retained bool
}

type fakeClient struct {
	published    []message
	subscribed   []string
	publishErr   error
	subscribeErr error
}

func (f *fakeClient) Publish(topic string, payload []byte, retained bool) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, message{topic: topic, payload: string(payload), retained: retained})
	return nil
}

func (f *fakeClient) Subscribe(topics []string) error {
	f.subscribed = append(f.subscribed, topics...)
	return f.subscribeErr
}

var kitchen = DeviceInfo{
	Identifier:   "kitchen_blind",
	Name:         "Kitchen blind",
	Manufacturer: "Somfy",
	Model:        "RTS",
	SWVersion:    "1.0",
}

var inverter = DeviceInfo{
	Identifier:   "varta",
	Name:         "Varta",
	Manufacturer: "Varta",
	Model:        "element",
	SWVersion:    "EMS 2.31",
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "gpio2mqtt/kitchen_blind/set", CommandTopic("kitchen_blind"))
	assert.Equal(t, "gpio2mqtt/varta/state", StateTopic("varta"))
	assert.Equal(t, "gpio2mqtt/bridge/state", AvailabilityTopic)
}

func TestCoverConfig(t *testing.T) {
	config := CoverConfig(kitchen)
	assert.Equal(t, "homeassistant/cover/gpio2mqtt_kitchen_blind/config", config.Topic)

	payload, err := json.Marshal(config)
	require.NoError(t, err)

	// covers never report a software version
	assert.JSONEq(t, `{
		"name": "Kitchen blind",
		"unique_id": "gpio2mqtt_kitchen_blind",
		"availability": [{"topic": "gpio2mqtt/bridge/state"}],
		"device": {"name": "Kitchen blind", "identifiers": ["kitchen_blind"], "manufacturer": "Somfy", "model": "RTS"},
		"command_topic": "gpio2mqtt/kitchen_blind/set"
	}`, string(payload))
}

func TestSensorConfigs(t *testing.T) {
	configs := SensorConfigs(inverter)
	require.Len(t, configs, 7)

	names := make([]string, 0, len(configs))
	for _, config := range configs {
		names = append(names, config.UniqueID)
		assert.Equal(t, "gpio2mqtt/varta/state", config.StateTopic)
		assert.Equal(t, "EMS 2.31", config.Device.SWVersion)
		assert.Empty(t, config.CommandTopic)
	}
	assert.Equal(t, []string{
		"gpio2mqtt_varta_state",
		"gpio2mqtt_varta_battery_active_charge_power",
		"gpio2mqtt_varta_battery_active_discharge_power",
		"gpio2mqtt_varta_state_of_charge",
		"gpio2mqtt_varta_total_charge_energy",
		"gpio2mqtt_varta_grid_consumption_power",
		"gpio2mqtt_varta_grid_backfeed_power",
	}, names)

	payload, err := json.Marshal(configs[4])
	require.NoError(t, err)
	assert.Equal(t, "homeassistant/sensor/gpio2mqtt_varta/total_charge_energy/config", configs[4].Topic)
	assert.JSONEq(t, `{
		"name": "Varta total_charge_energy",
		"unique_id": "gpio2mqtt_varta_total_charge_energy",
		"availability": [{"topic": "gpio2mqtt/bridge/state"}],
		"device": {"name": "Varta", "identifiers": ["varta"], "manufacturer": "Varta", "model": "element", "sw_version": "EMS 2.31"},
		"state_topic": "gpio2mqtt/varta/state",
		"state_class": "total_increasing",
		"device_class": "energy",
		"unit_of_measurement": "Wh",
		"value_template": "{{ value_json.total_charge_energy }}"
	}`, string(payload))

	// the state sensor is text, so it has no device class or unit
	assert.Empty(t, configs[0].DeviceClass)
	assert.Empty(t, configs[0].UnitOfMeasurement)
}

func TestNewStatePayload(t *testing.T) {

	tests := []struct {
		name     string
		active   *telemetry.BatteryPower
		grid     *telemetry.GridPower
		expected string
	}{
		{
			name:     "charging and consuming",
			active:   &telemetry.BatteryPower{Direction: telemetry.Charge, Magnitude: 1500},
			grid:     &telemetry.GridPower{Direction: telemetry.Consumption, Watts: 400},
			expected: `{"state":"charging","state_of_charge":42,"total_charge_energy":70196,"battery_active_charge_power":1500,"battery_active_discharge_power":0,"grid_backfeed_power":0,"grid_consumption_power":400}`,
		},
		{
			name:     "discharging and backfeeding",
			active:   &telemetry.BatteryPower{Direction: telemetry.Discharge, Magnitude: 800},
			grid:     &telemetry.GridPower{Direction: telemetry.Backfeed, Watts: 5},
			expected: `{"state":"charging","state_of_charge":42,"total_charge_energy":70196,"battery_active_charge_power":0,"battery_active_discharge_power":800,"grid_backfeed_power":5,"grid_consumption_power":0}`,
		},
		{
			name:     "no flow",
			expected: `{"state":"charging","state_of_charge":42,"total_charge_energy":70196,"battery_active_charge_power":0,"battery_active_discharge_power":0,"grid_backfeed_power":0,"grid_consumption_power":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := telemetry.Measurement{
				State:              telemetry.StateCharging,
				StateOfCharge:      42,
				TotalChargeEnergy:  0x00011234,
				ActiveBatteryPower: tt.active,
				GridPower:          tt.grid,
			}
			payload, err := json.Marshal(NewStatePayload(m))
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(payload))
		})
	}
}

func TestDecodeVersion(t *testing.T) {
	regs := []uint16{0x454d, 0x5320, 0x322e, 0x3331, 0x0000, 0x0000}
	assert.Equal(t, "EMS 2.31", DecodeVersion(regs))

	assert.Equal(t, "", DecodeVersion(make([]uint16, 17)))
	assert.Equal(t, "A?", DecodeVersion([]uint16{0x41ff}))
}

func TestPublisherAvailability(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, nil)

	require.NoError(t, p.AnnounceOnline())
	require.NoError(t, p.AnnounceOffline())

	assert.Equal(t, []message{
		{topic: "gpio2mqtt/bridge/state", payload: "online", retained: true},
		{topic: "gpio2mqtt/bridge/state", payload: "offline", retained: true},
	}, client.published)
}

func TestPublisherRegisterDevices(t *testing.T) {
	client := &fakeClient{}
	configs := append([]Config{CoverConfig(kitchen)}, SensorConfigs(inverter)...)
	p := NewPublisher(client, configs)

	require.NoError(t, p.RegisterDevices())

	require.Len(t, client.published, 8)
	for i, msg := range client.published {
		assert.Equal(t, configs[i].Topic, msg.topic)
		assert.True(t, msg.retained)
	}
	assert.Equal(t, []string{"gpio2mqtt/kitchen_blind/set"}, client.subscribed)
}

func TestPublisherRegisterDevicesErrors(t *testing.T) {
	brokerErr := errors.New("not connected")
	client := &fakeClient{publishErr: brokerErr, subscribeErr: brokerErr}
	p := NewPublisher(client, []Config{CoverConfig(kitchen)})

	err := p.RegisterDevices()
	assert.ErrorIs(t, err, brokerErr)

	// subscription is still attempted
	assert.Equal(t, []string{"gpio2mqtt/kitchen_blind/set"}, client.subscribed)
}

func TestPublishState(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, nil)

	m := telemetry.Measurement{State: telemetry.StateStandby, StateOfCharge: 100}
	require.NoError(t, p.PublishState("gpio2mqtt/varta/state", m))

	require.Len(t, client.published, 1)
	assert.Equal(t, "gpio2mqtt/varta/state", client.published[0].topic)
	assert.False(t, client.published[0].retained)
	assert.Contains(t, client.published[0].payload, `"state":"standby"`)
}

func TestPublishStateRejectsUnknownState(t *testing.T) {
	p := NewPublisher(&fakeClient{}, nil)
	err := p.PublishState("gpio2mqtt/varta/state", telemetry.Measurement{State: telemetry.State(99)})
	assert.ErrorIs(t, err, telemetry.ErrUnknownState)
}
