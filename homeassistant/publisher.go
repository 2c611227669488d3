package homeassistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cepro/gpio2mqtt/telemetry"
)

// Client is the subset of mqtt.Client used to talk to Home Assistant.
type Client interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topics []string) error
}

// StatePayload is the JSON published on a telemetry device's state topic. Power without a direction tag is
// reported as 0 in both of its directional fields.
type StatePayload struct {
	State                       telemetry.State `json:"state"`
	StateOfCharge               uint16          `json:"state_of_charge"`
	TotalChargeEnergy           uint32          `json:"total_charge_energy"`
	BatteryActiveChargePower    uint16          `json:"battery_active_charge_power"`
	BatteryActiveDischargePower uint16          `json:"battery_active_discharge_power"`
	GridBackfeedPower           uint16          `json:"grid_backfeed_power"`
	GridConsumptionPower        uint16          `json:"grid_consumption_power"`
}

func NewStatePayload(m telemetry.Measurement) StatePayload {
	payload := StatePayload{
		State:             m.State,
		StateOfCharge:     m.StateOfCharge,
		TotalChargeEnergy: m.TotalChargeEnergy,
	}

	if p := m.ActiveBatteryPower; p != nil {
		switch p.Direction {
		case telemetry.Charge:
			payload.BatteryActiveChargePower = p.Magnitude
		case telemetry.Discharge:
			payload.BatteryActiveDischargePower = p.Magnitude
		}
	}

	if g := m.GridPower; g != nil {
		switch g.Direction {
		case telemetry.Backfeed:
			payload.GridBackfeedPower = g.Watts
		case telemetry.Consumption:
			payload.GridConsumptionPower = g.Watts
		}
	}

	return payload
}

// Publisher announces the bridge and its devices to Home Assistant and publishes device state.
type Publisher struct {
	client  Client
	configs []Config
	logger  *slog.Logger
}

// NewPublisher returns a publisher that registers the given discovery payloads on every call to RegisterDevices.
func NewPublisher(client Client, configs []Config) *Publisher {
	return &Publisher{
		client:  client,
		configs: configs,
		logger:  slog.Default().With("component", "homeassistant"),
	}
}

func (p *Publisher) AnnounceOnline() error {
	return p.client.Publish(AvailabilityTopic, []byte(PayloadOnline), true)
}

func (p *Publisher) AnnounceOffline() error {
	return p.client.Publish(AvailabilityTopic, []byte(PayloadOffline), true)
}

// RegisterDevices publishes the retained discovery payloads and then subscribes to the cover command topics. A
// failed payload doesn't stop the others from being published.
func (p *Publisher) RegisterDevices() error {

	var errs []error
	var commandTopics []string

	for _, config := range p.configs {
		payload, err := json.Marshal(config)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal discovery config for %s: %w", config.UniqueID, err))
			continue
		}

		p.logger.Debug("Publishing discovery config", "topic", config.Topic)
		err = p.client.Publish(config.Topic, payload, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", config.UniqueID, err))
		}

		if config.CommandTopic != "" {
			commandTopics = append(commandTopics, config.CommandTopic)
		}
	}

	err := p.client.Subscribe(commandTopics)
	if err != nil {
		errs = append(errs, fmt.Errorf("subscribe to command topics: %w", err))
	}

	return errors.Join(errs...)
}

// PublishState publishes the measurement, not retained, on the given state topic.
func (p *Publisher) PublishState(topic string, m telemetry.Measurement) error {
	payload, err := json.Marshal(NewStatePayload(m))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	p.logger.Debug("Publishing state", "topic", topic, "payload", string(payload))
	err = p.client.Publish(topic, payload, false)
	if err != nil {
		return fmt.Errorf("publish state: %w", err)
	}
	return nil
}
