// Package events defines the messages that flow on the coordinator's unified event channel.
package events

import (
	"github.com/cepro/gpio2mqtt/telemetry"
)

// Event is one of MeasurementEvent, BrokerMessageEvent or BrokerConnectedEvent.
type Event interface {
	isEvent()
}

// MeasurementEvent carries a real or fallback measurement from the poller of the device identified by Key.
type MeasurementEvent struct {
	Key         string
	Measurement telemetry.Measurement
}

// BrokerMessageEvent is an inbound message received on a subscribed topic.
type BrokerMessageEvent struct {
	Topic   string
	Payload []byte
}

// BrokerConnectedEvent is raised on every successful (re)connection to the broker.
type BrokerConnectedEvent struct{}

func (MeasurementEvent) isEvent()     {}
func (BrokerMessageEvent) isEvent()   {}
func (BrokerConnectedEvent) isEvent() {}
