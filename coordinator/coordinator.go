package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/cepro/gpio2mqtt/covers"
	"github.com/cepro/gpio2mqtt/events"
	"github.com/cepro/gpio2mqtt/telemetry"
)

var (
	// ErrUnknownRoute is returned for messages on a topic, or measurements from a device, that the coordinator
	// doesn't know about
	ErrUnknownRoute = errors.New("unknown route")
	// ErrDecode is returned for command payloads that are not valid text
	ErrDecode = errors.New("decode command payload")
)

// Publisher is implemented by homeassistant.Publisher
type Publisher interface {
	AnnounceOnline() error
	AnnounceOffline() error
	RegisterDevices() error
	PublishState(topic string, m telemetry.Measurement) error
}

// CommandSender is implemented by covers.Router
type CommandSender interface {
	Send(cmd covers.Command) error
	Close()
}

// Recorder receives every measurement that is published, it's implemented by dataplatform.DataPlatform
type Recorder interface {
	Record(m telemetry.Measurement)
}

// Coordinator is the single consumer of the event channel. It routes broker messages to covers, publishes
// measurements, and (re)registers the bridge with Home Assistant whenever the broker connection is established.
type Coordinator struct {
	events    <-chan events.Event
	publisher Publisher
	recorder  Recorder

	covers  map[string]CommandSender // keyed by command topic
	devices map[string]struct{}      // keyed by state topic

	logger *slog.Logger
}

func New(eventsCh <-chan events.Event, publisher Publisher) *Coordinator {
	return &Coordinator{
		events:    eventsCh,
		publisher: publisher,
		covers:    make(map[string]CommandSender),
		devices:   make(map[string]struct{}),
		logger:    slog.Default().With("component", "coordinator"),
	}
}

// AddCover routes commands received on `topic` to `cover`. It must be called before Run.
func (c *Coordinator) AddCover(topic string, cover CommandSender) {
	c.covers[topic] = cover
}

// AddDevice allows measurements for the device with the state topic `topic`. It must be called before Run.
func (c *Coordinator) AddDevice(topic string) {
	c.devices[topic] = struct{}{}
}

// SetRecorder additionally hands every published measurement to `recorder`. It must be called before Run.
func (c *Coordinator) SetRecorder(recorder Recorder) {
	c.recorder = recorder
}

// Run processes events until the context is cancelled, then announces that the bridge is offline and closes the
// covers' mailboxes.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) handle(ev events.Event) {
	switch ev := ev.(type) {
	case events.BrokerMessageEvent:
		err := c.routeCommand(ev.Topic, ev.Payload)
		if err != nil {
			c.logger.Warn("Dropped broker message", "topic", ev.Topic, "error", err)
		}

	case events.MeasurementEvent:
		err := c.publishMeasurement(ev.Key, ev.Measurement)
		if err != nil {
			c.logger.Error("Failed to publish measurement", "device", ev.Key, "error", err)
		}

	case events.BrokerConnectedEvent:
		c.register()

	default:
		c.logger.Warn("Ignoring unexpected event", "type", fmt.Sprintf("%T", ev))
	}
}

func (c *Coordinator) routeCommand(topic string, payload []byte) error {
	cover, ok := c.covers[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, topic)
	}

	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: invalid utf-8", ErrDecode)
	}
	cmd, err := covers.ParseCommand(string(payload))
	if err != nil {
		return err
	}

	c.logger.Debug("Routing command", "topic", topic, "command", cmd)
	err = cover.Send(cmd)
	if err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	return nil
}

func (c *Coordinator) publishMeasurement(key string, m telemetry.Measurement) error {
	if _, ok := c.devices[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, key)
	}

	if c.recorder != nil {
		c.recorder.Record(m)
	}

	return c.publisher.PublishState(key, m)
}

// register is run on every (re)connection, a broker may have lost retained messages and subscriptions
func (c *Coordinator) register() {
	c.logger.Info("Registering with broker", "covers", len(c.covers), "devices", len(c.devices))

	err := c.publisher.AnnounceOnline()
	if err != nil {
		c.logger.Error("Failed to announce online", "error", err)
	}

	err = c.publisher.RegisterDevices()
	if err != nil {
		c.logger.Error("Failed to register devices", "error", err)
	}
}

func (c *Coordinator) shutdown() {
	c.logger.Info("Shutting down")

	err := c.publisher.AnnounceOffline()
	if err != nil {
		c.logger.Warn("Failed to announce offline", "error", err)
	}

	for _, cover := range c.covers {
		cover.Close()
	}
}
