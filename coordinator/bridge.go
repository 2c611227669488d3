package coordinator

import (
	"context"
	"log/slog"

	"github.com/cepro/gpio2mqtt/events"
	"github.com/cepro/gpio2mqtt/mqtt"
)

// Bridge forwards the broker's inbound stream onto the event channel.
type Bridge struct {
	stream <-chan mqtt.Inbound
	events chan<- events.Event
	logger *slog.Logger
}

func NewBridge(stream <-chan mqtt.Inbound, eventsCh chan<- events.Event) *Bridge {
	return &Bridge{
		stream: stream,
		events: eventsCh,
		logger: slog.Default().With("component", "bridge"),
	}
}

// Run forwards until the stream is closed by a disconnect or the context is cancelled. A lost connection is only
// logged, the mqtt client reconnects by itself and the reconnection comes through as another connected event.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case in, ok := <-b.stream:
			if !ok {
				b.logger.Info("Broker stream closed")
				return
			}

			switch in.Kind {
			case mqtt.Message:
				b.forward(ctx, events.BrokerMessageEvent{Topic: in.Topic, Payload: in.Payload})
			case mqtt.Connected:
				b.forward(ctx, events.BrokerConnectedEvent{})
			case mqtt.ConnectionLost:
				b.logger.Warn("Lost connection to broker", "error", in.Err)
			}
		}
	}
}

func (b *Bridge) forward(ctx context.Context, ev events.Event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}
