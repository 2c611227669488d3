package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cepro/gpio2mqtt/events"
	"github.com/cepro/gpio2mqtt/telemetry"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultTimeout bounds a single call to Measure
	DefaultTimeout = 5 * time.Second
	// DefaultCoolDown is how long polling is suspended after a timeout, to give an unresponsive device time to recover
	DefaultCoolDown = 60 * time.Second
)

// ErrMeasureTimeout is returned when the device does not respond within the poller's timeout.
var ErrMeasureTimeout = errors.New("measure timed out")

// Measurer is implemented by varta.Client
type Measurer interface {
	Measure() (telemetry.Measurement, error)
}

type State int32

const (
	Idle State = iota
	Polling
	CoolingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case CoolingDown:
		return "cooling_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Poller periodically takes measurements from a device and sends them onto the event channel.
//
// When the device stops responding the poller emits a single fallback measurement, derived from the last good
// one with the power flows cleared, and then backs off for the cool-down period before trying again.
type Poller struct {
	key      string
	device   Measurer
	interval time.Duration
	timeout  time.Duration
	coolDown time.Duration
	clock    clockwork.Clock
	events   chan<- events.Event
	logger   *slog.Logger

	state atomic.Int32
	last  *telemetry.Measurement // consumed by the first fallback after it
}

func New(key string, device Measurer, interval time.Duration, events chan<- events.Event, clock clockwork.Clock) *Poller {
	return &Poller{
		key:      key,
		device:   device,
		interval: interval,
		timeout:  DefaultTimeout,
		coolDown: DefaultCoolDown,
		clock:    clock,
		events:   events,
		logger:   slog.Default().With("device", key),
	}
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(state State) {
	prev := State(p.state.Swap(int32(state)))
	if prev != state {
		p.logger.Debug("Poller state changed", "from", prev, "to", state)
	}
}

// Run loops until the context is cancelled. Ticks that arrive while a poll is in progress are dropped.
func (p *Poller) Run(ctx context.Context) {

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping poller")
			return
		case <-ticker.Chan():
			cooledDown := p.poll(ctx)
			if cooledDown {
				// restart the interval from the end of the cool-down, rather than firing off a stale tick
				ticker.Reset(p.interval)
				select {
				case <-ticker.Chan():
				default:
				}
			}
		}
	}
}

// poll measures the device, retrying straight after each cool-down until a poll completes without timing out.
// It returns true if at least one cool-down happened.
func (p *Poller) poll(ctx context.Context) bool {

	cooledDown := false

	for {
		p.setState(Polling)

		measurement, err := p.measure(ctx)
		switch {
		case err == nil:
			p.last = &measurement
			p.emit(ctx, measurement)
			p.setState(Idle)
			return cooledDown

		case errors.Is(err, ErrMeasureTimeout):
			p.logger.Warn("Device did not respond in time", "timeout", p.timeout, "cool_down", p.coolDown)
			if p.last != nil {
				fallback := p.last.Fallback(telemetry.NewReadingMeta(p.key, p.clock.Now()))
				p.last = nil
				p.emit(ctx, fallback)
			}

			p.setState(CoolingDown)
			select {
			case <-ctx.Done():
				p.setState(Idle)
				return cooledDown
			case <-p.clock.After(p.coolDown):
			}
			cooledDown = true

		case errors.Is(err, context.Canceled):
			p.setState(Idle)
			return cooledDown

		default:
			p.logger.Error("Failed to measure device", "error", err)
			p.setState(Idle)
			return cooledDown
		}
	}
}

// measure calls the device under the timeout. On timeout the call is abandoned: it finishes in the background
// and its result is dropped.
func (p *Poller) measure(ctx context.Context) (telemetry.Measurement, error) {

	type result struct {
		measurement telemetry.Measurement
		err         error
	}

	results := make(chan result, 1)
	go func() {
		measurement, err := p.device.Measure()
		results <- result{measurement: measurement, err: err}
	}()

	timer := p.clock.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		return r.measurement, r.err
	case <-timer.Chan():
		return telemetry.Measurement{}, ErrMeasureTimeout
	case <-ctx.Done():
		return telemetry.Measurement{}, ctx.Err()
	}
}

func (p *Poller) emit(ctx context.Context, measurement telemetry.Measurement) {
	select {
	case p.events <- events.MeasurementEvent{Key: p.key, Measurement: measurement}:
	case <-ctx.Done():
	}
}
