package covers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/warthog618/go-gpiocdev"
)

// DefaultPulseDuration is how long a relay is held to simulate a short press of the cover's remote button.
const DefaultPulseDuration = 100 * time.Millisecond

// ErrHardwareAccess wraps failures to drive an output line.
var ErrHardwareAccess = errors.New("hardware access")

// Actuator physically moves a cover. Implementations do not debounce.
type Actuator interface {
	Actuate(cmd Command) error
}

// OutputLine is a single digital output, implemented by *gpiocdev.Line.
type OutputLine interface {
	SetValue(value int) error
	Close() error
}

// GPIOOptions describes where a cover's three relays are wired.
type GPIOOptions struct {
	Chip       string // e.g. "gpiochip0" or "/dev/gpiochip0"
	UpOffset   int
	DownOffset int
	StopOffset int
	Pulse      time.Duration
}

// GPIOCover drives a stateless cover whose up, down and stop buttons are wired to relays on gpio lines.
type GPIOCover struct {
	up     OutputLine
	down   OutputLine
	stop   OutputLine
	pulse  time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewGPIOCover requests the three output lines from the gpio character device, initially low.
func NewGPIOCover(id string, opts GPIOOptions) (*GPIOCover, error) {

	requested := make([]OutputLine, 0, 3)
	request := func(offset int, button string) (OutputLine, error) {
		line, err := gpiocdev.RequestLine(opts.Chip, offset,
			gpiocdev.AsOutput(0),
			gpiocdev.WithConsumer(fmt.Sprintf("gpio2mqtt_%s_%s", id, button)),
		)
		if err != nil {
			for _, l := range requested {
				l.Close()
			}
			return nil, fmt.Errorf("request %s line %s:%d: %w", button, opts.Chip, offset, err)
		}
		requested = append(requested, line)
		return line, nil
	}

	up, err := request(opts.UpOffset, "up")
	if err != nil {
		return nil, err
	}
	down, err := request(opts.DownOffset, "down")
	if err != nil {
		return nil, err
	}
	stop, err := request(opts.StopOffset, "stop")
	if err != nil {
		return nil, err
	}

	pulse := opts.Pulse
	if pulse <= 0 {
		pulse = DefaultPulseDuration
	}

	cover := NewCoverWithLines(up, down, stop, pulse, clockwork.NewRealClock())
	cover.logger = slog.Default().With("cover_id", id, "chip", opts.Chip)
	return cover, nil
}

func NewCoverWithLines(up, down, stop OutputLine, pulse time.Duration, clock clockwork.Clock) *GPIOCover {
	return &GPIOCover{
		up:     up,
		down:   down,
		stop:   stop,
		pulse:  pulse,
		clock:  clock,
		logger: slog.Default(),
	}
}

// Actuate presses the button that corresponds to `cmd`.
func (c *GPIOCover) Actuate(cmd Command) error {
	var line OutputLine
	switch cmd {
	case Open:
		line = c.up
	case Close:
		line = c.down
	case Stop:
		line = c.stop
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}

	err := line.SetValue(1)
	if err != nil {
		return fmt.Errorf("%w: assert line for %s: %w", ErrHardwareAccess, cmd, err)
	}

	c.clock.Sleep(c.pulse)

	err = line.SetValue(0)
	if err != nil {
		c.logger.Error("Output line may be stuck high", "command", cmd, "error", err)
		return fmt.Errorf("%w: release line for %s: %w", ErrHardwareAccess, cmd, err)
	}

	return nil
}

// Close releases the output lines.
func (c *GPIOCover) Close() error {
	return errors.Join(c.up.Close(), c.down.Close(), c.stop.Close())
}
