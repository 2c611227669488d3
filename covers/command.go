package covers

import (
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned when a command payload is not one of OPEN, CLOSE or STOP.
var ErrUnknownCommand = errors.New("unknown cover command")

// Command is a movement request for a cover.
type Command uint8

const (
	Open Command = iota
	Close
	Stop
)

func (c Command) String() string {
	switch c {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	case Stop:
		return "STOP"
	default:
		return fmt.Sprintf("COMMAND(%d)", uint8(c))
	}
}

// ParseCommand parses the payload text that home assistant sends to a cover's command topic.
func ParseCommand(str string) (Command, error) {
	switch str {
	case "OPEN":
		return Open, nil
	case "CLOSE":
		return Close, nil
	case "STOP":
		return Stop, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, str)
	}
}
