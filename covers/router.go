package covers

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Router turns the stream of remote commands for one cover into paced physical actuations.
//
// Commands are sent into a single slot mailbox, so a burst of commands settles to the most recent one. The `Run`
// loop actuates one command at a time: it takes the group's window (shared with the other covers of the group),
// actuates, re-arms the group window, then waits out the cover's own delay before looking at the mailbox again.
type Router struct {
	key         string
	mailbox     *Mailbox
	actuator    Actuator
	group       *Group
	device      *Pacer
	deviceDelay time.Duration
	logger      *slog.Logger
}

func NewRouter(key string, actuator Actuator, group *Group, deviceDelay time.Duration, clock clockwork.Clock) *Router {
	return &Router{
		key:         key,
		mailbox:     NewMailbox(),
		actuator:    actuator,
		group:       group,
		device:      NewPacer(clock),
		deviceDelay: deviceDelay,
		logger:      slog.Default().With("cover", key, "group", group.Name()),
	}
}

func (r *Router) Key() string {
	return r.key
}

// Send requests `cmd`, replacing any command that has not been actuated yet. It never blocks.
func (r *Router) Send(cmd Command) error {
	return r.mailbox.Send(cmd)
}

// Close stops the router once it has finished its current actuation.
func (r *Router) Close() {
	r.mailbox.Close()
}

// Run loops until the router is closed.
func (r *Router) Run() {
	for {
		cmd, ok := r.mailbox.Receive()
		if !ok {
			break
		}

		r.group.Do(func() {
			r.logger.Debug("Actuating cover", "command", cmd)
			err := r.actuator.Actuate(cmd)
			if err != nil {
				r.logger.Error("Failed to actuate cover", "command", cmd, "error", err)
			}
		})

		r.device.Arm(r.deviceDelay)
		r.device.Wait()
	}

	r.logger.Info("Shutting down command listener")
}
