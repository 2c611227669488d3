package covers

import (
	"errors"
	"sync"
)

// ErrMailboxClosed is returned when sending to a cover whose router has been shut down.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox holds the latest command requested for a cover. Sending overwrites any command that has not been
// received yet, so a reader that falls behind only ever sees the most recent request.
type Mailbox struct {
	mu      sync.Mutex
	cmd     Command
	pending bool
	closed  bool
	notify  chan struct{} // holds at most one wake up for the reader, closed along with the mailbox
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
	}
}

// Send stores `cmd` as the latest command and returns immediately.
func (m *Mailbox) Send(cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMailboxClosed
	}

	m.cmd = cmd
	m.pending = true

	// the notification is only a wake up, if one is already queued then the reader will pick up this command too
	select {
	case m.notify <- struct{}{}:
	default:
	}

	return nil
}

// Receive blocks until a command is pending and returns it. The second return value is false once the mailbox
// has been closed and there is nothing left to receive.
func (m *Mailbox) Receive() (Command, bool) {
	for {
		<-m.notify

		m.mu.Lock()
		if m.pending {
			cmd := m.cmd
			m.pending = false
			m.mu.Unlock()
			return cmd, true
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return 0, false
		}
	}
}

// Close permanently closes the mailbox. A command that was sent before Close can still be received.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}
