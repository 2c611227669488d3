package covers

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pacer enforces a minimum spacing between actions. Arm records a deadline, and the next Wait blocks until it.
// A Pacer is not safe for concurrent use, see Group for the shared variant.
type Pacer struct {
	clock    clockwork.Clock
	deadline *time.Time
}

func NewPacer(clock clockwork.Clock) *Pacer {
	return &Pacer{clock: clock}
}

// Arm sets the deadline to `delay` from now, replacing any existing deadline.
func (p *Pacer) Arm(delay time.Duration) {
	deadline := p.clock.Now().Add(delay)
	p.deadline = &deadline
}

// Wait sleeps until the armed deadline has passed and then disarms. It returns immediately when unarmed.
func (p *Pacer) Wait() {
	if p.deadline == nil {
		return
	}
	remaining := p.deadline.Sub(p.clock.Now())
	p.deadline = nil
	if remaining > 0 {
		p.clock.Sleep(remaining)
	}
}

// Armed reports whether a deadline is pending.
func (p *Pacer) Armed() bool {
	return p.deadline != nil
}

// Group is a Pacer shared by covers that must not be actuated at the same time, e.g. relays on the same gpio chip.
// Only one cover of the group can be inside Do at a time.
type Group struct {
	name  string
	delay time.Duration

	mu    sync.Mutex // held for the whole wait, act and re-arm sequence
	pacer *Pacer
}

func NewGroup(name string, delay time.Duration, clock clockwork.Clock) *Group {
	return &Group{
		name:  name,
		delay: delay,
		pacer: NewPacer(clock),
	}
}

func (g *Group) Name() string {
	return g.name
}

// Do waits for the group's window to open, runs `act` and then re-arms the window once `act` has completed.
func (g *Group) Do(act func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pacer.Wait()
	act()
	g.pacer.Arm(g.delay)
}
