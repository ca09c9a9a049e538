// Package burst debounces a rapid sequence of Docker events into a single
// recompile trigger, fired only once the event stream has gone quiet.
package burst

import (
	"sync"
	"time"
)

// Monitor coalesces repeated Ping calls arriving within timeout of each
// other into a single value sent on the channel returned by Trigger, once
// the bursts settle.
type Monitor struct {
	timeout time.Duration
	trigger chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewMonitor returns a Monitor that fires timeout after the last Ping.
func NewMonitor(timeout time.Duration) *Monitor {
	return &Monitor{
		timeout: timeout,
		trigger: make(chan struct{}, 1),
	}
}

// Ping resets the quiescence timer. Call this once per observed Docker
// event.
func (m *Monitor) Ping() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.timeout, m.fire)
}

func (m *Monitor) fire() {
	select {
	case m.trigger <- struct{}{}:
	default:
		// a trigger is already pending; the consumer hasn't drained it yet
	}
}

// Trigger returns the channel a single token is sent on once Ping calls
// have stopped arriving for timeout. The channel is buffered 1, so bursts
// that fire while a previous token is unconsumed collapse into that token
// rather than blocking.
func (m *Monitor) Trigger() <-chan struct{} {
	return m.trigger
}
