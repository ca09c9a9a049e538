package cmd

import (
	"time"

	"github.com/dfw-sh/dfwd/burst"
)

func burstMonitor(timeout time.Duration) *burst.Monitor {
	return burst.NewMonitor(timeout)
}

// pingAdapter exposes a burst.Monitor's Ping method as a channel send sink,
// the shape dockerevents.Subscribe expects.
func pingAdapter(m *burst.Monitor) chan<- struct{} {
	ch := make(chan struct{})
	go func() {
		for range ch {
			m.Ping()
		}
	}()
	return ch
}
