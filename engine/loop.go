// Package engine owns the sole right to invoke a processing cycle and
// serializes cycles against signals, a periodic tick, and burst triggers.
package engine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Loop drives the main select loop described by the Main Loop component: an
// unconditional first cycle, then (unless RunOnce) a loop over tick, burst,
// and signal events until INT/TERM or a fatal error.
type Loop struct {
	Cycle   func(ctx context.Context) error
	Signals <-chan os.Signal
	Tick    <-chan time.Time // nil channel if disabled; never selects
	Burst   <-chan struct{}
	RunOnce bool
}

// Run performs the unconditional first cycle, then enters the select loop
// unless RunOnce is set or both event monitoring and ticking are disabled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Cycle(ctx); err != nil {
		return fmt.Errorf("engine: initial cycle: %w", err)
	}

	if l.RunOnce {
		return nil
	}
	if l.Tick == nil && l.Burst == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-l.Tick:
			if err := l.Cycle(ctx); err != nil {
				return fmt.Errorf("engine: cycle: %w", err)
			}

		case <-l.Burst:
			if err := l.Cycle(ctx); err != nil {
				return fmt.Errorf("engine: cycle: %w", err)
			}

		case sig := <-l.Signals:
			switch sig {
			case syscall.SIGHUP:
				if err := l.Cycle(ctx); err != nil {
					return fmt.Errorf("engine: cycle: %w", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("engine: received %s, shutting down", sig)
				return nil
			default:
				return fmt.Errorf("engine: received unexpected signal %s", sig)
			}
		}
	}
}

// SignalChannel returns a channel relaying the three signals the loop acts
// on: SIGHUP (reload), SIGINT/SIGTERM (shutdown). Any other signal reaching
// the loop via this channel is treated as fatal.
func SignalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return ch
}
