// Package dockerevents relays container lifecycle events from the Docker
// daemon into a ping channel the burst monitor debounces.
package dockerevents

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"
)

// watchedActions are the container lifecycle events that can change the
// topology the compiler needs to re-resolve.
var watchedActions = []string{
	"create",
	"destroy",
	"start",
	"restart",
	"die",
	"stop",
}

// Subscribe blocks, relaying one ping (a blocking send on ping) per
// matching container event until ctx is canceled or the event stream
// errors out. A returned error means the connection to the daemon was lost
// and is treated as fatal by the caller.
func Subscribe(ctx context.Context, cli *client.Client, ping chan<- struct{}) error {
	args := filters.NewArgs(filters.Arg("type", "container"))
	for _, action := range watchedActions {
		args.Add("event", action)
	}

	msgs, errs := cli.Events(ctx, events.ListOptions{Filters: args})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			if err != nil {
				return fmt.Errorf("dockerevents: event stream: %w", err)
			}
		case msg := <-msgs:
			log.Debugf("dockerevents: %s %s", msg.Action, msg.Actor.ID)
			ping <- struct{}{}
		}
	}
}
