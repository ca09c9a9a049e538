package dockertopo

import (
	"context"
	"fmt"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"
)

// minBridgeIDLen is the shortest network id BridgeName accepts; the bridge
// name convention takes its first 12 characters.
const minBridgeIDLen = 12

// Snapshot is a read-only view of the Docker topology taken at the start of
// a processing cycle.
type Snapshot struct {
	Containers ContainerMap
	Networks   NetworkMap
}

// NewSnapshot lists containers (filtered per ContainerFilter) and networks,
// then builds the name-keyed maps the compiler walks. Per the spec, at
// least the default "bridge" network is expected whenever Docker is up; an
// empty network list fails the cycle rather than silently compiling an
// empty ruleset.
func NewSnapshot(ctx context.Context, cli *dockerclient.Client, filter ContainerFilter) (*Snapshot, error) {
	listOpts := container.ListOptions{All: filter == FilterAll}
	containers, err := cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, fmt.Errorf("dockertopo: list containers: %w", err)
	}

	networkSummaries, err := cli.NetworkList(ctx, dockertypes.NetworkListOptions{})
	if err != nil {
		return nil, fmt.Errorf("dockertopo: list networks: %w", err)
	}
	if len(networkSummaries) == 0 {
		return nil, fmt.Errorf("dockertopo: no networks returned by Docker; is the daemon up?")
	}

	containerMap := make(ContainerMap, len(containers))
	for _, c := range containers {
		summary := ContainerSummary{ID: c.ID, Names: c.Names}
		for _, name := range c.Names {
			containerMap[trimLeadingSlash(name)] = summary
		}
	}

	networkMap := make(NetworkMap, len(networkSummaries))
	for _, summary := range networkSummaries {
		inspected, err := cli.NetworkInspect(ctx, summary.ID, dockertypes.NetworkInspectOptions{})
		if err != nil {
			log.Warnf("dockertopo: inspect network %s: %v, skipping", summary.Name, err)
			continue
		}

		options := make(map[string]string, len(inspected.Options))
		for k, v := range inspected.Options {
			options[k] = v
		}

		addresses := make(map[string]ContainerNetworkAddress, len(inspected.Containers))
		for containerID, endpoint := range inspected.Containers {
			addresses[containerID] = ContainerNetworkAddress{
				IPv4Address: endpoint.IPv4Address,
				IPv6Address: endpoint.IPv6Address,
			}
		}

		networkMap[inspected.Name] = Network{
			ID:         inspected.ID,
			Name:       inspected.Name,
			Options:    options,
			Containers: addresses,
		}
	}

	return &Snapshot{Containers: containerMap, Networks: networkMap}, nil
}

// ResolveAddress returns the address a named container has on a network, or
// nil if either the container or the network-membership is absent. A nil
// result is a rule-skip signal, never an error.
func (s *Snapshot) ResolveAddress(containerName, networkID string) *ContainerNetworkAddress {
	c, ok := s.Containers[containerName]
	if !ok {
		return nil
	}
	for _, network := range s.Networks {
		if network.ID != networkID {
			continue
		}
		if addr, ok := network.Containers[c.ID]; ok {
			return &addr
		}
		return nil
	}
	return nil
}

// BridgeName derives the host bridge interface name for a Docker network id:
// "br-" followed by the network id's first 12 characters. Network ids
// shorter than that are rejected.
func BridgeName(networkID string) (string, error) {
	if len(networkID) < minBridgeIDLen {
		return "", fmt.Errorf("dockertopo: network id %q shorter than %d characters", networkID, minBridgeIDLen)
	}
	return "br-" + networkID[:minBridgeIDLen], nil
}
