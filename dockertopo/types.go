// Package dockertopo snapshots the Docker daemon's containers and networks
// once per processing cycle and answers the name/id resolution questions the
// Policy Compiler needs: which IP a container has on a network, and what
// host bridge interface backs a network.
package dockertopo

import "strings"

// ContainerFilter selects which containers NewSnapshot lists.
type ContainerFilter string

const (
	FilterAll     ContainerFilter = "all"
	FilterRunning ContainerFilter = "running"
)

// ContainerSummary is the minimal per-container record the compiler needs.
type ContainerSummary struct {
	ID    string
	Names []string
}

// ContainerNetworkAddress is a container's address on one network.
type ContainerNetworkAddress struct {
	IPv4Address string // CIDR form, e.g. "10.0.0.2/24"
	IPv6Address string
}

// Network is the minimal per-network record the compiler needs.
type Network struct {
	ID         string
	Name       string
	Options    map[string]string
	Containers map[string]ContainerNetworkAddress // container id -> address
}

// ContainerMap maps a container name (leading "/" stripped) to its summary.
type ContainerMap map[string]ContainerSummary

// NetworkMap maps a network name to its record.
type NetworkMap map[string]Network

func trimLeadingSlash(name string) string {
	return strings.TrimPrefix(name, "/")
}
