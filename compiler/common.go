// Package compiler walks a loaded Policy plus a Docker topology Snapshot and
// emits an ordered, backend-specific firewall rule list. CompileNftables and
// CompileIptables share the same conceptual eight stages (prelude, backend
// defaults, global defaults, the four traffic sections, then container
// DNAT); only the literal rendered tokens differ.
package compiler

import (
	"strings"

	"github.com/dfw-sh/dfwd/config"
	"github.com/dfw-sh/dfwd/dockertopo"
)

// dfwMark is the packet mark nftables rules use; mirrored here for the
// prose-emitted global-defaults/marker rules that don't go through
// rule.Builder.
const dfwMark = "0xdf"

// ipv4Address strips the CIDR suffix Docker reports container addresses
// with, returning only the network part before '/'.
func ipv4Address(cidr string) string {
	if idx := strings.IndexByte(cidr, '/'); idx >= 0 {
		return cidr[:idx]
	}
	return cidr
}

// ipv6Address is the IPv6 analogue of ipv4Address.
func ipv6Address(cidr string) string {
	return ipv4Address(cidr)
}

// bridgeName resolves a network's host bridge interface name.
func bridgeName(n dockertopo.Network) (string, error) {
	return dockertopo.BridgeName(n.ID)
}

// resolveRuleContainer looks up a container's address on the given network,
// returning a zero value and false if either is absent -- the uniform "skip this rule"
// signal used throughout the compiler.
func resolveRuleContainer(snap *dockertopo.Snapshot, containerName string, networkID string) (dockertopo.ContainerNetworkAddress, bool) {
	addr := snap.ResolveAddress(containerName, networkID)
	if addr == nil {
		return dockertopo.ContainerNetworkAddress{}, false
	}
	return *addr, true
}

// primaryExternalInterface returns the configured primary external
// interface, or "" if none is configured.
func primaryExternalInterface(p *config.Policy) string {
	return p.GlobalDefaults.PrimaryExternalInterface()
}
