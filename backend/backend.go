// Package backend applies a compiled rule list to the host's packet filter
// by shelling out to the nft or iptables-restore toolchain.
package backend

import "context"

// Backend applies a previously compiled ruleset to the running kernel.
type Backend interface {
	// Name identifies the backend for logging ("nftables" or "iptables").
	Name() string
	// Apply writes the ruleset to the kernel. When dryRun is true, Apply
	// logs what it would run without executing anything.
	Apply(ctx context.Context, dryRun bool) error
}
