// Package config loads the declarative TOML policy that drives the Policy
// Compiler: global/backend defaults and the four traffic sections.
package config

// Policy is the root of a loaded configuration file (or merged directory of
// fragments).
type Policy struct {
	GlobalDefaults        *GlobalDefaults        `toml:"global_defaults"`
	BackendDefaults       *BackendDefaults        `toml:"backend_defaults"`
	Initialization        *Initialization         `toml:"initialization"` // deprecated, see backend_defaults.initialization
	ContainerToContainer  *ContainerToContainer   `toml:"container_to_container"`
	ContainerToWiderWorld *ContainerToWiderWorld  `toml:"container_to_wider_world"`
	ContainerToHost       *ContainerToHost        `toml:"container_to_host"`
	WiderWorldToContainer *WiderWorldToContainer  `toml:"wider_world_to_container"`
	ContainerDNAT         *ContainerDNAT          `toml:"container_dnat"`
}

// GlobalDefaults configures cross-cutting behavior: the ordered external
// interfaces (first is primary), the policy for Docker-bridge-to-host
// traffic, and (deprecated) custom table/chain hook points.
type GlobalDefaults struct {
	ExternalNetworkInterfaces      StringList   `toml:"external_network_interfaces"`
	DefaultDockerBridgeToHostPolicy string      `toml:"default_docker_bridge_to_host_policy"`
	CustomTables                   []CustomTable `toml:"custom_tables"` // deprecated, see backend_defaults.nftables.custom_tables
}

// PrimaryExternalInterface returns the first configured external interface,
// or "" if none are configured.
func (g *GlobalDefaults) PrimaryExternalInterface() string {
	if g == nil || len(g.ExternalNetworkInterfaces) == 0 {
		return ""
	}
	return g.ExternalNetworkInterfaces[0]
}

// BridgeToHostPolicy returns the configured policy, defaulting to "accept".
func (g *GlobalDefaults) BridgeToHostPolicy() string {
	if g == nil || g.DefaultDockerBridgeToHostPolicy == "" {
		return "accept"
	}
	return g.DefaultDockerBridgeToHostPolicy
}

// BackendDefaults holds backend-specific initialization and nftables-only
// knobs.
type BackendDefaults struct {
	Initialization *Initialization         `toml:"initialization"`
	Nftables       *NftablesBackendDefaults `toml:"nftables"`
}

// NftablesBackendDefaults is the nftables mirror of the deprecated
// global_defaults.custom_tables field.
type NftablesBackendDefaults struct {
	CustomTables []CustomTable `toml:"custom_tables"`
}

// CustomTable names a table/chain pair that should receive the three
// ct-state/mark marker rules described in the Policy Compiler.
type CustomTable struct {
	Table string `toml:"table"`
	Chain string `toml:"chain"`
}

// Initialization carries raw pass-through rules applied before any other
// section: iptables uses the family-keyed table->rules maps, nftables uses
// the flat verbatim statement list.
type Initialization struct {
	V4    map[string][]string `toml:"v4"`
	V6    map[string][]string `toml:"v6"`
	Rules []string            `toml:"rules"`
}

// ContainerToContainer governs traffic between containers on the same
// bridge.
type ContainerToContainer struct {
	DefaultPolicy      string                      `toml:"default_policy"`
	SameNetworkVerdict string                      `toml:"same_network_verdict"`
	Rules              []ContainerToContainerRule `toml:"rules"`
}

type ContainerToContainerRule struct {
	Network      string `toml:"network"`
	SrcContainer string `toml:"src_container"`
	DstContainer string `toml:"dst_container"`
	Matches      string `toml:"matches"`
	Verdict      string `toml:"verdict"`
}

// ContainerToWiderWorld governs traffic leaving containers toward an
// external interface.
type ContainerToWiderWorld struct {
	DefaultPolicy string                       `toml:"default_policy"`
	Rules         []ContainerToWiderWorldRule `toml:"rules"`
}

type ContainerToWiderWorldRule struct {
	Network                  string `toml:"network"`
	SrcContainer             string `toml:"src_container"`
	Matches                  string `toml:"matches"`
	Verdict                  string `toml:"verdict"`
	ExternalNetworkInterface string `toml:"external_network_interface"`
}

// ContainerToHost governs traffic from containers toward the host itself.
type ContainerToHost struct {
	DefaultPolicy string                 `toml:"default_policy"`
	Rules         []ContainerToHostRule `toml:"rules"`
}

type ContainerToHostRule struct {
	Network      string `toml:"network"`
	SrcContainer string `toml:"src_container"`
	Matches      string `toml:"matches"`
	Verdict      string `toml:"verdict"`
}

// WiderWorldToContainer governs published-port traffic from outside the
// host into a container, via DNAT.
type WiderWorldToContainer struct {
	Rules []WiderWorldToContainerRule `toml:"rules"`
}

type WiderWorldToContainerRule struct {
	Network                  string         `toml:"network"`
	DstContainer             string         `toml:"dst_container"`
	ExposePort               ExposePortList `toml:"expose_port"`
	ExternalNetworkInterface string         `toml:"external_network_interface"`
	SourceCIDRv4             StringList     `toml:"source_cidr_v4"`
	SourceCIDRv6             StringList     `toml:"source_cidr_v6"`
	ExposeViaIPv6            bool           `toml:"expose_via_ipv6"`
	Matches                  string         `toml:"matches"`
}

// ContainerDNAT governs container-to-container DNAT across networks.
type ContainerDNAT struct {
	Rules []ContainerDNATRule `toml:"rules"`
}

type ContainerDNATRule struct {
	SrcNetwork   string         `toml:"src_network"`
	SrcContainer string         `toml:"src_container"`
	DstNetwork   string         `toml:"dst_network"`
	DstContainer string         `toml:"dst_container"`
	ExposePort   ExposePortList `toml:"expose_port"`
}
