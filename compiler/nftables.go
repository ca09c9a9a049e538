package compiler

import (
	"fmt"
	"strings"

	"github.com/dfw-sh/dfwd/config"
	"github.com/dfw-sh/dfwd/dockertopo"
	"github.com/dfw-sh/dfwd/rule"
)

const (
	nfPriorityFilter           = -5
	nfPriorityNATPrerouting    = -105
	nfPriorityNATPostrouting   = 95
)

func addTable(family, table string) string {
	return fmt.Sprintf("add table %s %s", family, table)
}

func flushTable(family, table string) string {
	return fmt.Sprintf("flush table %s %s", family, table)
}

func addBaseChain(family, table, chain, chainType, hook string, priority int) string {
	return fmt.Sprintf("add chain %s %s %s { type %s hook %s priority %d ; }", family, table, chain, chainType, hook, priority)
}

func setChainPolicy(family, table, chain, policy string) string {
	return fmt.Sprintf("add chain %s %s %s { policy %s ; }", family, table, chain, policy)
}

func addRule(family, table, chain, r string) string {
	return fmt.Sprintf("add rule %s %s %s %s", family, table, chain, r)
}

func insertRule(family, table, chain, r string) string {
	return fmt.Sprintf("insert rule %s %s %s %s", family, table, chain, r)
}

// CompileNftables emits the full nftables ruleset for the given policy and
// topology. liveRuleset is the text of `nft list ruleset`, consulted only to
// avoid re-inserting already-present custom-table marker rules; passing it
// in keeps this function itself free of process spawning.
func CompileNftables(p *config.Policy, snap *dockertopo.Snapshot, liveRuleset string) ([]string, error) {
	rules := nftablesPrelude()

	backendDefaults, err := nftablesBackendDefaults(p, liveRuleset)
	if err != nil {
		return nil, err
	}
	rules = append(rules, backendDefaults...)

	rules = append(rules, nftablesGlobalDefaults(p, snap)...)

	c2c, err := nftablesContainerToContainer(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, c2c...)

	c2ww, err := nftablesContainerToWiderWorld(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, c2ww...)

	c2h, err := nftablesContainerToHost(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, c2h...)

	ww2c, err := nftablesWiderWorldToContainer(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, ww2c...)

	dnat, err := nftablesContainerDNAT(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, dnat...)

	return rules, nil
}

func nftablesPrelude() []string {
	return []string{
		addTable("inet", "dfw"),
		flushTable("inet", "dfw"),
		addBaseChain("inet", "dfw", "input", "filter", "input", nfPriorityFilter),
		addRule("inet", "dfw", "input", "ct state invalid drop"),
		addRule("inet", "dfw", "input", "ct state { related, established } accept"),
		addBaseChain("inet", "dfw", "forward", "filter", "forward", nfPriorityFilter),
		addRule("inet", "dfw", "forward", "ct state invalid drop"),
		addRule("inet", "dfw", "forward", "ct state { related, established } accept"),
		addTable("ip", "dfw"),
		flushTable("ip", "dfw"),
		addBaseChain("ip", "dfw", "prerouting", "nat", "prerouting", nfPriorityNATPrerouting),
		addBaseChain("ip", "dfw", "postrouting", "nat", "postrouting", nfPriorityNATPostrouting),
		addTable("ip6", "dfw"),
		flushTable("ip6", "dfw"),
		addBaseChain("ip6", "dfw", "prerouting", "nat", "prerouting", nfPriorityNATPrerouting),
		addBaseChain("ip6", "dfw", "postrouting", "nat", "postrouting", nfPriorityNATPostrouting),
	}
}

// generateMarker builds the deterministic marker comment used to detect
// whether a custom-table hook rule was already inserted on a previous run.
func generateMarker(components ...string) string {
	return "DFW-MARKER:" + strings.Join(components, ";")
}

func nftablesBackendDefaults(p *config.Policy, liveRuleset string) ([]string, error) {
	var rules []string

	if init := p.EffectiveInitialization(); init != nil {
		rules = append(rules, init.Rules...)
	}

	for _, ct := range p.EffectiveCustomTables() {
		type markerRule struct {
			id   string
			text string
		}
		candidates := []markerRule{
			{"ct-state-invalid-drop", "ct state invalid drop"},
			{"ct-state-relatedestablished-accept", "ct state { related, established } accept"},
			{"meta-mark", fmt.Sprintf("meta mark and %s == %s accept", dfwMark, dfwMark)},
		}

		var toInsert []string
		for _, c := range candidates {
			marker := generateMarker("defaults", ct.Table, ct.Chain, c.id)
			if strings.Contains(liveRuleset, marker) {
				continue
			}
			toInsert = append(toInsert, insertRule("inet", ct.Table, ct.Chain, fmt.Sprintf("%s comment %q", c.text, marker)))
		}
		// Reverse so that sequential top-inserts leave the chain in the
		// candidates' original relative order.
		for i, j := 0, len(toInsert)-1; i < j; i, j = i+1, j-1 {
			toInsert[i], toInsert[j] = toInsert[j], toInsert[i]
		}
		rules = append(rules, toInsert...)
	}

	return rules, nil
}

func nftablesGlobalDefaults(p *config.Policy, snap *dockertopo.Snapshot) []string {
	var rules []string
	policy := p.GlobalDefaults.BridgeToHostPolicy()

	if bridgeNet, ok := snap.Networks["bridge"]; ok {
		if dockerBridgeName, ok := bridgeNet.Options["com.docker.network.bridge.name"]; ok {
			rules = append(rules, addRule("inet", "dfw", "input",
				fmt.Sprintf("meta iifname %s meta mark set %s %s", dockerBridgeName, dfwMark, policy)))

			if p.GlobalDefaults != nil {
				for _, iface := range p.GlobalDefaults.ExternalNetworkInterfaces {
					rules = append(rules, addRule("inet", "dfw", "forward",
						fmt.Sprintf("meta iifname %s oifname %s meta mark set %s %s", dockerBridgeName, iface, dfwMark, policy)))
				}
			}
		}
	}

	if p.GlobalDefaults != nil {
		for _, iface := range p.GlobalDefaults.ExternalNetworkInterfaces {
			rules = append(rules, addRule("ip", "dfw", "postrouting",
				fmt.Sprintf("meta oifname %s meta mark set %s masquerade", iface, dfwMark)))
			rules = append(rules, addRule("ip6", "dfw", "postrouting",
				fmt.Sprintf("meta oifname %s meta mark set %s masquerade", iface, dfwMark)))
		}
	}

	return rules
}

func nftablesContainerToContainer(p *config.Policy, snap *dockertopo.Snapshot) ([]string, error) {
	section := p.ContainerToContainer
	if section == nil {
		return nil, nil
	}

	rules := []string{setChainPolicy("inet", "dfw", "forward", section.DefaultPolicy)}

	for _, r := range section.Rules {
		network, ok := snap.Networks[r.Network]
		if !ok {
			continue
		}
		bridge, err := bridgeName(network)
		if err != nil {
			return nil, err
		}

		b := rule.New().InInterface(bridge, false).OutInterface(bridge, false)

		if r.SrcContainer != "" {
			addr, ok := resolveRuleContainer(snap, r.SrcContainer, network.ID)
			if !ok {
				continue
			}
			b.Source(ipv4Address(addr.IPv4Address), "")
		}
		if r.DstContainer != "" {
			addr, ok := resolveRuleContainer(snap, r.DstContainer, network.ID)
			if !ok {
				continue
			}
			b.Destination(ipv4Address(addr.IPv4Address), "")
		}
		if r.Matches != "" {
			b.Verbatim(r.Matches)
		}
		b.Verdict(r.Verdict)

		text, err := b.BuildNftables(rule.FamilyV4)
		if err != nil {
			return nil, fmt.Errorf("compiler: container_to_container rule (network=%s): %w", r.Network, err)
		}
		rules = append(rules, addRule("inet", "dfw", "forward", text))
	}

	if section.SameNetworkVerdict != "" {
		for _, network := range snap.Networks {
			bridge, err := bridgeName(network)
			if err != nil {
				return nil, err
			}
			text, err := rule.New().InInterface(bridge, false).OutInterface(bridge, false).
				Verdict(section.SameNetworkVerdict).BuildNftables(rule.FamilyV4)
			if err != nil {
				return nil, err
			}
			rules = append(rules, addRule("inet", "dfw", "forward", text))
		}
	}

	return rules, nil
}

func nftablesContainerToWiderWorld(p *config.Policy, snap *dockertopo.Snapshot) ([]string, error) {
	section := p.ContainerToWiderWorld
	if section == nil {
		return nil, nil
	}
	var rules []string

	for _, r := range section.Rules {
		b := rule.New()
		if r.Network != "" {
			network, ok := snap.Networks[r.Network]
			if !ok {
				continue
			}
			bridge, err := bridgeName(network)
			if err != nil {
				return nil, err
			}
			b.InInterface(bridge, false)

			if r.SrcContainer != "" {
				addr, ok := resolveRuleContainer(snap, r.SrcContainer, network.ID)
				if !ok {
					continue
				}
				b.Source(ipv4Address(addr.IPv4Address), "")
			}
		}

		if r.Matches != "" {
			b.Verbatim(r.Matches)
		}
		b.Verdict(r.Verdict)

		iface := r.ExternalNetworkInterface
		if iface == "" {
			iface = primaryExternalInterface(p)
		}
		if iface != "" {
			b.OutInterface(iface, false)
		}

		text, err := b.BuildNftables(rule.FamilyV4)
		if err != nil {
			return nil, fmt.Errorf("compiler: container_to_wider_world rule (network=%s): %w", r.Network, err)
		}
		rules = append(rules, addRule("inet", "dfw", "forward", text))
	}

	if p.GlobalDefaults != nil {
		for _, iface := range p.GlobalDefaults.ExternalNetworkInterfaces {
			for _, network := range snap.Networks {
				bridge, err := bridgeName(network)
				if err != nil {
					return nil, err
				}
				text, err := rule.New().InInterface(bridge, false).OutInterface(iface, false).
					Verdict(section.DefaultPolicy).BuildNftables(rule.FamilyV4)
				if err != nil {
					return nil, err
				}
				rules = append(rules, addRule("inet", "dfw", "forward", text))
			}
		}
	}

	return rules, nil
}

func nftablesContainerToHost(p *config.Policy, snap *dockertopo.Snapshot) ([]string, error) {
	section := p.ContainerToHost
	if section == nil {
		return nil, nil
	}
	var rules []string

	for _, r := range section.Rules {
		network, ok := snap.Networks[r.Network]
		if !ok {
			continue
		}
		bridge, err := bridgeName(network)
		if err != nil {
			return nil, err
		}
		b := rule.New().InInterface(bridge, false)

		if r.SrcContainer != "" {
			addr, ok := resolveRuleContainer(snap, r.SrcContainer, network.ID)
			if !ok {
				continue
			}
			b.Source(ipv4Address(addr.IPv4Address), "")
		}
		if r.Matches != "" {
			b.Verbatim(r.Matches)
		}
		b.Verdict(r.Verdict)

		text, err := b.BuildNftables(rule.FamilyV4)
		if err != nil {
			return nil, fmt.Errorf("compiler: container_to_host rule (network=%s): %w", r.Network, err)
		}
		rules = append(rules, addRule("inet", "dfw", "input", text))
	}

	for _, network := range snap.Networks {
		bridge, err := bridgeName(network)
		if err != nil {
			return nil, err
		}
		text, err := rule.New().InInterface(bridge, false).Verdict(section.DefaultPolicy).BuildNftables(rule.FamilyV4)
		if err != nil {
			return nil, err
		}
		rules = append(rules, addRule("inet", "dfw", "input", text))
	}

	return rules, nil
}

func nftablesWiderWorldToContainer(p *config.Policy, snap *dockertopo.Snapshot) ([]string, error) {
	section := p.WiderWorldToContainer
	if section == nil {
		return nil, nil
	}
	var rules []string

	for _, r := range section.Rules {
		network, ok := snap.Networks[r.Network]
		if !ok {
			continue
		}
		bridge, err := bridgeName(network)
		if err != nil {
			return nil, err
		}

		dstAddr, ok := resolveRuleContainer(snap, r.DstContainer, network.ID)
		if !ok {
			continue
		}
		containerIPv4 := ipv4Address(dstAddr.IPv4Address)

		iface := r.ExternalNetworkInterface
		if iface == "" {
			iface = primaryExternalInterface(p)
		}
		if iface == "" {
			continue
		}

		for _, ep := range r.ExposePort {
			containerPort := ep.ContainerPortOrHost()

			fwd := rule.New().InInterface(iface, false).OutInterface(bridge, false).
				Destination(containerIPv4, "").DestinationPort(containerPort).Protocol(ep.Family).Accept()
			if r.Matches != "" {
				fwd.Verbatim(r.Matches)
			}
			dnat := rule.New().InInterface(iface, false).
				DestinationPort(ep.HostPort).Protocol(ep.Family).
				DNAT(fmt.Sprintf("%s:%d", containerIPv4, containerPort))
			mark := rule.New().InInterface(iface, false).
				DestinationPort(ep.HostPort).Protocol(ep.Family).Accept()

			if len(r.SourceCIDRv4) > 0 {
				for _, cidr := range r.SourceCIDRv4 {
					fwdText, err := cloneWithSource(fwd, cidr, "").BuildNftables(rule.FamilyV4)
					if err != nil {
						return nil, err
					}
					rules = append(rules, addRule("inet", "dfw", "forward", fwdText))

					dnatText, err := cloneWithSource(dnat, cidr, "").BuildNftables(rule.FamilyV4)
					if err != nil {
						return nil, err
					}
					rules = append(rules, addRule("ip", "dfw", "prerouting", dnatText))
				}
			} else {
				fwdText, err := fwd.BuildNftables(rule.FamilyV4)
				if err != nil {
					return nil, err
				}
				rules = append(rules, addRule("inet", "dfw", "forward", fwdText))

				dnatText, err := dnat.BuildNftables(rule.FamilyV4)
				if err != nil {
					return nil, err
				}
				rules = append(rules, addRule("ip", "dfw", "prerouting", dnatText))
			}

			if r.ExposeViaIPv6 {
				if len(r.SourceCIDRv6) > 0 {
					for _, cidr := range r.SourceCIDRv6 {
						markText, err := cloneWithSource(mark, "", cidr).BuildNftables(rule.FamilyV6)
						if err != nil {
							return nil, err
						}
						rules = append(rules, addRule("ip6", "dfw", "prerouting", markText))
					}
				} else {
					markText, err := mark.BuildNftables(rule.FamilyV6)
					if err != nil {
						return nil, err
					}
					rules = append(rules, addRule("ip6", "dfw", "prerouting", markText))
				}
			}
		}
	}

	return rules, nil
}

func nftablesContainerDNAT(p *config.Policy, snap *dockertopo.Snapshot) ([]string, error) {
	section := p.ContainerDNAT
	if section == nil {
		return nil, nil
	}
	var rules []string

	for _, r := range section.Rules {
		b := rule.New()
		hasInInterface := false

		if r.SrcNetwork != "" {
			network, ok := snap.Networks[r.SrcNetwork]
			if !ok {
				continue
			}
			bridge, err := bridgeName(network)
			if err != nil {
				return nil, err
			}
			b.InInterface(bridge, false)
			hasInInterface = true

			if r.SrcContainer != "" {
				addr, ok := resolveRuleContainer(snap, r.SrcContainer, network.ID)
				if !ok {
					continue
				}
				b.Source(ipv4Address(addr.IPv4Address), "")
			}
		}

		dstNetwork, ok := snap.Networks[r.DstNetwork]
		if !ok {
			continue
		}
		dstAddr, ok := resolveRuleContainer(snap, r.DstContainer, dstNetwork.ID)
		if !ok {
			continue
		}
		dstBridge, err := bridgeName(dstNetwork)
		if err != nil {
			return nil, err
		}
		b.OutInterface(dstBridge, false)

		if !hasInInterface {
			primary := primaryExternalInterface(p)
			if primary == "" {
				continue
			}
			b.InInterface(primary, true)
		}

		for _, ep := range r.ExposePort {
			destinationPort := ep.ContainerPortOrHost()
			rb := *b
			rbp := &rb
			rbp.DestinationPort(destinationPort)
			rbp.DNAT(fmt.Sprintf("%s:%d", ipv4Address(dstAddr.IPv4Address), destinationPort))

			text, err := rbp.BuildNftables(rule.FamilyV4)
			if err != nil {
				return nil, fmt.Errorf("compiler: container_dnat rule (dst_network=%s): %w", r.DstNetwork, err)
			}
			rules = append(rules, addRule("ip", "dfw", "prerouting", text))
		}
	}

	return rules, nil
}

// cloneWithSource copies a Builder's accumulated state and sets the source
// address, used by the wider_world_to_container CIDR fan-out where each
// CIDR needs its own independent rule built from a shared base.
func cloneWithSource(b *rule.Builder, v4, v6 string) *rule.Builder {
	clone := *b
	return (&clone).Source(v4, v6)
}
