package compiler

import (
	"fmt"

	"github.com/dfw-sh/dfwd/config"
	"github.com/dfw-sh/dfwd/dockertopo"
	"github.com/dfw-sh/dfwd/rule"
)

const (
	chainFilterInput      = "DFWRS_INPUT"
	chainFilterForward    = "DFWRS_FORWARD"
	chainNATPrerouting    = "DFWRS_PREROUTING"
	chainNATPostrouting   = "DFWRS_POSTROUTING"
	tableFilter           = "filter"
	tableNAT              = "nat"
)

// policyLine declares a chain without altering its policy, matching
// iptables-restore's ":CHAIN - [0:0]" "keep existing policy" form.
func policyLine(table, chain string, family rule.Family) rule.IptablesRule {
	return rule.IptablesRule{Table: table, Chain: chain, Family: family, Kind: rule.KindPolicy, Line: "-"}
}

func ruleLine(table, chain string, family rule.Family, line string) rule.IptablesRule {
	return rule.IptablesRule{Table: table, Chain: chain, Family: family, Kind: rule.KindRuleLine, Line: line}
}

// CompileIptables emits the full iptables-restore-ready rule list for both
// address families, covering the same eight conceptual stages as
// CompileNftables.
func CompileIptables(p *config.Policy, snap *dockertopo.Snapshot) ([]rule.IptablesRule, error) {
	var rules []rule.IptablesRule

	rules = append(rules, iptablesPrelude(rule.FamilyV4)...)
	rules = append(rules, iptablesPrelude(rule.FamilyV6)...)

	bd, err := iptablesBackendDefaults(p)
	if err != nil {
		return nil, err
	}
	rules = append(rules, bd...)

	rules = append(rules, iptablesGlobalDefaults(p, snap)...)

	c2c, err := iptablesContainerToContainer(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, c2c...)

	c2ww, err := iptablesContainerToWiderWorld(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, c2ww...)

	c2h, err := iptablesContainerToHost(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, c2h...)

	ww2c, err := iptablesWiderWorldToContainer(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, ww2c...)

	dnat, err := iptablesContainerDNAT(p, snap)
	if err != nil {
		return nil, err
	}
	rules = append(rules, dnat...)

	return rules, nil
}

// iptablesPrelude creates/flushes the four managed chains, seeds INPUT and
// FORWARD with the ct-state invalid/established rules, and jumps the
// built-in chains into the managed ones.
func iptablesPrelude(family rule.Family) []rule.IptablesRule {
	return []rule.IptablesRule{
		policyLine(tableFilter, "INPUT", family),
		policyLine(tableFilter, "FORWARD", family),
		policyLine(tableNAT, "PREROUTING", family),
		policyLine(tableNAT, "POSTROUTING", family),
		policyLine(tableFilter, chainFilterInput, family),
		policyLine(tableFilter, chainFilterForward, family),
		policyLine(tableNAT, chainNATPrerouting, family),
		policyLine(tableNAT, chainNATPostrouting, family),
		ruleLine(tableFilter, chainFilterInput, family, "-N "+chainFilterInput),
		ruleLine(tableFilter, chainFilterForward, family, "-N "+chainFilterForward),
		ruleLine(tableNAT, chainNATPrerouting, family, "-N "+chainNATPrerouting),
		ruleLine(tableNAT, chainNATPostrouting, family, "-N "+chainNATPostrouting),
		ruleLine(tableFilter, chainFilterInput, family, "-F "+chainFilterInput),
		ruleLine(tableFilter, chainFilterForward, family, "-F "+chainFilterForward),
		ruleLine(tableNAT, chainNATPrerouting, family, "-F "+chainNATPrerouting),
		ruleLine(tableNAT, chainNATPostrouting, family, "-F "+chainNATPostrouting),
		ruleLine(tableFilter, chainFilterInput, family, "-A "+chainFilterInput+" -m state --state INVALID -j DROP"),
		ruleLine(tableFilter, chainFilterInput, family, "-A "+chainFilterInput+" -m state --state RELATED,ESTABLISHED -j ACCEPT"),
		ruleLine(tableFilter, chainFilterForward, family, "-A "+chainFilterForward+" -m state --state INVALID -j DROP"),
		ruleLine(tableFilter, chainFilterForward, family, "-A "+chainFilterForward+" -m state --state RELATED,ESTABLISHED -j ACCEPT"),
		ruleLine(tableFilter, "INPUT", family, "-A INPUT -j "+chainFilterInput),
		ruleLine(tableFilter, "FORWARD", family, "-A FORWARD -j "+chainFilterForward),
		ruleLine(tableNAT, "PREROUTING", family, "-A PREROUTING -j "+chainNATPrerouting),
		ruleLine(tableNAT, "POSTROUTING", family, "-A POSTROUTING -j "+chainNATPostrouting),
	}
}

func iptablesBackendDefaults(p *config.Policy) ([]rule.IptablesRule, error) {
	var rules []rule.IptablesRule
	init := p.EffectiveInitialization()
	if init == nil {
		return nil, nil
	}
	for table, lines := range init.V4 {
		for _, line := range lines {
			rules = append(rules, ruleLine(table, "", rule.FamilyV4, line))
		}
	}
	for table, lines := range init.V6 {
		for _, line := range lines {
			rules = append(rules, ruleLine(table, "", rule.FamilyV6, line))
		}
	}
	return rules, nil
}

func iptablesGlobalDefaults(p *config.Policy, snap *dockertopo.Snapshot) []rule.IptablesRule {
	var rules []rule.IptablesRule
	policy := p.GlobalDefaults.BridgeToHostPolicy()

	if bridgeNet, ok := snap.Networks["bridge"]; ok {
		if dockerBridgeName, ok := bridgeNet.Options["com.docker.network.bridge.name"]; ok {
			rules = append(rules, ruleLine(tableFilter, chainFilterInput, rule.FamilyV4,
				fmt.Sprintf("-A %s -i %s -j %s", chainFilterInput, dockerBridgeName, policy)))

			if p.GlobalDefaults != nil {
				for _, iface := range p.GlobalDefaults.ExternalNetworkInterfaces {
					rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4,
						fmt.Sprintf("-A %s -i %s -o %s -j %s", chainFilterForward, dockerBridgeName, iface, policy)))
				}
			}
		}
	}

	if p.GlobalDefaults != nil {
		for _, iface := range p.GlobalDefaults.ExternalNetworkInterfaces {
			rules = append(rules, ruleLine(tableNAT, chainNATPostrouting, rule.FamilyV4,
				fmt.Sprintf("-A %s -o %s -j MASQUERADE", chainNATPostrouting, iface)))
			rules = append(rules, ruleLine(tableNAT, chainNATPostrouting, rule.FamilyV6,
				fmt.Sprintf("-A %s -o %s -j MASQUERADE", chainNATPostrouting, iface)))
		}
	}

	return rules
}

func iptablesContainerToContainer(p *config.Policy, snap *dockertopo.Snapshot) ([]rule.IptablesRule, error) {
	section := p.ContainerToContainer
	if section == nil {
		return nil, nil
	}
	var rules []rule.IptablesRule
	rules = append(rules, rule.IptablesRule{
		Table: tableFilter, Chain: chainFilterForward, Family: rule.FamilyV4,
		Kind: rule.KindPolicy, Line: section.DefaultPolicy,
	})

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

		text, err := b.BuildIptables(rule.FamilyV4)
		if err != nil {
			return nil, fmt.Errorf("compiler: container_to_container rule (network=%s): %w", r.Network, err)
		}
		rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4, "-A "+chainFilterForward+" "+text))
	}

	if section.SameNetworkVerdict != "" {
		for _, network := range snap.Networks {
			bridge, err := bridgeName(network)
			if err != nil {
				return nil, err
			}
			text, err := rule.New().InInterface(bridge, false).OutInterface(bridge, false).
				Verdict(section.SameNetworkVerdict).BuildIptables(rule.FamilyV4)
			if err != nil {
				return nil, err
			}
			rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4, "-A "+chainFilterForward+" "+text))
		}
	}

	return rules, nil
}

func iptablesContainerToWiderWorld(p *config.Policy, snap *dockertopo.Snapshot) ([]rule.IptablesRule, error) {
	section := p.ContainerToWiderWorld
	if section == nil {
		return nil, nil
	}
	var rules []rule.IptablesRule

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

		text, err := b.BuildIptables(rule.FamilyV4)
		if err != nil {
			return nil, fmt.Errorf("compiler: container_to_wider_world rule (network=%s): %w", r.Network, err)
		}
		rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4, "-A "+chainFilterForward+" "+text))
	}

	if p.GlobalDefaults != nil {
		for _, iface := range p.GlobalDefaults.ExternalNetworkInterfaces {
			for _, network := range snap.Networks {
				bridge, err := bridgeName(network)
				if err != nil {
					return nil, err
				}
				text, err := rule.New().InInterface(bridge, false).OutInterface(iface, false).
					Verdict(section.DefaultPolicy).BuildIptables(rule.FamilyV4)
				if err != nil {
					return nil, err
				}
				rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4, "-A "+chainFilterForward+" "+text))
			}
		}
	}

	return rules, nil
}

func iptablesContainerToHost(p *config.Policy, snap *dockertopo.Snapshot) ([]rule.IptablesRule, error) {
	section := p.ContainerToHost
	if section == nil {
		return nil, nil
	}
	var rules []rule.IptablesRule

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

		text, err := b.BuildIptables(rule.FamilyV4)
		if err != nil {
			return nil, fmt.Errorf("compiler: container_to_host rule (network=%s): %w", r.Network, err)
		}
		rules = append(rules, ruleLine(tableFilter, chainFilterInput, rule.FamilyV4, "-A "+chainFilterInput+" "+text))
	}

	for _, network := range snap.Networks {
		bridge, err := bridgeName(network)
		if err != nil {
			return nil, err
		}
		text, err := rule.New().InInterface(bridge, false).Verdict(section.DefaultPolicy).BuildIptables(rule.FamilyV4)
		if err != nil {
			return nil, err
		}
		rules = append(rules, ruleLine(tableFilter, chainFilterInput, rule.FamilyV4, "-A "+chainFilterInput+" "+text))
	}

	return rules, nil
}

func iptablesWiderWorldToContainer(p *config.Policy, snap *dockertopo.Snapshot) ([]rule.IptablesRule, error) {
	section := p.WiderWorldToContainer
	if section == nil {
		return nil, nil
	}
	var rules []rule.IptablesRule

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
					fwdText, err := cloneWithSource(fwd, cidr, "").BuildIptables(rule.FamilyV4)
					if err != nil {
						return nil, err
					}
					rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4, "-A "+chainFilterForward+" "+fwdText))

					dnatText, err := cloneWithSource(dnat, cidr, "").BuildIptables(rule.FamilyV4)
					if err != nil {
						return nil, err
					}
					rules = append(rules, ruleLine(tableNAT, chainNATPrerouting, rule.FamilyV4, "-A "+chainNATPrerouting+" "+dnatText))
				}
			} else {
				fwdText, err := fwd.BuildIptables(rule.FamilyV4)
				if err != nil {
					return nil, err
				}
				rules = append(rules, ruleLine(tableFilter, chainFilterForward, rule.FamilyV4, "-A "+chainFilterForward+" "+fwdText))

				dnatText, err := dnat.BuildIptables(rule.FamilyV4)
				if err != nil {
					return nil, err
				}
				rules = append(rules, ruleLine(tableNAT, chainNATPrerouting, rule.FamilyV4, "-A "+chainNATPrerouting+" "+dnatText))
			}

			if r.ExposeViaIPv6 {
				if len(r.SourceCIDRv6) > 0 {
					for _, cidr := range r.SourceCIDRv6 {
						markText, err := cloneWithSource(mark, "", cidr).BuildIptables(rule.FamilyV6)
						if err != nil {
							return nil, err
						}
						rules = append(rules, ruleLine(tableFilter, chainFilterInput, rule.FamilyV6, "-A "+chainFilterInput+" "+markText))
					}
				} else {
					markText, err := mark.BuildIptables(rule.FamilyV6)
					if err != nil {
						return nil, err
					}
					rules = append(rules, ruleLine(tableFilter, chainFilterInput, rule.FamilyV6, "-A "+chainFilterInput+" "+markText))
				}
			}
		}
	}

	return rules, nil
}

func iptablesContainerDNAT(p *config.Policy, snap *dockertopo.Snapshot) ([]rule.IptablesRule, error) {
	section := p.ContainerDNAT
	if section == nil {
		return nil, nil
	}
	var rules []rule.IptablesRule

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

			text, err := rbp.BuildIptables(rule.FamilyV4)
			if err != nil {
				return nil, fmt.Errorf("compiler: container_dnat rule (dst_network=%s): %w", r.DstNetwork, err)
			}
			rules = append(rules, ruleLine(tableNAT, chainNATPrerouting, rule.FamilyV4, "-A "+chainNATPrerouting+" "+text))
		}
	}

	return rules, nil
}
