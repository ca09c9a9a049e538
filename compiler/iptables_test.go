package compiler

import (
	"strings"
	"testing"

	"github.com/dfw-sh/dfwd/config"
	"github.com/dfw-sh/dfwd/rule"
)

// TestCompileIptables_SourceCIDRv4Fanout is scenario S2.
func TestCompileIptables_SourceCIDRv4Fanout(t *testing.T) {
	policy := &config.Policy{
		GlobalDefaults: &config.GlobalDefaults{
			ExternalNetworkInterfaces: config.StringList{"eth0"},
		},
		WiderWorldToContainer: &config.WiderWorldToContainer{
			Rules: []config.WiderWorldToContainerRule{
				{
					Network:      "n",
					DstContainer: "a",
					ExposePort:   config.ExposePortList{{HostPort: 80, Family: "tcp"}},
					SourceCIDRv4: config.StringList{"1.1.1.0/24", "2.2.2.0/24"},
				},
			},
		},
	}

	rules, err := CompileIptables(policy, fixtureSnapshot())
	if err != nil {
		t.Fatalf("CompileIptables: %v", err)
	}

	var forwardLines, prerouteLines []string
	for _, r := range rules {
		if r.Kind != rule.KindRuleLine {
			continue
		}
		if strings.HasPrefix(r.Line, "-A "+chainFilterForward+" ") && strings.Contains(r.Line, "-s ") {
			forwardLines = append(forwardLines, r.Line)
		}
		if strings.HasPrefix(r.Line, "-A "+chainNATPrerouting+" ") && strings.Contains(r.Line, "-j DNAT") {
			prerouteLines = append(prerouteLines, r.Line)
		}
	}

	if len(forwardLines) != 2 {
		t.Errorf("got %d forward lines, want 2: %v", len(forwardLines), forwardLines)
	}
	if len(prerouteLines) != 2 {
		t.Errorf("got %d dnat preroute lines, want 2: %v", len(prerouteLines), prerouteLines)
	}
	for _, cidr := range []string{"1.1.1.0/24", "2.2.2.0/24"} {
		found := false
		for _, l := range forwardLines {
			if strings.Contains(l, "-s "+cidr) {
				found = true
			}
		}
		if !found {
			t.Errorf("missing forward rule with -s %s", cidr)
		}
	}
}

// TestCompileIptables_ExposeViaIPv6TargetsFilterInput guards against the
// IPv6 mark rule landing in the nat table, where it would never see
// forwarded traffic.
func TestCompileIptables_ExposeViaIPv6TargetsFilterInput(t *testing.T) {
	policy := &config.Policy{
		GlobalDefaults: &config.GlobalDefaults{
			ExternalNetworkInterfaces: config.StringList{"eth0"},
		},
		WiderWorldToContainer: &config.WiderWorldToContainer{
			Rules: []config.WiderWorldToContainerRule{
				{
					Network:       "n",
					DstContainer:  "a",
					ExposePort:    config.ExposePortList{{HostPort: 80, Family: "tcp"}},
					ExposeViaIPv6: true,
				},
			},
		},
	}

	// Only the wider_world_to_container output is inspected: the IPv6
	// prelude legitimately creates and jumps to the nat PREROUTING chain.
	rules, err := iptablesWiderWorldToContainer(policy, fixtureSnapshot())
	if err != nil {
		t.Fatalf("iptablesWiderWorldToContainer: %v", err)
	}

	var found bool
	for _, r := range rules {
		if r.Kind != rule.KindRuleLine || r.Family != rule.FamilyV6 {
			continue
		}
		if strings.HasPrefix(r.Line, "-A "+chainFilterInput+" ") {
			found = true
			if r.Table != tableFilter || r.Chain != chainFilterInput {
				t.Errorf("expected IPv6 expose rule in %s/%s, got %s/%s", tableFilter, chainFilterInput, r.Table, r.Chain)
			}
		}
		if strings.Contains(r.Line, chainNATPrerouting) {
			t.Errorf("IPv6 expose rule should not touch %s: %s", chainNATPrerouting, r.Line)
		}
	}
	if !found {
		t.Errorf("expected an IPv6 rule appended to %s, got none:\n%v", chainFilterInput, rules)
	}
}

// TestIptablesPrelude_DeclaresKeepPolicyForAllChains is scenario S5's missing
// counterpart: every built-in and managed chain must get a "-" (keep
// existing policy) declaration.
func TestIptablesPrelude_DeclaresKeepPolicyForAllChains(t *testing.T) {
	rules := iptablesPrelude(rule.FamilyV4)

	want := map[string]string{
		"INPUT":             tableFilter,
		"FORWARD":           tableFilter,
		"PREROUTING":        tableNAT,
		"POSTROUTING":       tableNAT,
		chainFilterInput:    tableFilter,
		chainFilterForward:  tableFilter,
		chainNATPrerouting:  tableNAT,
		chainNATPostrouting: tableNAT,
	}

	got := make(map[string]rule.IptablesRule)
	for _, r := range rules {
		if r.Kind == rule.KindPolicy {
			got[r.Chain] = r
		}
	}

	for chain, table := range want {
		r, ok := got[chain]
		if !ok {
			t.Errorf("missing policy declaration for chain %s", chain)
			continue
		}
		if r.Table != table {
			t.Errorf("chain %s: got table %s, want %s", chain, r.Table, table)
		}
		if r.Line != "-" {
			t.Errorf("chain %s: got policy %q, want \"-\"", chain, r.Line)
		}
	}
}

// TestIptablesApply_GroupsByTableInsertionOrder is scenario S5.
func TestIptablesApply_GroupsByTableInsertionOrder(t *testing.T) {
	rules := []rule.IptablesRule{
		{Table: "filter", Chain: chainFilterForward, Family: rule.FamilyV4, Kind: rule.KindRuleLine, Line: "-A " + chainFilterForward + " -j ACCEPT"},
		{Table: "nat", Chain: chainNATPrerouting, Family: rule.FamilyV4, Kind: rule.KindRuleLine, Line: "-A " + chainNATPrerouting + " -j DNAT --to-destination 10.0.0.2:80"},
	}

	doc := renderRestoreDocument(rules, rule.FamilyV4)

	if got := strings.Count(doc, "COMMIT"); got != 2 {
		t.Errorf("got %d COMMIT lines, want 2:\n%s", got, doc)
	}
	if got := strings.Count(doc, "*filter"); got != 1 {
		t.Errorf("expected exactly one *filter block, got %d", got)
	}
	if got := strings.Count(doc, "*nat"); got != 1 {
		t.Errorf("expected exactly one *nat block, got %d", got)
	}
}

