package compiler

import (
	"strings"
	"testing"

	"github.com/dfw-sh/dfwd/config"
	"github.com/dfw-sh/dfwd/dockertopo"
)

func fixtureSnapshot() *dockertopo.Snapshot {
	return &dockertopo.Snapshot{
		Containers: dockertopo.ContainerMap{
			"a": {ID: "cid-a", Names: []string{"/a"}},
		},
		Networks: dockertopo.NetworkMap{
			"n": {
				ID: "abcdef012345",
				Containers: map[string]dockertopo.ContainerNetworkAddress{
					"cid-a": {IPv4Address: "10.0.0.2/24"},
				},
			},
		},
	}
}

// TestCompileNftables_WW2CMinimal is scenario S1.
func TestCompileNftables_WW2CMinimal(t *testing.T) {
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
				},
			},
		},
	}

	rules, err := CompileNftables(policy, fixtureSnapshot(), "")
	if err != nil {
		t.Fatalf("CompileNftables: %v", err)
	}

	wantForward := "add rule inet dfw forward tcp dport 80 ip daddr 10.0.0.2 meta iifname eth0 oifname br-abcdef012345 meta mark set 0xdf accept"
	wantDNAT := "add rule ip dfw prerouting tcp dport 80 meta iifname eth0 meta mark set 0xdf dnat 10.0.0.2:80"

	idxForward := indexOfRule(rules, wantForward)
	idxDNAT := indexOfRule(rules, wantDNAT)

	if idxForward < 0 {
		t.Errorf("missing forward rule %q in:\n%s", wantForward, strings.Join(rules, "\n"))
	}
	if idxDNAT < 0 {
		t.Errorf("missing dnat rule %q in:\n%s", wantDNAT, strings.Join(rules, "\n"))
	}
	if idxForward >= 0 && idxDNAT >= 0 && idxForward > idxDNAT {
		t.Errorf("expected forward rule before dnat rule")
	}
}

// TestCompileNftables_SkipOnMissingContainer is scenario S3.
func TestCompileNftables_SkipOnMissingContainer(t *testing.T) {
	policy := &config.Policy{
		ContainerToContainer: &config.ContainerToContainer{
			DefaultPolicy: "drop",
			Rules: []config.ContainerToContainerRule{
				{Network: "n", SrcContainer: "ghost", Verdict: "accept"},
			},
		},
	}

	rules, err := CompileNftables(policy, fixtureSnapshot(), "")
	if err != nil {
		t.Fatalf("CompileNftables: %v", err)
	}

	for _, r := range rules {
		if strings.Contains(r, "ghost") {
			t.Errorf("rule referencing missing container should have been skipped: %s", r)
		}
	}

	if indexOfRule(rules, "add chain inet dfw forward { policy drop ; }") < 0 {
		t.Errorf("expected default-policy rule to still be emitted, got:\n%s", strings.Join(rules, "\n"))
	}
}

func indexOfRule(rules []string, want string) int {
	for i, r := range rules {
		if r == want {
			return i
		}
	}
	return -1
}
