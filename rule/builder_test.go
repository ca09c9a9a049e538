package rule

import (
	"strings"
	"testing"
)

func TestBuildNftables_ForwardAccept(t *testing.T) {
	text, err := New().
		Protocol("tcp").
		DestinationPort(80).
		Destination("10.0.0.2", "").
		InInterface("eth0", false).
		OutInterface("br-abcdef012345", false).
		Accept().
		BuildNftables(FamilyV4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "tcp dport 80 ip daddr 10.0.0.2 meta iifname eth0 oifname br-abcdef012345 meta mark set 0xdf accept"
	if text != want {
		t.Errorf("got  %q\nwant %q", text, want)
	}
}

func TestBuildNftables_PrerouteDNAT(t *testing.T) {
	text, err := New().
		Protocol("tcp").
		DestinationPort(80).
		InInterface("eth0", false).
		DNAT("10.0.0.2:80").
		BuildNftables(FamilyV4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "tcp dport 80 meta iifname eth0 meta mark set 0xdf dnat 10.0.0.2:80"
	if text != want {
		t.Errorf("got  %q\nwant %q", text, want)
	}
}

func TestBuildNftables_NoMatch(t *testing.T) {
	_, err := New().Accept().BuildNftables(FamilyV4)
	if err != ErrNoMatch {
		t.Errorf("got %v, want ErrNoMatch", err)
	}
}

func TestBuildNftables_NoVerdict(t *testing.T) {
	_, err := New().Protocol("tcp").DestinationPort(80).BuildNftables(FamilyV4)
	if err != ErrNoVerdict {
		t.Errorf("got %v, want ErrNoVerdict", err)
	}
}

func TestBuildIptables_SourceCIDRFanout(t *testing.T) {
	cidrs := []string{"1.1.1.0/24", "2.2.2.0/24"}
	var forwardLines, prerouteLines []string

	for _, cidr := range cidrs {
		fwd, err := New().
			Protocol("tcp").
			DestinationPort(80).
			Destination("10.0.0.2", "").
			Source(cidr, "").
			InInterface("eth0", false).
			OutInterface("br-abcdef012345", false).
			Accept().
			BuildIptables(FamilyV4)
		if err != nil {
			t.Fatalf("forward build: %v", err)
		}
		forwardLines = append(forwardLines, fwd)

		dnat, err := New().
			Protocol("tcp").
			DestinationPort(80).
			Source(cidr, "").
			InInterface("eth0", false).
			DNAT("10.0.0.2:80").
			BuildIptables(FamilyV4)
		if err != nil {
			t.Fatalf("dnat build: %v", err)
		}
		prerouteLines = append(prerouteLines, dnat)
	}

	if len(forwardLines) != 2 || len(prerouteLines) != 2 {
		t.Fatalf("expected 2+2 lines, got %d+%d", len(forwardLines), len(prerouteLines))
	}
	for i, cidr := range cidrs {
		if want := "-s " + cidr; !strings.Contains(forwardLines[i], want) {
			t.Errorf("forward line %d missing %q: %s", i, want, forwardLines[i])
		}
		if !strings.Contains(prerouteLines[i], "-j DNAT --to-destination 10.0.0.2:80") {
			t.Errorf("preroute line %d missing dnat target: %s", i, prerouteLines[i])
		}
	}
}
