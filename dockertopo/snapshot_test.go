package dockertopo

import "testing"

func TestBridgeName(t *testing.T) {
	cases := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{id: "abcdef012345", want: "br-abcdef012345"},
		{id: "abcdef0123456789", want: "br-abcdef012345"},
		{id: "short", wantErr: true},
	}

	for _, c := range cases {
		got, err := BridgeName(c.id)
		if c.wantErr {
			if err == nil {
				t.Errorf("BridgeName(%q): expected error, got %q", c.id, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("BridgeName(%q): unexpected error: %v", c.id, err)
		}
		if got != c.want {
			t.Errorf("BridgeName(%q) = %q, want %q", c.id, got, c.want)
		}
	}
}

func TestResolveAddress(t *testing.T) {
	snap := &Snapshot{
		Containers: ContainerMap{
			"a": ContainerSummary{ID: "cid-a", Names: []string{"/a"}},
		},
		Networks: NetworkMap{
			"n": Network{
				ID: "net-n",
				Containers: map[string]ContainerNetworkAddress{
					"cid-a": {IPv4Address: "10.0.0.2/24"},
				},
			},
		},
	}

	addr := snap.ResolveAddress("a", "net-n")
	if addr == nil {
		t.Fatal("expected resolved address, got nil")
	}
	if addr.IPv4Address != "10.0.0.2/24" {
		t.Errorf("got %q, want 10.0.0.2/24", addr.IPv4Address)
	}

	if got := snap.ResolveAddress("ghost", "net-n"); got != nil {
		t.Errorf("expected nil for missing container, got %+v", got)
	}
	if got := snap.ResolveAddress("a", "net-missing"); got != nil {
		t.Errorf("expected nil for missing network, got %+v", got)
	}
}
