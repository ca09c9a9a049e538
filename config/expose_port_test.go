package config

import (
	"testing"

	"github.com/BurntSushi/toml"
)

func TestExposePort_ScalarString(t *testing.T) {
	var doc struct {
		Port ExposePortList `toml:"port"`
	}
	if _, err := toml.Decode(`port = "53/udp"`, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Port) != 1 {
		t.Fatalf("got %d entries, want 1", len(doc.Port))
	}
	got := doc.Port[0]
	if got.HostPort != 53 || got.ContainerPort != 0 || got.Family != "udp" {
		t.Errorf("got %+v, want {HostPort:53 ContainerPort:0 Family:udp}", got)
	}
}

func TestExposePort_ListOfMixedForms(t *testing.T) {
	var doc struct {
		Port ExposePortList `toml:"port"`
	}
	data := "port = [80, {host_port=8080, container_port=80}]"
	if _, err := toml.Decode(data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Port) != 2 {
		t.Fatalf("got %d entries, want 2", len(doc.Port))
	}
	if doc.Port[0].HostPort != 80 || doc.Port[0].Family != "tcp" {
		t.Errorf("entry 0 = %+v", doc.Port[0])
	}
	if doc.Port[1].HostPort != 8080 || doc.Port[1].ContainerPort != 80 {
		t.Errorf("entry 1 = %+v", doc.Port[1])
	}
}

func TestExposePort_ContainerPortOrHost(t *testing.T) {
	bare := ExposePort{HostPort: 80}
	if bare.ContainerPortOrHost() != 80 {
		t.Errorf("expected fallback to HostPort")
	}
	withContainer := ExposePort{HostPort: 8080, ContainerPort: 80}
	if withContainer.ContainerPortOrHost() != 80 {
		t.Errorf("expected ContainerPort to take precedence")
	}
}

func TestStringList_ScalarAndList(t *testing.T) {
	var doc struct {
		Ifaces StringList `toml:"ifaces"`
	}
	if _, err := toml.Decode(`ifaces = "eth0"`, &doc); err != nil {
		t.Fatalf("decode scalar: %v", err)
	}
	if len(doc.Ifaces) != 1 || doc.Ifaces[0] != "eth0" {
		t.Errorf("got %v", doc.Ifaces)
	}

	var doc2 struct {
		Ifaces StringList `toml:"ifaces"`
	}
	if _, err := toml.Decode(`ifaces = ["eth0", "eth1"]`, &doc2); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(doc2.Ifaces) != 2 {
		t.Errorf("got %v", doc2.Ifaces)
	}
}
