package config

import (
	"fmt"
	"strconv"
	"strings"
)

const defaultExposePortFamily = "tcp"

// ExposePort is a single parsed port-exposure record: host_port is always
// known; container_port defaults to host_port when absent.
type ExposePort struct {
	HostPort      int
	ContainerPort int // 0 means "use HostPort"
	Family        string
}

// ContainerPortOrHost returns ContainerPort if set, else HostPort.
func (e ExposePort) ContainerPortOrHost() int {
	if e.ContainerPort != 0 {
		return e.ContainerPort
	}
	return e.HostPort
}

// ExposePortList is one-or-many ExposePort entries. In TOML, `expose_port`
// may be a bare integer, a "host/family" string, a {host_port,
// container_port, family} table, or a list mixing any of those forms; all
// forms normalize to this list.
type ExposePortList []ExposePort

// UnmarshalTOML implements toml.Unmarshaler, accepting any of the scalar,
// string, table, or list-of-any forms documented on ExposePortList.
func (l *ExposePortList) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case []interface{}:
		out := make(ExposePortList, 0, len(v))
		for _, item := range v {
			port, err := decodeExposePort(item)
			if err != nil {
				return err
			}
			out = append(out, port)
		}
		*l = out
		return nil
	default:
		port, err := decodeExposePort(v)
		if err != nil {
			return err
		}
		*l = ExposePortList{port}
		return nil
	}
}

func decodeExposePort(data interface{}) (ExposePort, error) {
	switch v := data.(type) {
	case int64:
		return ExposePort{HostPort: int(v), Family: defaultExposePortFamily}, nil
	case int:
		return ExposePort{HostPort: v, Family: defaultExposePortFamily}, nil
	case string:
		return parseExposePortString(v)
	case map[string]interface{}:
		return decodeExposePortTable(v)
	default:
		return ExposePort{}, fmt.Errorf("config: expose_port: unsupported value %#v", data)
	}
}

// parseExposePortString parses the "N[/family]" scalar-string form.
func parseExposePortString(s string) (ExposePort, error) {
	parts := strings.SplitN(s, "/", 2)
	hostPort, err := strconv.Atoi(parts[0])
	if err != nil {
		return ExposePort{}, fmt.Errorf("config: expose_port: invalid port string %q: %w", s, err)
	}
	family := defaultExposePortFamily
	if len(parts) == 2 {
		family = parts[1]
	}
	return ExposePort{HostPort: hostPort, Family: family}, nil
}

func decodeExposePortTable(m map[string]interface{}) (ExposePort, error) {
	port := ExposePort{Family: defaultExposePortFamily}

	hostPort, ok := m["host_port"]
	if !ok {
		return ExposePort{}, fmt.Errorf("config: expose_port table missing required host_port")
	}
	hp, err := toInt(hostPort)
	if err != nil {
		return ExposePort{}, fmt.Errorf("config: expose_port.host_port: %w", err)
	}
	port.HostPort = hp

	if containerPort, ok := m["container_port"]; ok {
		cp, err := toInt(containerPort)
		if err != nil {
			return ExposePort{}, fmt.Errorf("config: expose_port.container_port: %w", err)
		}
		port.ContainerPort = cp
	}

	if family, ok := m["family"]; ok {
		f, ok := family.(string)
		if !ok {
			return ExposePort{}, fmt.Errorf("config: expose_port.family must be a string")
		}
		port.Family = f
	}

	return port, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("expected integer, got %#v", v)
	}
}
