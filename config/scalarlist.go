package config

import "fmt"

// StringList is one-or-many strings: a bare TOML string, or an array of
// strings. Used for external_network_interfaces, source_cidr_v4/v6, and any
// other field documented as taking this shape.
type StringList []string

// UnmarshalTOML implements toml.Unmarshaler.
func (l *StringList) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*l = StringList{v}
		return nil
	case []interface{}:
		out := make(StringList, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("config: expected list of strings, got element %#v", item)
			}
			out = append(out, s)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("config: expected string or list of strings, got %#v", data)
	}
}
