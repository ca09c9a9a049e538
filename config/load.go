package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// Load reads a policy from either a single file or a directory of *.toml
// fragments (concatenated in filename order before parsing, as one TOML
// document), exactly one of which must be non-empty.
func Load(configFile, configPath string) (*Policy, error) {
	switch {
	case configFile != "" && configPath != "":
		return nil, ErrMutuallyExclusiveFlags
	case configFile != "":
		return LoadFile(configFile)
	case configPath != "":
		return LoadDir(configPath)
	default:
		return nil, ErrMutuallyExclusiveFlags
	}
}

// LoadFile decodes a single TOML policy file.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return decode(string(data))
}

// LoadDir concatenates every *.toml file in dir, in filename order, and
// decodes the result as a single document.
func LoadDir(dir string) (*Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var combined strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", name, err)
		}
		combined.Write(data)
		combined.WriteString("\n")
	}

	return decode(combined.String())
}

func decode(data string) (*Policy, error) {
	var policy Policy
	meta, err := toml.Decode(data, &policy)
	if err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, undecoded[0].String())
	}
	return &policy, nil
}

// EffectiveInitialization resolves backend_defaults.initialization,
// falling back to the deprecated top-level initialization field.
func (p *Policy) EffectiveInitialization() *Initialization {
	if p.BackendDefaults != nil && p.BackendDefaults.Initialization != nil {
		return p.BackendDefaults.Initialization
	}
	if p.Initialization != nil {
		log.Warn("config: top-level `initialization` is deprecated, use `backend_defaults.initialization`")
		return p.Initialization
	}
	return nil
}

// EffectiveCustomTables resolves backend_defaults.nftables.custom_tables,
// falling back to the deprecated global_defaults.custom_tables.
func (p *Policy) EffectiveCustomTables() []CustomTable {
	if p.BackendDefaults != nil && p.BackendDefaults.Nftables != nil && len(p.BackendDefaults.Nftables.CustomTables) > 0 {
		return p.BackendDefaults.Nftables.CustomTables
	}
	if p.GlobalDefaults != nil && len(p.GlobalDefaults.CustomTables) > 0 {
		log.Warn("config: `global_defaults.custom_tables` is deprecated, use `backend_defaults.nftables.custom_tables`")
		return p.GlobalDefaults.CustomTables
	}
	return nil
}
