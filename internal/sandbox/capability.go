package sandbox

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"
)

// Capabilities gates guest access to host resources. The zero value grants
// nothing: no clock, no randomness, no environment, no filesystem. Each
// field must be switched on explicitly for the guest to see the resource.
type Capabilities struct {
	// Stdio captures guest stdout/stderr; without it output is discarded
	Stdio bool `yaml:"stdio" json:"stdio"`
	// Clock exposes the host wall and monotonic clocks; without it the
	// guest sees a fixed deterministic time source
	Clock bool `yaml:"clock" json:"clock"`
	// Random exposes cryptographic randomness; without it the guest sees
	// a deterministic pseudo-random source
	Random bool `yaml:"random" json:"random"`
	// Env is the exact set of environment values visible to the guest
	Env map[string]string `yaml:"env" json:"env,omitempty"`
	// Args is the argv presented to the guest
	Args []string `yaml:"args" json:"args,omitempty"`
	// Mounts maps guest paths to host directories, exposed read-only
	Mounts map[string]string `yaml:"mounts" json:"mounts,omitempty"`
}

// Profiles is a named set of capability grants. Lookup is concurrency-safe;
// mutation happens only at load time.
type Profiles struct {
	byName map[string]Capabilities
	mu     sync.RWMutex
}

// BuiltinProfiles returns the always-available profile set:
// "pure" grants nothing, "clocked" adds the host clock and stdio.
func BuiltinProfiles() *Profiles {
	return &Profiles{
		byName: map[string]Capabilities{
			"pure":    {},
			"clocked": {Stdio: true, Clock: true},
		},
	}
}

// LoadProfiles reads named capability profiles from a YAML file and merges
// them over the builtins. File entries win on name collision.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var loaded map[string]Capabilities
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	p := BuiltinProfiles()
	for name, caps := range loaded {
		if name == "" {
			return nil, fmt.Errorf("parse profiles: empty profile name")
		}
		p.byName[name] = caps
	}
	return p, nil
}

// Get looks up a profile by name
func (p *Profiles) Get(name string) (Capabilities, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	caps, ok := p.byName[name]
	return caps, ok
}

// Names returns all profile names, sorted for stable listings
func (p *Profiles) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.byName))
	for name := range p.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
