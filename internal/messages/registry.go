// Package messages manages the YAML-based reminder message registry and
// message selection.
package messages

import (
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPackName is the pack consulted when the settings file carries no
// message pool of its own.
const DefaultPackName = "default"

// Pack is a named pool of reminder templates.
type Pack struct {
	Name     string   `yaml:"name"`
	Messages []string `yaml:"messages"`
}

// Config is the top-level YAML structure.
type Config struct {
	Packs []Pack `yaml:"packs"`
}

// Registry holds loaded packs, keyed by name.
type Registry struct {
	byName map[string]*Pack
	order  []string // preserves definition order
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is our own registry location
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{byName: make(map[string]*Pack)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	r := &Registry{
		byName: make(map[string]*Pack, len(cfg.Packs)),
	}
	for i := range cfg.Packs {
		p := &cfg.Packs[i]
		r.byName[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r, nil
}

// Get returns a pack by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Pack, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns all packs in definition order.
func (r *Registry) All() []*Pack {
	result := make([]*Pack, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Resolve returns the candidate pool for dispatch: the settings pool when
// non-empty, otherwise the default pack, otherwise the fallback.
func (r *Registry) Resolve(settingsPool, fallback []string) []string {
	if len(settingsPool) > 0 {
		return settingsPool
	}
	if r != nil {
		if p, ok := r.Get(DefaultPackName); ok && len(p.Messages) > 0 {
			return p.Messages
		}
	}
	return fallback
}
