// Package registry resolves configuration type keys to their repository
// location. Types are declared in a yaml file loaded once at process start.
package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// TypeInfo describes one configuration type.
type TypeInfo struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Repository  RepositoryInfo `yaml:"repository" json:"repository"`
}

// RepositoryInfo locates the git working tree for a type. A relative path is
// resolved against the storage root by the caller.
type RepositoryInfo struct {
	Path string `yaml:"path" json:"path"`
}

// Registry holds the known configuration types.
type Registry struct {
	types map[string]TypeInfo
}

type typesFile struct {
	Types map[string]TypeInfo `yaml:"types"`
}

// Load reads and validates the types file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read types file: %w", err)
	}

	var f typesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse types file: %w", err)
	}
	if len(f.Types) == 0 {
		return nil, fmt.Errorf("types file %s declares no types", path)
	}

	for key, info := range f.Types {
		if info.Repository.Path == "" {
			return nil, fmt.Errorf("type %s missing repository path", key)
		}
		if info.Name == "" {
			info.Name = key
			f.Types[key] = info
		}
	}

	return New(f.Types), nil
}

// New builds a registry from an explicit type map.
func New(types map[string]TypeInfo) *Registry {
	m := make(map[string]TypeInfo, len(types))
	for k, v := range types {
		m[k] = v
	}
	return &Registry{types: m}
}

// Get returns the type info for key.
func (r *Registry) Get(key string) (TypeInfo, bool) {
	info, ok := r.types[key]
	return info, ok
}

// Validate reports an error when key is not a known configuration type.
func (r *Registry) Validate(key string) error {
	if _, ok := r.types[key]; !ok {
		return fmt.Errorf("unknown configuration type %q", key)
	}
	return nil
}

// Keys returns the known type keys in stable order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.types))
	for k := range r.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
