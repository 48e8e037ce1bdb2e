// Package store defines manifest loading for the Registry: YAML documents
// on disk describing bindings, read once at startup and fed into
// registry.Registry.Register. Grounded on the teacher's store.Store
// interface shape (a small persistence seam with exactly the verbs the
// caller needs), generalized from toolset-only to every Kind.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/iceos/core/ice"
	"github.com/iceos/core/registry"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a manifest references something missing.
var ErrNotFound = errors.New("registry: not found")

// Manifest is one YAML document: {kind, name, version, tags, definition}.
type Manifest struct {
	Kind       registry.Kind   `yaml:"kind"`
	Name       ice.BindingName `yaml:"name"`
	Version    string          `yaml:"version"`
	Tags       []string        `yaml:"tags"`
	Definition map[string]any  `yaml:"definition"`
}

// LoadPaths reads a comma-separated list of manifest file/directory paths
// (the shape of COMPONENT_MANIFEST_PATHS, spec.md §6) and registers every
// binding found into reg.
func LoadPaths(reg *registry.Registry, pathList string) error {
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := loadOne(reg, p); err != nil {
			return fmt.Errorf("registry: loading manifest %s: %w", p, err)
		}
	}
	return nil
}

func loadOne(reg *registry.Registry, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	for {
		var m Manifest
		err := dec.Decode(&m)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		reg.Register(registry.Binding{
			Kind:       m.Kind,
			Name:       m.Name,
			Version:    m.Version,
			Tags:       m.Tags,
			Definition: m.Definition,
		})
	}
}
