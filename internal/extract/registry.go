// Package extract produces normalized schemas from configured sources. Format
// specific readers plug in through a Registry keyed by source type.
package extract

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"schemaevo/internal/domain"
)

// Source describes where to read one dataset's schema from.
type Source struct {
	DatasetID string            `yaml:"dataset"`
	Type      string            `yaml:"type"`
	Options   map[string]string `yaml:"options,omitempty"`
}

// Extractor reads the current schema of one source.
type Extractor interface {
	Extract(ctx context.Context) (domain.Schema, error)
}

// Constructor builds an Extractor for a source of its type.
type Constructor func(src Source) (Extractor, error)

// Registry maps source types to constructors.
type Registry map[string]Constructor

// DefaultRegistry returns a registry with the built-in source types.
func DefaultRegistry() Registry {
	return Registry{
		FileSourceType: NewFileExtractor,
	}
}

// Build returns the extractor for src.
func (r Registry) Build(src Source) (Extractor, error) {
	if src.DatasetID == "" {
		return nil, domain.ErrValidation("source is missing a dataset id")
	}
	ctor, ok := r[src.Type]
	if !ok {
		return nil, domain.ErrValidation("unknown source type %q for dataset %q (known: %s)",
			src.Type, src.DatasetID, strings.Join(r.Types(), ", "))
	}
	return ctor(src)
}

// Types lists registered source types in sorted order.
func (r Registry) Types() []string {
	out := make([]string, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Manifest lists the sources a batch or scheduled run evaluates.
type Manifest struct {
	// Schedule is a cron spec used by the scheduler. Empty means manual runs
	// only.
	Schedule string   `yaml:"schedule,omitempty"`
	Sources  []Source `yaml:"sources"`
}

// LoadManifest reads a YAML manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, domain.ErrValidation("parse manifest %s: %v", path, err)
	}
	seen := make(map[string]bool, len(m.Sources))
	for i, s := range m.Sources {
		if s.DatasetID == "" {
			return nil, domain.ErrValidation("manifest source %d is missing a dataset id", i)
		}
		if seen[s.DatasetID] {
			return nil, domain.ErrValidation("dataset %q is listed more than once", s.DatasetID)
		}
		seen[s.DatasetID] = true
	}
	return &m, nil
}
