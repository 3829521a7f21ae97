package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ExternalManifest is a plugin manifest loaded from a catalog directory,
// describing an out-of-tree plugin kind. Module points at the WASM module
// implementing the kind, relative to the manifest file.
type ExternalManifest struct {
	Manifest `yaml:",inline"`

	// Module is the path to the plugin's compiled module.
	Module string `yaml:"module"`
}

// Catalog loads plugin manifests from a directory of YAML files and
// optionally watches the directory for changes. The engine consumes the
// catalog only between runs; a refresh while instances are owned by a
// running engine is deferred to the catalog consumer.
type Catalog struct {
	dir    string
	logger zerolog.Logger

	mu        sync.RWMutex
	manifests map[string]ExternalManifest
}

// OpenCatalog creates a catalog over dir and performs an initial load.
func OpenCatalog(dir string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		dir:       dir,
		logger:    logger.With().Str("component", "catalog").Logger(),
		manifests: make(map[string]ExternalManifest),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rescans the catalog directory, replacing the manifest set. A
// manifest that fails to parse is skipped with a warning rather than
// failing the whole catalog.
func (c *Catalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read catalog dir %s: %w", c.dir, err)
	}

	loaded := make(map[string]ExternalManifest)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(c.dir, name)
		m, err := loadExternalManifest(path)
		if err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("skipping invalid plugin manifest")
			continue
		}
		if prev, dup := loaded[m.Kind]; dup {
			c.logger.Warn().
				Str("kind", m.Kind).
				Str("kept", prev.Name).
				Str("file", name).
				Msg("duplicate plugin kind in catalog; keeping first")
			continue
		}
		loaded[m.Kind] = m
	}

	c.mu.Lock()
	c.manifests = loaded
	c.mu.Unlock()
	c.logger.Debug().Int("count", len(loaded)).Msg("catalog reloaded")
	return nil
}

func loadExternalManifest(path string) (ExternalManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExternalManifest{}, err
	}
	var m ExternalManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return ExternalManifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := m.Manifest.Validate(); err != nil {
		return ExternalManifest{}, err
	}
	if m.Module == "" {
		return ExternalManifest{}, fmt.Errorf("manifest %q: no module path", m.Kind)
	}
	if !filepath.IsAbs(m.Module) {
		m.Module = filepath.Join(filepath.Dir(path), m.Module)
	}
	return m, nil
}

// Manifests returns the loaded manifests sorted by kind.
func (c *Catalog) Manifests() []ExternalManifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ExternalManifest, 0, len(c.manifests))
	for _, m := range c.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Lookup returns the manifest for a kind.
func (c *Catalog) Lookup(kind string) (ExternalManifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.manifests[kind]
	return m, ok
}

// RegisterInto registers every catalog kind into reg, building the
// factory for each manifest with build. Kinds already present in the
// registry are skipped: builtins win over catalog entries.
func (c *Catalog) RegisterInto(reg *Registry, build func(ExternalManifest) Factory) error {
	for _, m := range c.Manifests() {
		if reg.Has(m.Kind) {
			c.logger.Warn().Str("kind", m.Kind).Msg("catalog kind shadows builtin; ignored")
			continue
		}
		if err := reg.Register(m.Kind, build(m)); err != nil {
			return err
		}
	}
	return nil
}

// Watch blocks, reloading the catalog whenever a manifest file is
// created, written, or removed, until ctx is cancelled. onChange, if not
// nil, runs after each successful reload.
func (c *Catalog) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Error().Err(err).Msg("catalog reload failed")
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error().Err(err).Msg("catalog watcher error")
		}
	}
}
