// Package routecfg loads optional YAML overrides for the routing tables and
// classifier weights, and hot-reloads them when the file changes.
package routecfg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/blockrun/proxy/internal/classifier"
	"github.com/blockrun/proxy/internal/models"
	"github.com/blockrun/proxy/internal/routing"
)

// File is the on-disk override shape. Absent sections keep the built-in
// defaults.
type File struct {
	Profiles map[string]map[string]RouteYAML `yaml:"profiles"`
	Weights  *classifier.Weights             `yaml:"classifier_weights"`
}

type RouteYAML struct {
	Primary  string   `yaml:"primary"`
	Fallback []string `yaml:"fallback"`
}

// Config is the merged, validated runtime configuration.
type Config struct {
	Tables  routing.Tables
	Weights classifier.Weights
}

// Loader holds the current config and swaps it atomically on reload.
type Loader struct {
	log  *slog.Logger
	path string
	reg  *models.Registry

	mu  sync.RWMutex
	cur *Config
}

// NewLoader builds a loader seeded with defaults. path may be empty, in
// which case defaults are permanent and Watch is a no-op.
func NewLoader(log *slog.Logger, path string, reg *models.Registry) (*Loader, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{
		log:  log,
		path: path,
		reg:  reg,
		cur: &Config{
			Tables:  routing.DefaultTables(),
			Weights: classifier.DefaultConfig().Weights,
		},
	}
	if path != "" {
		if err := l.reload(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Current returns the active config. The returned pointer is immutable;
// reloads install a fresh one.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

func (l *Loader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read routing config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse routing config: %w", err)
	}

	cfg := &Config{
		Tables:  routing.DefaultTables(),
		Weights: classifier.DefaultConfig().Weights,
	}
	if f.Weights != nil {
		cfg.Weights = *f.Weights
	}
	for profile, tiers := range f.Profiles {
		table, err := buildTable(l.reg, tiers)
		if err != nil {
			return fmt.Errorf("profile %q: %w", profile, err)
		}
		switch profile {
		case "eco":
			cfg.Tables.Eco = table
		case "auto":
			cfg.Tables.Auto = table
		case "agentic":
			cfg.Tables.Agentic = table
		case "premium":
			cfg.Tables.Premium = table
		default:
			return fmt.Errorf("unknown profile %q", profile)
		}
	}

	l.mu.Lock()
	l.cur = cfg
	l.mu.Unlock()
	return nil
}

func buildTable(reg *models.Registry, tiers map[string]RouteYAML) (routing.Table, error) {
	table := make(routing.Table, len(tiers))
	for name, route := range tiers {
		tier := classifier.ParseTier(name)
		if tier.String() != strings.ToUpper(strings.TrimSpace(name)) {
			return nil, fmt.Errorf("unknown tier %q", name)
		}
		if route.Primary == "" {
			return nil, fmt.Errorf("tier %s: primary is required", name)
		}
		for _, id := range append([]string{route.Primary}, route.Fallback...) {
			if reg != nil {
				if _, ok := reg.Get(reg.Resolve(id)); !ok {
					return nil, fmt.Errorf("tier %s: unknown model %q", name, id)
				}
			}
		}
		table[tier] = routing.Route{Primary: route.Primary, Fallback: route.Fallback}
	}
	return table, nil
}

// Watch reloads the config whenever the file is rewritten. It returns when
// stop is closed. Editors that replace the file (rename + create) are
// handled by watching the directory.
func (l *Loader) Watch(stop <-chan struct{}) error {
	if l.path == "" {
		<-stop
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch %s: %w", l.path, err)
	}

	target := filepath.Clean(l.path)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := l.reload(); err != nil {
				// Keep serving the last good config.
				l.log.Error("routing config reload failed", "path", l.path, "error", err)
				continue
			}
			l.log.Info("routing config reloaded", "path", l.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error("routing config watcher error", "error", err)
		case <-stop:
			return nil
		}
	}
}
