package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/stocklane/stocklane/pkg/observability"
)

// allowlistFile is the on-disk shape of the public path list.
type allowlistFile struct {
	PublicPaths []string `yaml:"public_paths"`
}

// Allowlist holds the set of public path prefixes. It satisfies the
// authentication middleware's PublicPathChecker and supports live
// reload from a YAML file.
type Allowlist struct {
	mu       sync.RWMutex
	prefixes []string
	path     string

	watchDone chan struct{}
}

// NewStaticAllowlist builds an allowlist from a fixed prefix list.
func NewStaticAllowlist(prefixes []string) *Allowlist {
	return &Allowlist{prefixes: normalizePrefixes(prefixes)}
}

// LoadAllowlist reads the public path list from a YAML file.
func LoadAllowlist(path string) (*Allowlist, error) {
	al := &Allowlist{path: path}
	if err := al.reload(); err != nil {
		return nil, err
	}
	return al, nil
}

// IsPublic reports whether path starts with any allowed prefix.
func (a *Allowlist) IsPublic(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, prefix := range a.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Prefixes returns a copy of the current prefix list.
func (a *Allowlist) Prefixes() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.prefixes))
	copy(out, a.prefixes)
	return out
}

func (a *Allowlist) reload() error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return fmt.Errorf("reading allowlist %s: %w", a.path, err)
	}

	var file allowlistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing allowlist %s: %w", a.path, err)
	}

	prefixes := normalizePrefixes(file.PublicPaths)

	a.mu.Lock()
	a.prefixes = prefixes
	a.mu.Unlock()
	return nil
}

// Watch reloads the allowlist whenever the backing file changes.
// Setup is synchronous; the reload loop runs in its own goroutine
// until ctx is cancelled. A file that becomes unreadable or
// unparseable keeps the last good prefix list.
func (a *Allowlist) Watch(ctx context.Context, logger *observability.Logger) error {
	if a.path == "" {
		return fmt.Errorf("allowlist was not loaded from a file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	// Watch the parent directory rather than the file itself so the
	// watch survives atomic rename-replace updates (editors, mounted
	// configmaps), which would otherwise end the watch at the first
	// swap.
	dir := filepath.Dir(a.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	a.watchDone = make(chan struct{})
	go a.watchLoop(ctx, watcher, logger)
	return nil
}

func (a *Allowlist) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, logger *observability.Logger) {
	defer close(a.watchDone)
	defer watcher.Close()

	name := filepath.Base(a.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := a.reload(); err != nil {
				if logger != nil {
					logger.WithError(err).Warn("allowlist reload failed, keeping previous paths")
				}
				continue
			}
			if logger != nil {
				logger.WithField("paths", len(a.Prefixes())).Info("allowlist reloaded")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if logger != nil {
				logger.WithError(err).Warn("allowlist watcher error")
			}
		}
	}
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		trimmed := strings.TrimSpace(prefix)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		out = append(out, trimmed)
	}
	return out
}
