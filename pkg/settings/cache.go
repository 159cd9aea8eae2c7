package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/giantswarm/given/pkg/logging"
)

// Source yields the settings for the current process.
type Source interface {
	Load() (*Settings, error)
}

// Cache loads settings files and caches them by absolute path. Discovery is
// repeated on every Load so a changed GIVEN_SETTINGS takes effect; parsing
// happens once per path until the entry is invalidated.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Settings

	dir    string
	path   string
	getenv func(string) string

	watchMu sync.Mutex
	watcher *watcher
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithDir sets the directory discovery starts from. Defaults to the working directory.
func WithDir(dir string) CacheOption {
	return func(c *Cache) { c.dir = dir }
}

// WithPath pins the settings file and skips discovery.
func WithPath(path string) CacheOption {
	return func(c *Cache) { c.path = path }
}

// WithEnv replaces os.Getenv for discovery and ${ENV:NAME} expansion.
func WithEnv(getenv func(string) string) CacheOption {
	return func(c *Cache) { c.getenv = getenv }
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]*Settings),
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// DefaultCache returns the process wide cache, created on first use.
func DefaultCache() *Cache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewCache()
	})
	return defaultCache
}

// Path returns the absolute path Load would read, or "" when no file is found.
func (c *Cache) Path() (string, error) {
	path := c.path
	if path == "" {
		dir := c.dir
		if dir == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("failed to determine working directory: %w", err)
			}
			dir = wd
		}
		path = Discover(dir, c.getenv)
	}
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve settings path %s: %w", path, err)
	}
	return abs, nil
}

// Load returns the settings for the discovered file. Callers receive a
// copy they may modify. A missing file yields defaults.
func (c *Cache) Load() (*Settings, error) {
	path, err := c.Path()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	s, err := loadOrDefault(path, c.getenv)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[path] = s
	c.mu.Unlock()

	c.watchPath(path)
	return s.Clone(), nil
}

// Invalidate drops the cached entry for path.
func (c *Cache) Invalidate(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		logging.Debug("Settings", "Invalidated cached settings for %s", path)
	}
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Settings)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) cachedPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Watch invalidates cached entries when their files change, until ctx is
// done. Files loaded after Watch is called are watched as well.
func (c *Cache) Watch(ctx context.Context) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watcher != nil {
		return nil
	}

	w, err := newWatcher(c.Invalidate)
	if err != nil {
		return err
	}
	for _, p := range c.cachedPaths() {
		w.add(p)
	}
	c.watcher = w

	go func() {
		<-ctx.Done()
		c.watchMu.Lock()
		c.watcher = nil
		c.watchMu.Unlock()
		w.stop()
	}()
	return nil
}

func (c *Cache) watchPath(path string) {
	if path == "" {
		return
	}
	c.watchMu.Lock()
	w := c.watcher
	c.watchMu.Unlock()
	if w != nil {
		w.add(path)
	}
}

// Static returns a Source that always yields a copy of s with defaults applied.
func Static(s *Settings) Source {
	if s == nil {
		s = &Settings{}
	}
	s = s.Clone()
	s.ApplyDefaults()
	return staticSource{s: s}
}

type staticSource struct {
	s *Settings
}

func (st staticSource) Load() (*Settings, error) {
	return st.s.Clone(), nil
}
