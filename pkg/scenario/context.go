package scenario

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/giantswarm/given/pkg/logging"
	"github.com/giantswarm/given/pkg/settings"
)

// Storage is a concurrency safe registry of executed steps keyed by a
// case-insensitive name.
type Storage struct {
	mu    sync.RWMutex
	steps map[string]namedStep
}

type namedStep struct {
	name string
	step Step
}

// NewStorage returns an empty registry.
func NewStorage() *Storage {
	return &Storage{steps: make(map[string]namedStep)}
}

// Save stores step under name, overwriting an earlier entry.
func (s *Storage) Save(name string, step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[strings.ToLower(name)] = namedStep{name: name, step: step}
}

// Get returns the step saved under name or ErrStepNotFound.
func (s *Storage) Get(name string) (Step, error) {
	step, ok := s.TryGet(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStepNotFound, name)
	}
	return step, nil
}

// TryGet returns the step saved under name and whether it exists.
func (s *Storage) TryGet(name string) (Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.steps[strings.ToLower(name)]
	return entry.step, ok
}

// Names returns the saved names as given to Save, sorted.
func (s *Storage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.steps))
	for _, entry := range s.steps {
		names = append(names, entry.name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of saved steps.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.steps)
}

// Context is the scenario scoped state handed to every step execution:
// a property bag, the named step registry and the settings source.
type Context struct {
	mu       sync.RWMutex
	props    map[string]any
	storage  *Storage
	settings settings.Source
}

// NewContext creates a Context reading settings from src. A nil src uses
// settings.DefaultCache().
func NewContext(src settings.Source) *Context {
	if src == nil {
		src = settings.DefaultCache()
	}
	return &Context{
		props:    make(map[string]any),
		storage:  NewStorage(),
		settings: src,
	}
}

// Set stores value under key. The last write wins.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.props[key] = value
	logging.Debug("Scenario", "Set property '%s'", key)
}

// Get returns the value under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.props[key]
	return v, ok
}

// Delete removes key from the property bag.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.props, key)
}

// Keys returns the property keys, sorted.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.props))
	for k := range c.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Properties returns a copy of the property bag.
func (c *Context) Properties() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.props))
	for k, v := range c.props {
		out[k] = v
	}
	return out
}

// Storage returns the registry of named steps.
func (c *Context) Storage() *Storage { return c.storage }

// Settings returns the settings source bound to the scenario.
func (c *Context) Settings() settings.Source { return c.settings }

// LoadSettings loads the settings bound to this context.
func (c *Context) LoadSettings() (*settings.Settings, error) {
	return c.settings.Load()
}

// Property returns the value under key converted to T. The second return is
// false when the key is missing or holds a different type.
func Property[T any](c *Context, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
