// Package plugin defines the extension contract and the registry that
// routes method calls to registered plugins.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrPluginNotFound = errors.New("plugin not found")
	ErrMethodNotFound = errors.New("method not found")
	ErrAlreadyExists  = errors.New("plugin already registered")
)

// Method is one callable operation exposed by a plugin.
type Method func(ctx context.Context, params map[string]any) (*Result, error)

// Result is the uniform outcome envelope for plugin calls.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// OK wraps data in a successful result.
func OK(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail wraps an error message in a failed result.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Plugin is implemented by every extension. Methods is called once at
// registration; the returned table is the plugin's entire surface.
type Plugin interface {
	Name() string
	Version() string
	Description() string
	Init(cfg map[string]any) error
	Methods() map[string]Method
}

// Info describes a registered plugin.
type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
}

type entry struct {
	plugin  Plugin
	methods map[string]Method
}

// Registry holds registered plugins and their method tables. The table
// is built once at registration, so lookup at call time is two map hits.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register initializes p with cfg and snapshots its method table.
func (r *Registry) Register(p Plugin, cfg map[string]any) error {
	name := p.Name()

	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	r.mu.Unlock()

	if err := p.Init(cfg); err != nil {
		return fmt.Errorf("init plugin %s: %w", name, err)
	}

	methods := make(map[string]Method, len(p.Methods()))
	for m, fn := range p.Methods() {
		methods[m] = fn
	}

	// Re-check under the lock: a concurrent Register for the same name may
	// have won since the early check.
	r.mu.Lock()
	if _, ok := r.entries[name]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	r.entries[name] = &entry{plugin: p, methods: methods}
	r.mu.Unlock()

	r.logger.Info("plugin registered",
		zap.String("plugin", name),
		zap.String("version", p.Version()),
		zap.Int("methods", len(methods)))
	return nil
}

// Unregister removes a plugin, reporting whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return false
	}
	delete(r.entries, name)
	return true
}

// Execute invokes method on the named plugin.
func (r *Registry) Execute(ctx context.Context, pluginName, method string, params map[string]any) (*Result, error) {
	r.mu.RLock()
	e, ok := r.entries[pluginName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, pluginName)
	}
	fn, ok := e.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, pluginName, method)
	}
	return fn(ctx, params)
}

// List describes every registered plugin, sorted by name at the caller's
// discretion.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for name, e := range r.entries {
		methods := make([]string, 0, len(e.methods))
		for m := range e.methods {
			methods = append(methods, m)
		}
		out = append(out, Info{
			Name:        name,
			Version:     e.plugin.Version(),
			Description: e.plugin.Description(),
			Methods:     methods,
		})
	}
	return out
}

// Get returns the registered plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}
