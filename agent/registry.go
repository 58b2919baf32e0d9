package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/capiware/capi-orchestrator/log"
)

// Registry enumerates registered agents, resolves their factories and
// caches instances. It is read-mostly: refresh takes the writer lock and
// readers observe a consistent snapshot.
type Registry struct {
	mu        sync.RWMutex
	path      string
	deps      Deps
	manifests map[string]*Manifest
	order     []string
	factories map[string]Factory
	instances map[string]Agent
	version   int
	builtAt   time.Time
	onChange  func()
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithManifestPath sets the YAML manifest source file. Without it the
// built-in default manifest set is used.
func WithManifestPath(path string) RegistryOption {
	return func(r *Registry) { r.path = path }
}

// WithDeps sets the dependencies injected into agent factories.
func WithDeps(deps Deps) RegistryOption {
	return func(r *Registry) { r.deps = deps }
}

// WithOnChange registers a callback invoked after every registry
// mutation (refresh, enable/disable, register/unregister).
func WithOnChange(fn func()) RegistryOption {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates a registry and performs the initial load.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		manifests: make(map[string]*Manifest),
		factories: make(map[string]Factory),
		instances: make(map[string]Agent),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterFactory binds a node class path to a factory. Factories must
// be registered before the agents they build are instantiated.
func (r *Registry) RegisterFactory(nodeClassPath string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[nodeClassPath] = factory
}

// Refresh re-reads the manifest source and invalidates cached instances.
func (r *Registry) Refresh() error {
	manifests, err := r.loadManifests()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.manifests = make(map[string]*Manifest, len(manifests))
	r.order = r.order[:0]
	for _, m := range manifests {
		r.manifests[m.AgentName] = m
		r.order = append(r.order, m.AgentName)
	}
	r.instances = make(map[string]Agent)
	r.version++
	r.builtAt = time.Now().UTC()
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *Registry) loadManifests() ([]*Manifest, error) {
	if r.path == "" {
		return DefaultManifests(), nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("agent registry: manifest file %s missing, using defaults", r.path)
			return DefaultManifests(), nil
		}
		return nil, fmt.Errorf("read manifest file: %w", err)
	}
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse manifest file: %w", err)
	}
	if len(file.Agents) == 0 {
		return DefaultManifests(), nil
	}
	return file.Agents, nil
}

// ListRegisteredAgents returns all manifests in registration order.
func (r *Registry) ListRegisteredAgents() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manifest, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.manifests[name])
	}
	return out
}

// GetAgentManifest returns the manifest for an agent, or nil.
func (r *Registry) GetAgentManifest(name string) *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifests[name]
}

// EnabledAgents returns the names of enabled agents in order.
func (r *Registry) EnabledAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.manifests[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}

// IsEnabled reports whether the agent exists and is enabled.
func (r *Registry) IsEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	return ok && m.Enabled
}

// SetEnabled flips an agent's enablement.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	m, ok := r.manifests[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown agent %q", name)
	}
	m.Enabled = enabled
	delete(r.instances, name)
	r.version++
	r.builtAt = time.Now().UTC()
	r.mu.Unlock()
	r.notify()
	return nil
}

// Register adds (or re-enables) an agent by name using the default
// node class path convention.
func (r *Registry) Register(name string) error {
	r.mu.Lock()
	if m, ok := r.manifests[name]; ok {
		m.Enabled = true
	} else {
		r.manifests[name] = &Manifest{
			AgentName:     name,
			NodeClassPath: "agents." + name,
			Enabled:       true,
		}
		r.order = append(r.order, name)
	}
	delete(r.instances, name)
	r.version++
	r.builtAt = time.Now().UTC()
	r.mu.Unlock()
	r.notify()
	return nil
}

// Unregister disables and removes an agent from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	if _, ok := r.manifests[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown agent %q", name)
	}
	delete(r.manifests, name)
	delete(r.instances, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.version++
	r.builtAt = time.Now().UTC()
	r.mu.Unlock()
	r.notify()
	return nil
}

// Instantiate returns the (cached) agent instance for a name. Optional
// agents whose factory is absent yield an error the caller may treat as
// a graceful skip.
func (r *Registry) Instantiate(name string) (Agent, error) {
	r.mu.RLock()
	if inst, ok := r.instances[name]; ok {
		r.mu.RUnlock()
		return inst, nil
	}
	m, ok := r.manifests[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	if !m.Enabled {
		return nil, fmt.Errorf("agent %q is disabled", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[name]; ok {
		return inst, nil
	}
	factory, ok := r.factories[m.NodeClassPath]
	if !ok {
		return nil, fmt.Errorf("no factory registered for %q", m.NodeClassPath)
	}
	inst, err := factory(r.deps)
	if err != nil {
		return nil, fmt.Errorf("instantiate agent %q: %w", name, err)
	}
	r.instances[name] = inst
	return inst, nil
}

// Version returns the registry version counter and build time.
func (r *Registry) Version() (int, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version, r.builtAt
}

// Watch refreshes the registry whenever the manifest file changes. It
// blocks until the context is cancelled. Without a manifest path it
// returns immediately.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(r.path); err != nil {
		return fmt.Errorf("watch %s: %w", r.path, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Refresh(); err != nil {
				log.Errorf("agent registry: refresh after %s failed: %v", evt.Name, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("agent registry: watcher error: %v", err)
		}
	}
}

func (r *Registry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
