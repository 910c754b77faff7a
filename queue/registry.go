package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/conveyor"
)

// Registry is an in-memory Store. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
}

var _ Store = (*Registry)(nil)

// NewRegistry returns a Registry holding configs. It panics on an invalid
// config, which is a programming error at startup.
func NewRegistry(configs ...Config) *Registry {
	r := &Registry{configs: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if err := r.Put(c); err != nil {
			panic(err)
		}
	}
	return r
}

// Put validates and stores cfg, replacing any config with the same name.
func (r *Registry) Put(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.RateLimit != nil {
		rl := *cfg.RateLimit
		cfg.RateLimit = &rl
	}
	r.mu.Lock()
	r.configs[cfg.Name] = cfg
	r.mu.Unlock()
	return nil
}

// FindByName implements Store. The returned config is a copy.
func (r *Registry) FindByName(_ context.Context, name string) (*Config, error) {
	r.mu.RLock()
	cfg, ok := r.configs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", conveyor.ErrQueueNotFound, name)
	}
	return &cfg, nil
}

// Update applies fn to the stored config for name and re-validates it.
func (r *Registry) Update(name string, fn func(*Config)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[name]
	if !ok {
		return fmt.Errorf("%w: %s", conveyor.ErrQueueNotFound, name)
	}
	fn(&cfg)
	cfg.Name = name
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.configs[name] = cfg
	return nil
}

// SetDisabled marks a queue inactive or active again.
func (r *Registry) SetDisabled(name string, disabled bool) error {
	return r.Update(name, func(c *Config) { c.Disabled = disabled })
}

// SetConcurrency changes the queue's concurrency. In-flight jobs are not
// affected.
func (r *Registry) SetConcurrency(name string, n int) error {
	return r.Update(name, func(c *Config) { c.Concurrency = n })
}

// Names returns all configured queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
