package job

import (
	"sort"
	"sync"
)

// Key identifies a processor registration. An empty Queue matches every queue.
type Key struct {
	Name  string
	Queue string
}

// Registry maps (name, queue) pairs to processors.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[Key]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[Key]Processor)}
}

// Register binds p to jobs named name on queue. Pass an empty queue to
// serve the name on every queue. A later registration replaces an earlier
// one for the same key.
func (r *Registry) Register(name, queue string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[Key{Name: name, Queue: queue}] = p
}

// Lookup returns the processor for (name, queue), falling back to the
// queue-agnostic registration for name.
func (r *Registry) Lookup(name, queue string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.processors[Key{Name: name, Queue: queue}]; ok {
		return p, true
	}
	p, ok := r.processors[Key{Name: name}]
	return p, ok
}

// Keys returns every registration, sorted by name then queue.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.processors))
	for k := range r.processors {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Queue < keys[j].Queue
	})
	return keys
}
