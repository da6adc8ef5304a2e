package poll

import (
	"iter"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Polled is the type-erased view of an Item that the registry and the
// scheduler work with.
type Polled interface {
	Name() string
	Handle() uuid.UUID
	IsStale() bool
	Refresh()
	ForceClear()
	Status() Status
}

// Registry tracks live items by handle. It only looks items up, it never
// owns them: an item's owner closes it, which removes it from the registry.
type Registry struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Polled
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry that items join unless
// WithRegistry says otherwise.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items: make(map[uuid.UUID]Polled),
	}
}

// Register adds p under its handle, replacing any previous entry.
func (r *Registry) Register(p Polled) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.Handle()] = p
}

// Unregister removes the item with the given handle and reports whether it
// was present.
func (r *Registry) Unregister(handle uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[handle]; !ok {
		return false
	}
	delete(r.items, handle)
	return true
}

// Lookup returns the item registered under handle.
func (r *Registry) Lookup(handle uuid.UUID) (Polled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[handle]
	return p, ok
}

// Len returns the number of registered items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// All enumerates the registered items in no particular order. Each range
// over the sequence starts from a fresh snapshot, so the lock is never held
// while the caller's loop body runs.
func (r *Registry) All() iter.Seq[Polled] {
	return func(yield func(Polled) bool) {
		for _, p := range r.snapshot() {
			if !yield(p) {
				return
			}
		}
	}
}

// ForEach calls fn for every registered item until fn returns false.
func (r *Registry) ForEach(fn func(Polled) bool) {
	for p := range r.All() {
		if !fn(p) {
			return
		}
	}
}

// Statuses returns the status of every registered item, sorted by name.
func (r *Registry) Statuses() []Status {
	items := r.snapshot()
	statuses := make([]Status, 0, len(items))
	for _, p := range items {
		statuses = append(statuses, p.Status())
	}
	sort.Slice(statuses, func(a, b int) bool {
		if statuses[a].Name != statuses[b].Name {
			return statuses[a].Name < statuses[b].Name
		}
		return statuses[a].Handle.String() < statuses[b].Handle.String()
	})
	return statuses
}

func (r *Registry) snapshot() []Polled {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Polled, 0, len(r.items))
	for _, p := range r.items {
		items = append(items, p)
	}
	return items
}
