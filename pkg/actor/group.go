package actor

import "sync"

// Group is a name-addressed registry of actor instances. Get creates the
// instance on first use, so callers address actors purely by name and the
// group guarantees exactly one instance per name.
type Group[T any] struct {
	mu     sync.RWMutex
	items  map[string]T
	create func(name string) T
}

// NewGroup returns a group that builds missing instances with create.
func NewGroup[T any](create func(name string) T) *Group[T] {
	return &Group[T]{
		items:  make(map[string]T),
		create: create,
	}
}

// Get returns the instance registered under name, creating it if absent.
func (g *Group[T]) Get(name string) T {
	g.mu.RLock()
	item, ok := g.items[name]
	g.mu.RUnlock()
	if ok {
		return item
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if item, ok = g.items[name]; ok {
		return item
	}
	item = g.create(name)
	g.items[name] = item
	return item
}

// Lookup returns the instance under name without creating it.
func (g *Group[T]) Lookup(name string) (T, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	item, ok := g.items[name]
	return item, ok
}

// Delete removes the instance under name, if present.
func (g *Group[T]) Delete(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.items, name)
}

// Names returns the registered names in no particular order.
func (g *Group[T]) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.items))
	for name := range g.items {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered instances.
func (g *Group[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.items)
}

// Range calls fn for each instance until fn returns false. The snapshot is
// taken up front, so fn may call back into the group.
func (g *Group[T]) Range(fn func(name string, item T) bool) {
	g.mu.RLock()
	snapshot := make(map[string]T, len(g.items))
	for name, item := range g.items {
		snapshot[name] = item
	}
	g.mu.RUnlock()

	for name, item := range snapshot {
		if !fn(name, item) {
			return
		}
	}
}
