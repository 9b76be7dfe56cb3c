// Package listener keeps the durable set of event listeners registered by callers.
//
// The registry is the single source of truth for "what should be listening". It never
// touches a transport; the supervisor projects its entries onto whichever transport is
// current and recomputes that projection on every reconnect.
package listener

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/opencode-ai/eventstream/internal/transport"
)

// AnyKind registers a listener for every non-control event kind.
const AnyKind = transport.AnyKind

// Entry is one registered listener.
type Entry struct {
	Kind string
	ID   uint64
	Fn   transport.Listener
}

// Registry maps event kinds to ordered listener entries.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	nextID  uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string][]Entry),
	}
}

func (r *Registry) newID() uint64 {
	return atomic.AddUint64(&r.nextID, 1)
}

// Add records fn for kind and returns its id. Ids are unique across kinds.
func (r *Registry) Add(kind string, fn transport.Listener) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	r.entries[kind] = append(r.entries[kind], Entry{Kind: kind, ID: id, Fn: fn})
	return id
}

// Remove deletes the entry with the given id. It reports whether an entry was removed;
// removing an unknown or already removed id is a no-op.
func (r *Registry) Remove(kind string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.entries[kind]
	for i, e := range entries {
		if e.ID != id {
			continue
		}
		// Copy instead of shifting in place so snapshots handed out earlier stay intact.
		next := make([]Entry, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(r.entries, kind)
		} else {
			r.entries[kind] = next
		}
		return true
	}
	return false
}

// ForEach calls fn for every entry of kind in registration order.
// It iterates over a snapshot, so fn may add or remove entries.
func (r *Registry) ForEach(kind string, fn func(Entry)) {
	r.mu.RLock()
	snapshot := r.entries[kind]
	r.mu.RUnlock()

	for _, e := range snapshot {
		fn(e)
	}
}

// All returns every entry across all kinds, in registration order.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	all := make([]Entry, 0, r.lenLocked())
	for _, entries := range r.entries {
		all = append(all, entries...)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Registry) lenLocked() int {
	n := 0
	for _, entries := range r.entries {
		n += len(entries)
	}
	return n
}

// Kinds returns the kinds that have at least one listener, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	kinds := make([]string, 0, len(r.entries))
	for kind := range r.entries {
		kinds = append(kinds, kind)
	}
	r.mu.RUnlock()

	sort.Strings(kinds)
	return kinds
}
