// Package connstate holds the externally observable connection flag.
package connstate

import "sync"

// State is the connection state seen by callers.
type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

type watcher struct {
	id uint64
	fn func(State)
}

// Store is a single-writer, many-reader connection flag. Transitions are pushed to
// watchers; nothing is queued, the store always holds the latest value.
type Store struct {
	mu       sync.RWMutex
	state    State
	watchers []watcher
	nextID   uint64

	// notify serializes watcher callbacks so they observe transitions in order.
	notify sync.Mutex
}

// New returns a store in the Disconnected state.
func New() *Store {
	return &Store{}
}

// Set records the new state and reports whether it changed. Watchers are called
// synchronously on change, outside the store lock.
func (s *Store) Set(connected bool) bool {
	next := Disconnected
	if connected {
		next = Connected
	}

	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return false
	}
	s.state = next
	snapshot := s.watchers
	s.mu.Unlock()

	for _, w := range snapshot {
		w.fn(next)
	}
	return true
}

// Get returns the current state.
func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connected reports whether the state is Connected.
func (s *Store) Connected() bool {
	return s.Get() == Connected
}

// Watch calls fn on every transition until the returned function is called.
func (s *Store) Watch(fn func(State)) (unwatch func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers = append(s.watchers, watcher{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, w := range s.watchers {
			if w.id == id {
				next := make([]watcher, 0, len(s.watchers)-1)
				next = append(next, s.watchers[:i]...)
				s.watchers = append(next, s.watchers[i+1:]...)
				return
			}
		}
	}
}
