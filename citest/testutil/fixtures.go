package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/opencode-ai/eventstream/pkg/eventstream"
)

// RandomString generates a random string of n characters
func RandomString(n int) string {
	bytes := make([]byte, n/2+1)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:n]
}

// UniqueKind returns an event kind no other test publishes
func UniqueKind(prefix string) string {
	return prefix + "." + RandomString(8)
}

// Recorder collects client events and connection states for assertions
type Recorder struct {
	mu     sync.Mutex
	events []eventstream.Event
	states []eventstream.State
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Listener returns an event listener that records into r
func (r *Recorder) Listener() eventstream.Listener {
	return func(ev eventstream.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
}

// Watcher returns a connection state watcher that records into r
func (r *Recorder) Watcher() func(eventstream.State) {
	return func(s eventstream.State) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
	}
}

// Events returns the recorded events
func (r *Recorder) Events() []eventstream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]eventstream.Event, len(r.events))
	copy(result, r.events)
	return result
}

// EventCount returns the number of recorded events
func (r *Recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// States returns the recorded connection states
func (r *Recorder) States() []eventstream.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]eventstream.State, len(r.states))
	copy(result, r.states)
	return result
}
