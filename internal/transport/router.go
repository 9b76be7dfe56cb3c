package transport

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type subscription struct {
	kind    string
	fn      Listener
	removed atomic.Bool
}

// Router is the per-connection subscription table shared by the transports.
type Router struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed atomic.Bool
	log    zerolog.Logger
}

// NewRouter creates an empty router.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		subs: make(map[string][]*subscription),
		log:  log,
	}
}

// Subscribe attaches fn to kind. The returned function detaches it and may be called
// any number of times, including from inside a listener.
func (r *Router) Subscribe(kind string, fn Listener) func() {
	if r.closed.Load() {
		return func() {}
	}

	sub := &subscription{kind: kind, fn: fn}
	r.mu.Lock()
	r.subs[kind] = append(r.subs[kind], sub)
	r.mu.Unlock()

	return func() {
		if sub.removed.Swap(true) {
			return
		}
		r.remove(sub)
	}
}

func (r *Router) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[sub.kind]
	for i, s := range subs {
		if s == sub {
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			r.subs[sub.kind] = next
			return
		}
	}
}

// Dispatch delivers ev to the listeners of its kind in subscription order, then to
// AnyKind listeners unless ev is a control event. It returns the number of listeners
// invoked. A listener removed during the pass is not invoked afterwards, and nothing
// is invoked once the router is closed.
func (r *Router) Dispatch(ev Event) int {
	if r.closed.Load() {
		return 0
	}

	r.mu.RLock()
	snapshot := make([]*subscription, 0, len(r.subs[ev.Kind])+len(r.subs[AnyKind]))
	snapshot = append(snapshot, r.subs[ev.Kind]...)
	if !IsControl(ev.Kind) {
		snapshot = append(snapshot, r.subs[AnyKind]...)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range snapshot {
		if r.closed.Load() {
			break
		}
		if sub.removed.Load() {
			continue
		}
		r.invoke(sub, ev)
		delivered++
	}
	return delivered
}

func (r *Router) invoke(sub *subscription, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Str("kind", ev.Kind).
				Interface("panic", p).
				Msg("listener panicked")
		}
	}()
	sub.fn(ev)
}

// Close stops all further dispatch.
func (r *Router) Close() {
	if r.closed.Swap(true) {
		return
	}
	r.mu.Lock()
	r.subs = make(map[string][]*subscription)
	r.mu.Unlock()
}

// Len returns the number of live subscriptions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}
