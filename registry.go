package lateral

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Registry holds every region replicating to one peer, together with the
// endpoint they share. It is what the monitor repairs.
type Registry[V any] struct {
	peer  string
	dial  Dialer[V]
	log   Logger
	hooks Hooks

	mu     sync.Mutex // guards ep and caches replacement
	ep     Endpoint[V]
	caches atomic.Pointer[map[string]*AsyncPeerCache[V]]
}

var _ Watchable = (*Registry[struct{}])(nil)

func NewRegistry[V any](peer string, dial Dialer[V], log Logger, hooks Hooks) *Registry[V] {
	if log == nil {
		log = NopLogger{}
	}
	if hooks == nil {
		hooks = NopHooks{}
	}
	r := &Registry[V]{peer: peer, dial: dial, log: log, hooks: hooks}
	empty := map[string]*AsyncPeerCache[V]{}
	r.caches.Store(&empty)
	return r
}

func (r *Registry[V]) Peer() string { return r.peer }

// Endpoint returns the shared endpoint, dialing it the first time.
func (r *Registry[V]) Endpoint(ctx context.Context) (Endpoint[V], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ep != nil {
		return r.ep, nil
	}
	ep, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	r.ep = ep
	return ep, nil
}

// connect always dials a fresh endpoint.
func (r *Registry[V]) connect(ctx context.Context) (Endpoint[V], error) {
	if r.dial == nil {
		return nil, ErrNoPeers
	}
	return r.dial(ctx, r.peer)
}

// Add registers c under its region, replacing an earlier cache for it.
func (r *Registry[V]) Add(c *AsyncPeerCache[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.caches.Load()
	next := make(map[string]*AsyncPeerCache[V], len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[c.Region()] = c
	r.caches.Store(&next)
}

// Remove unregisters the cache of region if it is c.
func (r *Registry[V]) Remove(region string, c *AsyncPeerCache[V]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.caches.Load()
	if got, ok := cur[region]; !ok || got != c {
		return false
	}
	next := make(map[string]*AsyncPeerCache[V], len(cur))
	for k, v := range cur {
		if k != region {
			next[k] = v
		}
	}
	r.caches.Store(&next)
	return true
}

func (r *Registry[V]) Get(region string) (*AsyncPeerCache[V], bool) {
	c, ok := (*r.caches.Load())[region]
	return c, ok
}

// Caches returns a snapshot. Callers must not modify it.
func (r *Registry[V]) Caches() map[string]*AsyncPeerCache[V] { return *r.caches.Load() }

func (r *Registry[V]) Len() int { return len(*r.caches.Load()) }

func (r *Registry[V]) Statuses() []CacheStatus {
	caches := r.Caches()
	out := make([]CacheStatus, 0, len(caches))
	for _, c := range caches {
		out = append(out, c.Status())
	}
	return out
}

// FixCaches hands ep to every registered cache, then retires the endpoint
// they used before.
func (r *Registry[V]) FixCaches(ctx context.Context, ep Endpoint[V]) {
	caches := r.Caches()
	for _, c := range caches {
		c.FixCache(ctx, ep)
	}

	r.mu.Lock()
	old := r.ep
	r.ep = ep
	r.mu.Unlock()

	r.log.Info("lateral: peer caches fixed", Fields{"peer": r.peer, "caches": len(caches)})
	if old != nil && old != ep {
		r.closeEndpoint(old)
	}
}

func (r *Registry[V]) closeEndpoint(ep Endpoint[V]) {
	if cl, ok := ep.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			r.log.Debug("lateral: closing endpoint failed", Fields{"peer": r.peer, "err": err})
		}
	}
}

// close releases the shared endpoint.
func (r *Registry[V]) close() {
	r.mu.Lock()
	ep := r.ep
	r.ep = nil
	r.mu.Unlock()
	if ep != nil {
		r.closeEndpoint(ep)
	}
}

func (r *Registry[V]) NewRecoveryStrategy() *RecoveryStrategy {
	return newRecoveryStrategy(r.peer, r.log, r.hooks, func(ctx context.Context) (func(context.Context), error) {
		ep, err := r.connect(ctx)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) { r.FixCaches(ctx, ep) }, nil
	})
}
