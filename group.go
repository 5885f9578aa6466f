package lateral

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Group fans one region out to every configured peer. Writes go to all
// peers, Get takes the first hit in registration order, GetMatching merges
// with later peers winning, KeySet is the union.
type Group[V any] struct {
	region   string
	listener Listener
	log      Logger

	mu       sync.Mutex // guards peer slice replacement
	peers    atomic.Pointer[[]*AsyncPeerCache[V]]
	disposed atomic.Bool
}

var _ Cache[struct{}] = (*Group[struct{}])(nil)

// NewGroup returns a group for region. listener may be nil; a group holding
// one stays ALIVE whatever its peers report.
func NewGroup[V any](region string, peers []*AsyncPeerCache[V], listener Listener, log Logger) *Group[V] {
	if log == nil {
		log = NopLogger{}
	}
	g := &Group[V]{region: region, listener: listener, log: log}
	cp := make([]*AsyncPeerCache[V], len(peers))
	copy(cp, peers)
	g.peers.Store(&cp)
	return g
}

func (g *Group[V]) Region() string { return g.region }

// Peers returns a snapshot of the current peers. Callers must not modify it.
func (g *Group[V]) Peers() []*AsyncPeerCache[V] { return *g.peers.Load() }

// AddPeer appends c unless it, or another cache for the same peer, is
// already present.
func (g *Group[V]) AddPeer(c *AsyncPeerCache[V]) bool {
	if c == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := *g.peers.Load()
	for _, p := range cur {
		if p == c || p.Peer() == c.Peer() {
			return false
		}
	}
	next := make([]*AsyncPeerCache[V], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, c)
	g.peers.Store(&next)
	g.log.Info("lateral: peer added to group", peerFields(g.region, c.Peer()))
	return true
}

// RemovePeer detaches c without disposing it.
func (g *Group[V]) RemovePeer(c *AsyncPeerCache[V]) bool {
	if c == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := *g.peers.Load()
	for i, p := range cur {
		if p != c {
			continue
		}
		next := make([]*AsyncPeerCache[V], 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		g.peers.Store(&next)
		g.log.Info("lateral: peer removed from group", peerFields(g.region, c.Peer()))
		return true
	}
	return false
}

func (g *Group[V]) peerByName(name string) *AsyncPeerCache[V] {
	for _, p := range g.Peers() {
		if p.Peer() == name {
			return p
		}
	}
	return nil
}

// Update hands e to every peer. One peer's trouble never stops the others.
func (g *Group[V]) Update(ctx context.Context, e *Element[V]) error {
	if e == nil {
		return ErrNilElement
	}
	if g.disposed.Load() {
		return ErrDisposed
	}
	e = e.withRegion(g.region)
	for _, p := range g.Peers() {
		if err := p.Update(ctx, e); err != nil {
			g.log.Debug("lateral: peer rejected update", peerFields(g.region, p.Peer()).with("err", err))
		}
	}
	return nil
}

func (g *Group[V]) Get(ctx context.Context, key string) *Element[V] {
	for _, p := range g.Peers() {
		if e := p.Get(ctx, key); e != nil {
			return e
		}
	}
	return nil
}

func (g *Group[V]) GetMultiple(ctx context.Context, keys []string) map[string]*Element[V] {
	out := make(map[string]*Element[V], len(keys))
	for _, k := range keys {
		if e := g.Get(ctx, k); e != nil {
			out[k] = e
		}
	}
	return out
}

func (g *Group[V]) GetMatching(ctx context.Context, pattern string) map[string]*Element[V] {
	out := make(map[string]*Element[V])
	for _, p := range g.Peers() {
		for k, e := range p.GetMatching(ctx, pattern) {
			out[k] = e
		}
	}
	return out
}

// KeySet returns the sorted union of every peer's keys.
func (g *Group[V]) KeySet(ctx context.Context) []string {
	seen := make(map[string]struct{})
	for _, p := range g.Peers() {
		for _, k := range p.KeySet(ctx) {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g *Group[V]) Remove(ctx context.Context, key string) bool {
	for _, p := range g.Peers() {
		p.Remove(ctx, key)
	}
	return false
}

func (g *Group[V]) RemoveAll(ctx context.Context) {
	for _, p := range g.Peers() {
		p.RemoveAll(ctx)
	}
}

// Dispose shuts the listener, then every peer. Only the first call does anything.
func (g *Group[V]) Dispose(ctx context.Context) {
	if !g.disposed.CompareAndSwap(false, true) {
		return
	}
	if g.listener != nil {
		if err := g.listener.Dispose(ctx); err != nil {
			g.log.Warn("lateral: listener dispose failed", Fields{"region": g.region, "err": err})
		}
	}
	for _, p := range g.Peers() {
		p.Dispose(ctx)
	}
	g.log.Info("lateral: group disposed", Fields{"region": g.region})
}

// Status: DISPOSED once disposed; ALIVE with no peers, any ALIVE peer or a
// listener; ERROR if any peer is in ERROR; DISPOSED otherwise.
func (g *Group[V]) Status() CacheStatus {
	if g.disposed.Load() {
		return StatusDisposed
	}
	peers := g.Peers()
	if len(peers) == 0 || g.listener != nil {
		return StatusAlive
	}
	anyError := false
	for _, p := range peers {
		switch p.Status() {
		case StatusAlive:
			return StatusAlive
		case StatusError:
			anyError = true
		}
	}
	if anyError {
		return StatusError
	}
	// every peer disposed while the group itself is not
	return StatusDisposed
}

func (g *Group[V]) Stats() Stats {
	s := Stats{TypeName: "Lateral Cache Group"}
	peers := g.Peers()
	s.add("Region", g.region)
	s.add("Status", g.Status().String())
	s.add("Number of Peers", len(peers))
	for _, p := range peers {
		s.Elements = append(s.Elements, p.Stats().Elements...)
	}
	return s
}
