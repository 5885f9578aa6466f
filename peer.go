package lateral

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PeerOptions are the collaborators of a PeerCache.
type PeerOptions struct {
	Origin   uint64        // node id stamped on every mutation
	Logger   Logger        // nil => NopLogger
	Hooks    Hooks         // nil => NopHooks
	Notifier ErrorNotifier // told about every fail-over; nil => nobody
}

// PeerCache is the synchronous view of one region on one peer. Transport
// failures swap the endpoint for a fail-safe stub until FixCache restores it.
type PeerCache[V any] struct {
	attrs    RegionAttributes
	peer     string
	origin   uint64
	log      Logger
	hooks    Hooks
	notifier ErrorNotifier

	// mu is held for writing only by FixCache so that replaying the stub and
	// swapping the endpoint happen before any new call reaches the endpoint.
	mu       sync.RWMutex
	cur      atomic.Pointer[handle[V]]
	disposed atomic.Bool
}

// NewPeerCache returns a cache for attrs.Region on peer. A nil ep starts the
// cache on its stub, in ERROR, waiting for the monitor.
func NewPeerCache[V any](attrs RegionAttributes, peer string, ep Endpoint[V], opts PeerOptions) *PeerCache[V] {
	var log Logger = NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	var hooks Hooks = NopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	var notifier ErrorNotifier = nopNotifier{}
	if opts.Notifier != nil {
		notifier = opts.Notifier
	}

	p := &PeerCache[V]{
		attrs:    attrs.forPeer(peer),
		peer:     peer,
		origin:   opts.Origin,
		log:      log,
		hooks:    hooks,
		notifier: notifier,
	}
	if ep != nil {
		p.cur.Store(liveHandle(ep))
	} else {
		p.cur.Store(stubHandle(p.newStub()))
	}
	return p
}

func (p *PeerCache[V]) Region() string { return p.attrs.Region }
func (p *PeerCache[V]) Peer() string   { return p.peer }

func (p *PeerCache[V]) fields() Fields { return peerFields(p.attrs.Region, p.peer) }

func (p *PeerCache[V]) newStub() *stub[V] {
	return newStub[V](p.attrs.stubCapacity(), func() {
		p.hooks.StubOverflow(p.attrs.Region, p.peer)
	})
}

func (p *PeerCache[V]) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.attrs.Queue.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.attrs.Queue.OpTimeout)
}

// abandoned reports whether the caller gave up on ctx. Such an error says
// nothing about the peer; expiry of the per-call OpTimeout still does.
func abandoned(ctx context.Context) bool { return ctx.Err() != nil }

// failOver replaces h with a fresh stub, unless somebody already did.
func (p *PeerCache[V]) failOver(h *handle[V], op string, err error) *PeerError {
	pe := &PeerError{Region: p.attrs.Region, Peer: p.peer, Op: op, Err: err}
	if h.failed() {
		return pe
	}
	if p.cur.CompareAndSwap(h, stubHandle(p.newStub())) {
		p.log.Error("lateral: peer failed over to stub", p.fields().with("op", op).with("err", err))
		p.hooks.PeerFailedOver(p.attrs.Region, p.peer, op, err)
		p.notifier.NotifyError()
	}
	return pe
}

// fail forces the peer onto its stub, used when a caller above decides a
// non-transport error is fatal for this connection.
func (p *PeerCache[V]) fail(op string, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.failOver(p.cur.Load(), op, err)
}

// Update sends e to the peer. On transport failure the peer is already on its
// stub when the *PeerError is returned; retrying lands e in the stub buffer.
func (p *PeerCache[V]) Update(ctx context.Context, e *Element[V]) error {
	if e == nil {
		return ErrNilElement
	}
	if p.disposed.Load() {
		return ErrDisposed
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	cctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := h.ep.Update(cctx, e.withRegion(p.attrs.Region), p.origin); err != nil {
		if abandoned(ctx) {
			return err
		}
		return p.failOver(h, "update", err)
	}
	return nil
}

// Get returns (nil, nil) on miss and in put-only mode, where the peer is not
// contacted at all. Errors wrapping ErrUnmarshal do not fail the peer over.
func (p *PeerCache[V]) Get(ctx context.Context, key string) (*Element[V], error) {
	if p.attrs.PutOnly {
		return nil, nil
	}
	if p.disposed.Load() {
		return nil, ErrDisposed
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	cctx, cancel := p.opCtx(ctx)
	defer cancel()
	e, err := h.ep.Get(cctx, p.attrs.Region, key)
	if err != nil {
		if errors.Is(err, ErrUnmarshal) || abandoned(ctx) {
			return nil, err
		}
		return nil, p.failOver(h, "get", err)
	}
	return e, nil
}

// GetMultiple gets every key independently; misses are omitted. It stops at
// the first error and returns what it has so far.
func (p *PeerCache[V]) GetMultiple(ctx context.Context, keys []string) (map[string]*Element[V], error) {
	out := make(map[string]*Element[V], len(keys))
	if p.attrs.PutOnly {
		return out, nil
	}
	for _, k := range keys {
		e, err := p.Get(ctx, k)
		if err != nil {
			return out, err
		}
		if e != nil {
			out[k] = e
		}
	}
	return out, nil
}

func (p *PeerCache[V]) GetMatching(ctx context.Context, pattern string) (map[string]*Element[V], error) {
	if p.attrs.PutOnly {
		return map[string]*Element[V]{}, nil
	}
	if p.disposed.Load() {
		return map[string]*Element[V]{}, ErrDisposed
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	cctx, cancel := p.opCtx(ctx)
	defer cancel()
	m, err := h.ep.GetMatching(cctx, p.attrs.Region, pattern)
	if err != nil {
		if errors.Is(err, ErrUnmarshal) || abandoned(ctx) {
			return map[string]*Element[V]{}, err
		}
		return map[string]*Element[V]{}, p.failOver(h, "get_matching", err)
	}
	if m == nil {
		m = map[string]*Element[V]{}
	}
	return m, nil
}

// GetKeySet lists the keys the peer holds for the region. Put-only mode does
// not apply to key enumeration.
func (p *PeerCache[V]) GetKeySet(ctx context.Context) ([]string, error) {
	if p.disposed.Load() {
		return nil, ErrDisposed
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	cctx, cancel := p.opCtx(ctx)
	defer cancel()
	keys, err := h.ep.GetKeySet(cctx, p.attrs.Region)
	if err != nil {
		if abandoned(ctx) {
			return nil, err
		}
		return nil, p.failOver(h, "get_keyset", err)
	}
	return keys, nil
}

// Remove always reports false. A transport failure is logged, fails the peer
// over and re-offers the removal to the stub; it is never returned.
func (p *PeerCache[V]) Remove(ctx context.Context, key string) bool {
	if p.disposed.Load() {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	cctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := h.ep.Remove(cctx, p.attrs.Region, key, p.origin); err != nil {
		p.failOver(h, "remove", err)
		_ = p.cur.Load().ep.Remove(ctx, p.attrs.Region, key, p.origin)
	}
	return false
}

// RemoveAll behaves like Remove for every key of the region.
func (p *PeerCache[V]) RemoveAll(ctx context.Context) {
	if p.disposed.Load() {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	cctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := h.ep.RemoveAll(cctx, p.attrs.Region, p.origin); err != nil {
		p.failOver(h, "remove_all", err)
		_ = p.cur.Load().ep.RemoveAll(ctx, p.attrs.Region, p.origin)
	}
}

// Dispose tells the peer the region is gone and makes the cache DISPOSED.
// Only the first call does anything.
func (p *PeerCache[V]) Dispose(ctx context.Context) error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := p.cur.Load()
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := h.ep.Dispose(ctx, p.attrs.Region); err != nil {
		p.log.Warn("lateral: dispose on peer failed", p.fields().with("err", err))
		p.hooks.PeerFailedOver(p.attrs.Region, p.peer, "dispose", err)
		return &PeerError{Region: p.attrs.Region, Peer: p.peer, Op: "dispose", Err: err}
	}
	return nil
}

// FixCache puts ep in place of the current endpoint. Mutations buffered by
// the stub are replayed into ep, in order, before any new call can reach it.
// Replay failures are logged and skipped. Disposed caches are left alone.
func (p *PeerCache[V]) FixCache(ctx context.Context, ep Endpoint[V]) {
	if ep == nil || p.disposed.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.cur.Swap(liveHandle(ep))
	if !old.failed() {
		return
	}
	replayed, failed := old.stub.drain(ctx, ep, p.opCtx, p.log, p.fields())
	p.log.Info("lateral: peer restored", p.fields().
		with("replayed", replayed).
		with("replay_failed", failed).
		with("dropped", old.stub.Dropped()))
	p.hooks.PeerRestored(p.attrs.Region, p.peer, replayed)
}

// Status is DISPOSED after Dispose, ERROR while on the stub, ALIVE otherwise.
func (p *PeerCache[V]) Status() CacheStatus {
	if p.disposed.Load() {
		return StatusDisposed
	}
	if p.cur.Load().failed() {
		return StatusError
	}
	return StatusAlive
}

func (p *PeerCache[V]) Stats() Stats {
	s := Stats{TypeName: "PeerCache"}
	s.add("Region", p.attrs.Region)
	s.add("Peer", p.peer)
	s.add("Status", p.Status().String())
	s.add("Put Only", p.attrs.PutOnly)
	h := p.cur.Load()
	if h.failed() {
		s.add("Stub Size", h.stub.Len())
		s.add("Stub Dropped", h.stub.Dropped())
	}
	return s
}
