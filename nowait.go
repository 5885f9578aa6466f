package lateral

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const awaitPoll = 10 * time.Millisecond

// AsyncPeerCache is the unit callers hold for one region on one peer.
// Mutations go through an event queue and never block on the peer; reads are
// synchronous against the wrapped PeerCache.
type AsyncPeerCache[V any] struct {
	peer    *PeerCache[V]
	factory QueueFactory[V]
	log     Logger
	hooks   Hooks

	qmu sync.Mutex // serializes queue replacement
	q   atomic.Pointer[queueBox[V]]

	disposed atomic.Bool

	getCount    atomic.Uint64
	putCount    atomic.Uint64
	removeCount atomic.Uint64
}

// queueBox lets an interface value live behind an atomic.Pointer.
type queueBox[V any] struct{ q EventQueue[V] }

var _ Cache[struct{}] = (*AsyncPeerCache[struct{}])(nil)

// NewAsyncPeerCache wraps peer with a queue built by factory (nil => NewEventQueue).
func NewAsyncPeerCache[V any](peer *PeerCache[V], factory QueueFactory[V]) *AsyncPeerCache[V] {
	if factory == nil {
		factory = NewEventQueue[V]
	}
	c := &AsyncPeerCache[V]{
		peer:    peer,
		factory: factory,
		log:     peer.log,
		hooks:   peer.hooks,
	}
	c.q.Store(&queueBox[V]{q: c.newQueue((*asyncHandler[V])(c))})
	return c
}

func (c *AsyncPeerCache[V]) newQueue(h EventHandler[V]) EventQueue[V] {
	name := c.peer.Region() + "@" + c.peer.Peer()
	return c.factory(name, h, c.peer.attrs.Queue, c.log)
}

func (c *AsyncPeerCache[V]) queue() EventQueue[V] { return c.q.Load().q }

func (c *AsyncPeerCache[V]) Region() string { return c.peer.Region() }
func (c *AsyncPeerCache[V]) Peer() string   { return c.peer.Peer() }

// PeerCache returns the wrapped synchronous cache.
func (c *AsyncPeerCache[V]) PeerCache() *PeerCache[V] { return c.peer }

func (c *AsyncPeerCache[V]) fields() Fields { return c.peer.fields() }

// offer hands an event to the current queue. An event refused by a queue
// that a repair has just replaced goes to the replacement instead; one
// refused by the current queue is dropped and that queue is torn down.
// Nothing reaches the caller.
func (c *AsyncPeerCache[V]) offer(cmd Command, add func(EventQueue[V]) error) {
	b := c.q.Load()
	err := add(b.q)
	if err == nil {
		return
	}
	c.qmu.Lock() // a reset in progress finishes first
	cur := c.q.Load()
	c.qmu.Unlock()
	if cur != b {
		if err = add(cur.q); err == nil {
			return
		}
		b = cur
	}
	c.log.Debug("lateral: dropping event", c.fields().with("cmd", cmd.String()).with("err", err))
	c.hooks.EventDropped(c.Region(), c.Peer(), cmd)
	c.destroyQueue(b, "enqueue_failed")
}

// destroyQueue stops b if it is still the installed queue and tells the
// monitor the cache needs repair. A queue already replaced is left alone.
func (c *AsyncPeerCache[V]) destroyQueue(b *queueBox[V], reason string) {
	c.qmu.Lock()
	if c.q.Load() != b {
		c.qmu.Unlock()
		return
	}
	destroyed := b.q.IsWorking()
	if destroyed {
		b.q.Destroy()
	}
	c.qmu.Unlock()

	if destroyed {
		c.log.Warn("lateral: event queue destroyed", c.fields().with("reason", reason))
		c.hooks.QueueDestroyed(c.Region(), c.Peer(), reason)
	}
	c.peer.notifier.NotifyError()
}

// Update queues e. It fails only for a nil element or a disposed cache.
func (c *AsyncPeerCache[V]) Update(_ context.Context, e *Element[V]) error {
	if e == nil {
		return ErrNilElement
	}
	if c.disposed.Load() {
		c.log.Debug("lateral: update after dispose dropped", c.fields().with("key", e.Key))
		c.hooks.EventDropped(c.Region(), c.Peer(), CommandUpdate)
		return ErrDisposed
	}
	c.putCount.Add(1)
	e = e.withRegion(c.Region())
	c.offer(CommandUpdate, func(q EventQueue[V]) error { return q.AddPutEvent(e) })
	return nil
}

// Get reads synchronously. A decode failure is retried once; a second one is
// handled like a transport failure. Get never reports errors.
func (c *AsyncPeerCache[V]) Get(ctx context.Context, key string) *Element[V] {
	if c.disposed.Load() {
		return nil
	}
	c.getCount.Add(1)
	b := c.q.Load()
	e, err := c.peer.Get(ctx, key)
	if errors.Is(err, ErrUnmarshal) {
		e, err = c.peer.Get(ctx, key)
		if errors.Is(err, ErrUnmarshal) {
			c.readFailed(b, "get", err)
			return nil
		}
	}
	if err != nil {
		c.log.Debug("lateral: get failed", c.fields().with("key", key).with("err", err))
		return nil
	}
	return e
}

// GetMultiple returns only the keys the peer has.
func (c *AsyncPeerCache[V]) GetMultiple(ctx context.Context, keys []string) map[string]*Element[V] {
	out := make(map[string]*Element[V], len(keys))
	for _, k := range keys {
		if e := c.Get(ctx, k); e != nil {
			out[k] = e
		}
	}
	return out
}

func (c *AsyncPeerCache[V]) GetMatching(ctx context.Context, pattern string) map[string]*Element[V] {
	if c.disposed.Load() {
		return map[string]*Element[V]{}
	}
	c.getCount.Add(1)
	b := c.q.Load()
	m, err := c.peer.GetMatching(ctx, pattern)
	if errors.Is(err, ErrUnmarshal) {
		m, err = c.peer.GetMatching(ctx, pattern)
		if errors.Is(err, ErrUnmarshal) {
			c.readFailed(b, "get_matching", err)
			return map[string]*Element[V]{}
		}
	}
	if err != nil {
		c.log.Debug("lateral: get matching failed", c.fields().with("pattern", pattern).with("err", err))
		return map[string]*Element[V]{}
	}
	return m
}

// readFailed fails the peer over and tears down b, the queue that was
// installed when the read began.
func (c *AsyncPeerCache[V]) readFailed(b *queueBox[V], op string, err error) {
	c.log.Error("lateral: read failed twice to decode", c.fields().with("op", op).with("err", err))
	c.peer.fail(op, err)
	c.destroyQueue(b, "read_failed")
}

func (c *AsyncPeerCache[V]) KeySet(ctx context.Context) []string {
	if c.disposed.Load() {
		return nil
	}
	keys, err := c.peer.GetKeySet(ctx)
	if err != nil {
		c.log.Debug("lateral: key set failed", c.fields().with("err", err))
		return nil
	}
	return keys
}

// Remove queues the removal and reports false.
func (c *AsyncPeerCache[V]) Remove(_ context.Context, key string) bool {
	if c.disposed.Load() {
		c.hooks.EventDropped(c.Region(), c.Peer(), CommandRemove)
		return false
	}
	c.removeCount.Add(1)
	c.offer(CommandRemove, func(q EventQueue[V]) error { return q.AddRemoveEvent(key) })
	return false
}

func (c *AsyncPeerCache[V]) RemoveAll(context.Context) {
	if c.disposed.Load() {
		c.hooks.EventDropped(c.Region(), c.Peer(), CommandRemoveAll)
		return
	}
	c.offer(CommandRemoveAll, func(q EventQueue[V]) error { return q.AddRemoveAllEvent() })
}

// Dispose queues a final DISPOSE event. Repeated calls are no-ops.
func (c *AsyncPeerCache[V]) Dispose(context.Context) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.offer(CommandDispose, func(q EventQueue[V]) error { return q.AddDisposeEvent() })
}

// detach stops the queue without telling the peer and makes the cache DISPOSED.
func (c *AsyncPeerCache[V]) detach() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.queue().Destroy()
	c.log.Info("lateral: peer cache detached", c.fields())
}

// awaitQueue waits for a disposed cache's queue to run its DISPOSE event.
func (c *AsyncPeerCache[V]) awaitQueue(ctx context.Context) {
	t := time.NewTicker(awaitPoll)
	defer t.Stop()
	for c.queue().IsWorking() {
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}

// FixCache repairs the wrapped peer with ep and replaces the event queue.
func (c *AsyncPeerCache[V]) FixCache(ctx context.Context, ep Endpoint[V]) {
	if c.disposed.Load() {
		return
	}
	c.peer.FixCache(ctx, ep)
	c.resetQueue()
}

// resetQueue replaces the queue. The new consumer holds off until the old one
// has finished its in-flight event, bounded by OpTimeout, so events reach the
// peer in submission order across the swap. Callers never wait for it.
func (c *AsyncPeerCache[V]) resetQueue() {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	old := c.queue()
	c.log.Debug("lateral: resetting event queue", c.fields().with("pending", old.Len()))
	old.Destroy()

	var h EventHandler[V] = (*asyncHandler[V])(c)
	if s, ok := old.(interface{ stopped() <-chan struct{} }); ok {
		h = &gatedHandler[V]{asyncHandler: (*asyncHandler[V])(c), after: s.stopped(), limit: c.peer.attrs.Queue.OpTimeout}
	}
	c.q.Store(&queueBox[V]{q: c.newQueue(h)})
}

// Status is DISPOSED after Dispose, ERROR if the queue stopped or the peer
// runs on its stub, else ALIVE.
func (c *AsyncPeerCache[V]) Status() CacheStatus {
	if c.disposed.Load() {
		return StatusDisposed
	}
	if !c.queue().IsWorking() {
		return StatusError
	}
	return c.peer.Status()
}

func (c *AsyncPeerCache[V]) Stats() Stats {
	s := Stats{TypeName: "AsyncPeerCache"}
	s.add("Get Count", c.getCount.Load())
	s.add("Put Count", c.putCount.Load())
	s.add("Remove Count", c.removeCount.Load())
	q := c.queue()
	s.add("Queue Working", q.IsWorking())
	s.add("Queue Size", q.Len())
	s.Elements = append(s.Elements, c.peer.Stats().Elements...)
	return s
}

// asyncHandler is the queue-facing side of an AsyncPeerCache.
type asyncHandler[V any] AsyncPeerCache[V]

func (h *asyncHandler[V]) HandlePut(ctx context.Context, e *Element[V]) error {
	return h.peer.Update(ctx, e)
}

func (h *asyncHandler[V]) HandleRemove(ctx context.Context, key string) error {
	h.peer.Remove(ctx, key)
	return nil
}

func (h *asyncHandler[V]) HandleRemoveAll(ctx context.Context) error {
	h.peer.RemoveAll(ctx)
	return nil
}

func (h *asyncHandler[V]) HandleDispose(ctx context.Context) error {
	if err := h.peer.Dispose(ctx); err != nil {
		h.log.Debug("lateral: peer dispose failed", h.peer.fields().with("err", err))
	}
	return nil
}

func (h *asyncHandler[V]) queueStopped(reason string) {
	h.log.Warn("lateral: event queue destroyed", h.peer.fields().with("reason", reason))
	h.hooks.QueueDestroyed(h.peer.Region(), h.peer.Peer(), reason)
	h.peer.notifier.NotifyError()
}

// gatedHandler delays the first event of a replacement queue until the
// queue it replaced has stopped, or limit has passed.
type gatedHandler[V any] struct {
	*asyncHandler[V]
	after <-chan struct{}
	limit time.Duration
	once  sync.Once
}

func (g *gatedHandler[V]) wait() {
	g.once.Do(func() {
		t := time.NewTimer(g.limit)
		defer t.Stop()
		select {
		case <-g.after:
		case <-t.C:
		}
	})
}

func (g *gatedHandler[V]) HandlePut(ctx context.Context, e *Element[V]) error {
	g.wait()
	return g.asyncHandler.HandlePut(ctx, e)
}

func (g *gatedHandler[V]) HandleRemove(ctx context.Context, key string) error {
	g.wait()
	return g.asyncHandler.HandleRemove(ctx, key)
}

func (g *gatedHandler[V]) HandleRemoveAll(ctx context.Context) error {
	g.wait()
	return g.asyncHandler.HandleRemoveAll(ctx)
}

func (g *gatedHandler[V]) HandleDispose(ctx context.Context) error {
	g.wait()
	return g.asyncHandler.HandleDispose(ctx)
}
