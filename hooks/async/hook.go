// Package asynchook moves Hooks calls off the replication path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    OverflowEvery: 100, // log ~every 100th stub overflow
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	m, _ := lateral.NewManager[User](lateral.Options[User]{
//	    Dialer: dialer,
//	    Hooks:  hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/lateral"
)

// Hooks forwards every call to inner on a small worker pool. When the queue
// is full the call is dropped and counted.
type Hooks struct {
	inner   lateral.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards sends against Close
	closed  bool
	dropped atomic.Uint64
}

var _ lateral.Hooks = (*Hooks)(nil)

func New(inner lateral.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued calls and stops the workers. Calls after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of calls lost to a full queue or a closed pool.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) PeerFailedOver(region, peer, op string, err error) {
	h.try(func() { h.inner.PeerFailedOver(region, peer, op, err) })
}
func (h *Hooks) PeerRestored(region, peer string, replayed int) {
	h.try(func() { h.inner.PeerRestored(region, peer, replayed) })
}
func (h *Hooks) StubOverflow(region, peer string) {
	h.try(func() { h.inner.StubOverflow(region, peer) })
}
func (h *Hooks) QueueDestroyed(region, peer, reason string) {
	h.try(func() { h.inner.QueueDestroyed(region, peer, reason) })
}
func (h *Hooks) EventDropped(region, peer string, cmd lateral.Command) {
	h.try(func() { h.inner.EventDropped(region, peer, cmd) })
}
func (h *Hooks) RecoveryAttempt(peer string, ok bool, err error) {
	h.try(func() { h.inner.RecoveryAttempt(peer, ok, err) })
}
