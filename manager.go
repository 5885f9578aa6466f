package lateral

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Manager creates and owns the lateral side of every region on this node:
// one Registry per peer, one Group per region and the recovery Monitor.
type Manager[V any] struct {
	nodeID uint64
	dial   Dialer[V]
	queue  QueueFactory[V]
	log    Logger
	hooks  Hooks

	monitor    *Monitor
	listener   *sharedListener
	registries *xsync.MapOf[string, *Registry[V]]
	groups     *xsync.MapOf[string, *Group[V]]
	attrs      *xsync.MapOf[string, RegionAttributes]
	unknown    *xsync.MapOf[string, struct{}]

	mu     sync.Mutex // serializes region creation and membership changes
	closed atomic.Bool
}

// NewManager validates opts and starts the recovery monitor.
func NewManager[V any](opts Options[V]) (*Manager[V], error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("lateral: Dialer is required")
	}
	var log Logger = NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	var hooks Hooks = NopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	nodeID := opts.NodeID
	for nodeID == 0 {
		nodeID = rand.Uint64()
	}

	m := &Manager[V]{
		nodeID:     nodeID,
		dial:       opts.Dialer,
		queue:      opts.Queue,
		log:        log,
		hooks:      hooks,
		monitor:    NewMonitor(opts.Monitor, log),
		registries: xsync.NewMapOf[string, *Registry[V]](),
		groups:     xsync.NewMapOf[string, *Group[V]](),
		attrs:      xsync.NewMapOf[string, RegionAttributes](),
		unknown:    xsync.NewMapOf[string, struct{}](),
	}
	if opts.Listener != nil {
		m.listener = &sharedListener{l: opts.Listener}
	}
	m.monitor.Start()
	log.Info("lateral: manager started", Fields{"node_id": nodeID, "monitor_mode": m.monitor.Mode().String()})
	return m, nil
}

func (m *Manager[V]) NodeID() uint64 { return m.nodeID }

func (m *Manager[V]) Monitor() *Monitor { return m.monitor }

// Group returns the group of a region created earlier.
func (m *Manager[V]) Group(region string) (*Group[V], bool) { return m.groups.Load(region) }

// Region returns the group replicating attrs.Region, creating it on first use.
// A peer that cannot be dialed starts on its stub and is left to the monitor.
func (m *Manager[V]) Region(ctx context.Context, attrs RegionAttributes) (*Group[V], error) {
	if err := attrs.Validate(); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		return nil, ErrDisposed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups.Load(attrs.Region); ok {
		return g, nil
	}

	attrs.Peers = append([]string(nil), attrs.Peers...)
	peers := make([]*AsyncPeerCache[V], 0, len(attrs.Peers))
	for _, p := range attrs.Peers {
		peers = append(peers, m.newPeer(ctx, attrs, p))
	}
	var l Listener
	if attrs.Receive && m.listener != nil {
		l = m.listener.acquire()
	}
	g := NewGroup(attrs.Region, peers, l, m.log)
	m.attrs.Store(attrs.Region, attrs)
	m.groups.Store(attrs.Region, g)
	m.log.Info("lateral: region created", Fields{
		"region": attrs.Region, "transport": attrs.Transport, "peers": len(peers), "put_only": attrs.PutOnly,
	})
	return g, nil
}

func (m *Manager[V]) registry(peer string) *Registry[V] {
	r, _ := m.registries.LoadOrCompute(peer, func() *Registry[V] {
		return NewRegistry(peer, m.dial, m.log, m.hooks)
	})
	return r
}

func (m *Manager[V]) newPeer(ctx context.Context, attrs RegionAttributes, peer string) *AsyncPeerCache[V] {
	reg := m.registry(peer)
	ep, err := reg.Endpoint(ctx)
	if err != nil {
		m.log.Warn("lateral: peer unreachable, starting on stub", peerFields(attrs.Region, peer).with("err", err))
		ep = nil
	}
	pc := NewPeerCache(attrs, peer, ep, PeerOptions{
		Origin:   m.nodeID,
		Logger:   m.log,
		Hooks:    m.hooks,
		Notifier: m.monitor,
	})
	c := NewAsyncPeerCache(pc, m.queue)
	reg.Add(c)
	m.monitor.Watch(reg)
	if ep == nil {
		m.monitor.NotifyError()
	}
	return c
}

// AddPeer starts replicating region to peer. It reports false when the
// region is unknown or already replicates to peer.
func (m *Manager[V]) AddPeer(ctx context.Context, region, peer string) bool {
	if m.closed.Load() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups.Load(region)
	if !ok {
		m.unknownRegion(region, peer)
		return false
	}
	if g.peerByName(peer) != nil {
		return false
	}
	attrs, _ := m.attrs.Load(region)
	return g.AddPeer(m.newPeer(ctx, attrs, peer))
}

// RemovePeer stops replicating region to peer. The peer's cache is detached
// and its queue stopped; nothing is sent to the peer.
func (m *Manager[V]) RemovePeer(region, peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups.Load(region)
	if !ok {
		m.unknownRegion(region, peer)
		return false
	}
	c := g.peerByName(peer)
	if c == nil || !g.RemovePeer(c) {
		return false
	}
	c.detach()
	if reg, ok := m.registries.Load(peer); ok {
		reg.Remove(region, c)
		if reg.Len() == 0 {
			m.monitor.Unwatch(peer)
			m.registries.Delete(peer)
			reg.close()
		}
	}
	return true
}

func (m *Manager[V]) unknownRegion(region, peer string) {
	if _, loaded := m.unknown.LoadOrStore(region, struct{}{}); !loaded {
		m.log.Info("lateral: membership change for a region not configured here", peerFields(region, peer))
	}
}

// Close disposes every region, waits a bounded time for the DISPOSE events
// to go out, stops the monitor and closes the peer endpoints.
func (m *Manager[V]) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, defaultShutdownWait)
	defer cancel()

	m.groups.Range(func(_ string, g *Group[V]) bool {
		g.Dispose(ctx)
		return true
	})
	m.groups.Range(func(_ string, g *Group[V]) bool {
		for _, p := range g.Peers() {
			p.awaitQueue(wctx)
		}
		return true
	})

	m.monitor.NotifyShutdown()
	err := m.monitor.Wait(wctx)

	m.registries.Range(func(_ string, r *Registry[V]) bool {
		r.close()
		return true
	})
	m.log.Info("lateral: manager closed", Fields{"node_id": m.nodeID})
	if err != nil {
		return fmt.Errorf("lateral: monitor did not stop: %w", err)
	}
	return nil
}

func (m *Manager[V]) Stats() Stats {
	s := Stats{TypeName: "Lateral Cache Manager"}
	s.add("Node ID", m.nodeID)
	s.add("Regions", m.groups.Size())
	s.add("Registries", m.registries.Size())
	s.add("Monitor Mode", m.monitor.Mode().String())
	s.add("Monitor Idle Period", m.monitor.IdlePeriod().String())
	m.groups.Range(func(region string, g *Group[V]) bool {
		s.add("Region "+region, g.Status().String())
		return true
	})
	return s
}

// sharedListener disposes the node's listener once the last receiving region
// lets go of it.
type sharedListener struct {
	l    Listener
	refs atomic.Int64
}

func (s *sharedListener) acquire() Listener {
	s.refs.Add(1)
	return &regionListener{s: s}
}

type regionListener struct {
	s    *sharedListener
	once sync.Once
}

func (r *regionListener) Dispose(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		if r.s.refs.Add(-1) == 0 {
			err = r.s.l.Dispose(ctx)
		}
	})
	return err
}
