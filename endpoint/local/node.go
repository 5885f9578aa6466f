// Package local is an in-process lateral peer: a Node stores replicated
// elements in a provider.Provider, and a Network lets managers in the same
// process dial nodes by address.
package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/lateral"
	"github.com/unkn0wn-root/lateral/codec"
	"github.com/unkn0wn-root/lateral/internal/util"
	"github.com/unkn0wn-root/lateral/provider"
)

// ErrClosed is returned by a node after Dispose and by a connection after Close.
var ErrClosed = errors.New("local: closed")

type Options struct {
	// NodeID is this node's origin id. Mutations stamped with it are echoes of
	// our own writes and are ignored. 0 disables echo filtering.
	NodeID uint64
	Logger lateral.Logger
}

// Node is the receive side of lateral replication. Entries are stored as
// framed envelopes under util.StoreKey(region, key).
type Node[V any] struct {
	id    uint64
	store provider.Provider
	codec codec.Codec[V]
	log   lateral.Logger

	index  *xsync.MapOf[string, *xsync.MapOf[string, struct{}]]
	closed atomic.Bool

	puts     atomic.Uint64
	removes  atomic.Uint64
	gets     atomic.Uint64
	echoes   atomic.Uint64
	rejected atomic.Uint64
}

var _ lateral.Endpoint[struct{}] = (*Node[struct{}])(nil)

func New[V any](store provider.Provider, c codec.Codec[V], opts Options) *Node[V] {
	var log lateral.Logger = lateral.NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	return &Node[V]{
		id:    opts.NodeID,
		store: store,
		codec: c,
		log:   log,
		index: xsync.NewMapOf[string, *xsync.MapOf[string, struct{}]](),
	}
}

func (n *Node[V]) ID() uint64 { return n.id }

func (n *Node[V]) echo(origin uint64) bool {
	if n.id != 0 && origin == n.id {
		n.echoes.Add(1)
		return true
	}
	return false
}

func (n *Node[V]) keys(region string) *xsync.MapOf[string, struct{}] {
	m, _ := n.index.LoadOrCompute(region, func() *xsync.MapOf[string, struct{}] {
		return xsync.NewMapOf[string, struct{}]()
	})
	return m
}

func (n *Node[V]) Update(ctx context.Context, e *lateral.Element[V], origin uint64) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if e == nil {
		return lateral.ErrNilElement
	}
	if n.echo(origin) {
		return nil
	}
	b, err := lateral.EncodeEnvelope(n.codec, lateral.NewEnvelope(lateral.CommandUpdate, origin, e))
	if err != nil {
		return err
	}
	ok, err := n.store.Set(ctx, util.StoreKey(e.Region, e.Key), b, 0, e.TTL)
	if err != nil {
		return fmt.Errorf("local: store set: %w", err)
	}
	if !ok {
		n.rejected.Add(1)
		n.log.Debug("local: store rejected entry", lateral.Fields{"region": e.Region, "key": e.Key})
		return nil
	}
	n.keys(e.Region).Store(e.Key, struct{}{})
	n.puts.Add(1)
	return nil
}

// Get returns (nil, nil) on miss. A stored frame that fails to decode is
// deleted and reported as lateral.ErrUnmarshal.
func (n *Node[V]) Get(ctx context.Context, region, key string) (*lateral.Element[V], error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	n.gets.Add(1)
	sk := util.StoreKey(region, key)
	b, ok, err := n.store.Get(ctx, sk)
	if err != nil {
		return nil, fmt.Errorf("local: store get: %w", err)
	}
	if !ok {
		if m, found := n.index.Load(region); found {
			m.Delete(key)
		}
		return nil, nil
	}
	env, err := lateral.DecodeEnvelope(n.codec, b)
	if err != nil {
		_ = n.store.Del(ctx, sk)
		n.log.Warn("local: dropped corrupt entry", lateral.Fields{"region": region, "key": key, "err": err})
		return nil, err
	}
	return env.Element, nil
}

// GetMatching treats pattern as a regular expression over whole keys.
func (n *Node[V]) GetMatching(ctx context.Context, region, pattern string) (map[string]*lateral.Element[V], error) {
	re, err := util.CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	keys, err := n.GetKeySet(ctx, region)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*lateral.Element[V])
	for _, k := range util.MatchKeys(re, keys) {
		e, err := n.Get(ctx, region, k)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out[k] = e
		}
	}
	return out, nil
}

// GetKeySet lists the keys still present in the store, sorted.
func (n *Node[V]) GetKeySet(ctx context.Context, region string) ([]string, error) {
	if n.closed.Load() {
		return nil, ErrClosed
	}
	m, ok := n.index.Load(region)
	if !ok {
		return nil, nil
	}
	var out []string
	var firstErr error
	m.Range(func(k string, _ struct{}) bool {
		_, hit, err := n.store.Get(ctx, util.StoreKey(region, k))
		if err != nil {
			firstErr = err
			return false
		}
		if hit {
			out = append(out, k)
		} else {
			m.Delete(k)
		}
		return true
	})
	if firstErr != nil {
		return nil, fmt.Errorf("local: store get: %w", firstErr)
	}
	sort.Strings(out)
	return out, nil
}

func (n *Node[V]) Remove(ctx context.Context, region, key string, origin uint64) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if n.echo(origin) {
		return nil
	}
	if err := n.store.Del(ctx, util.StoreKey(region, key)); err != nil {
		return fmt.Errorf("local: store del: %w", err)
	}
	if m, ok := n.index.Load(region); ok {
		m.Delete(key)
	}
	n.removes.Add(1)
	return nil
}

func (n *Node[V]) RemoveAll(ctx context.Context, region string, origin uint64) error {
	if n.closed.Load() {
		return ErrClosed
	}
	if n.echo(origin) {
		return nil
	}
	m, ok := n.index.LoadAndDelete(region)
	if !ok {
		return nil
	}
	var firstErr error
	m.Range(func(k string, _ struct{}) bool {
		if err := n.store.Del(ctx, util.StoreKey(region, k)); err != nil && firstErr == nil {
			firstErr = err
		}
		n.removes.Add(1)
		return true
	})
	if firstErr != nil {
		return fmt.Errorf("local: store del: %w", firstErr)
	}
	return nil
}

// Dispose(ctx, region) comes from a peer disposing its own copy of the region.
// The data here is not the peer's to dispose, so the request is only logged.
func (n *Node[V]) Dispose(ctx context.Context, region string) error {
	if n.closed.Load() {
		return ErrClosed
	}
	n.log.Debug("local: ignoring remote dispose", lateral.Fields{"region": region})
	return nil
}

// Receive applies one framed envelope produced by lateral.EncodeEnvelope.
func (n *Node[V]) Receive(ctx context.Context, frame []byte) error {
	env, err := lateral.DecodeEnvelope(n.codec, frame)
	if err != nil {
		return err
	}
	return n.Handle(ctx, env)
}

// Handle applies a decoded envelope.
func (n *Node[V]) Handle(ctx context.Context, env lateral.Envelope[V]) error {
	if env.Element == nil {
		return lateral.ErrNilElement
	}
	switch env.Command {
	case lateral.CommandUpdate:
		return n.Update(ctx, env.Element, env.Origin)
	case lateral.CommandRemove:
		return n.Remove(ctx, env.Element.Region, env.Element.Key, env.Origin)
	case lateral.CommandRemoveAll:
		return n.RemoveAll(ctx, env.Element.Region, env.Origin)
	case lateral.CommandDispose:
		return n.Dispose(ctx, env.Element.Region)
	default:
		return fmt.Errorf("local: %s is not a mutation", env.Command)
	}
}

// Listener returns the node as a manager's receive side: disposing it closes
// the node.
func (n *Node[V]) Listener() lateral.Listener { return nodeListener[V]{n: n} }

type nodeListener[V any] struct{ n *Node[V] }

func (l nodeListener[V]) Dispose(ctx context.Context) error { return l.n.Close(ctx) }

// Close stops the node and closes its store.
func (n *Node[V]) Close(ctx context.Context) error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.log.Info("local: node closed", lateral.Fields{"node_id": n.id})
	return n.store.Close(ctx)
}

func (n *Node[V]) Stats() lateral.Stats {
	return lateral.Stats{TypeName: "Local Node", Elements: []lateral.StatElement{
		{Name: "Node ID", Data: n.id},
		{Name: "Codec", Data: n.codec.Name()},
		{Name: "Regions", Data: n.index.Size()},
		{Name: "Put Count", Data: n.puts.Load()},
		{Name: "Remove Count", Data: n.removes.Load()},
		{Name: "Get Count", Data: n.gets.Load()},
		{Name: "Echoes Ignored", Data: n.echoes.Load()},
		{Name: "Store Rejected", Data: n.rejected.Load()},
	}}
}
