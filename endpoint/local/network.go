package local

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/unkn0wn-root/lateral"
)

// ErrUnreachable is what a connection reports while its node is marked down
// or has left the network.
var ErrUnreachable = errors.New("local: peer unreachable")

// Network connects nodes living in one process by address. Marking a node
// down makes every connection to it fail, which is how tests and demos
// simulate an outage.
type Network[V any] struct {
	nodes *xsync.MapOf[string, *Node[V]]
	down  *xsync.MapOf[string, struct{}]
	dials atomic.Uint64
}

func NewNetwork[V any]() *Network[V] {
	return &Network[V]{
		nodes: xsync.NewMapOf[string, *Node[V]](),
		down:  xsync.NewMapOf[string, struct{}](),
	}
}

func (n *Network[V]) Join(addr string, node *Node[V]) { n.nodes.Store(addr, node) }

func (n *Network[V]) Leave(addr string) { n.nodes.Delete(addr) }

// SetDown marks addr unreachable (down=true) or reachable again.
func (n *Network[V]) SetDown(addr string, down bool) {
	if down {
		n.down.Store(addr, struct{}{})
	} else {
		n.down.Delete(addr)
	}
}

// Dials counts Dial calls, successful or not.
func (n *Network[V]) Dials() uint64 { return n.dials.Load() }

func (n *Network[V]) reach(addr string) (*Node[V], error) {
	if _, down := n.down.Load(addr); down {
		return nil, fmt.Errorf("%w: %s is down", ErrUnreachable, addr)
	}
	node, ok := n.nodes.Load(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no node at %s", ErrUnreachable, addr)
	}
	return node, nil
}

// Dial is a lateral.Dialer.
func (n *Network[V]) Dial(_ context.Context, peer string) (lateral.Endpoint[V], error) {
	n.dials.Add(1)
	if _, err := n.reach(peer); err != nil {
		return nil, err
	}
	return &conn[V]{net: n, addr: peer}, nil
}

// conn resolves its node on every call so outages take effect at once.
type conn[V any] struct {
	net    *Network[V]
	addr   string
	closed atomic.Bool
}

var _ lateral.Endpoint[struct{}] = (*conn[struct{}])(nil)

func (c *conn[V]) node() (*Node[V], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.net.reach(c.addr)
}

func (c *conn[V]) Update(ctx context.Context, e *lateral.Element[V], origin uint64) error {
	node, err := c.node()
	if err != nil {
		return err
	}
	return node.Update(ctx, e, origin)
}

func (c *conn[V]) Get(ctx context.Context, region, key string) (*lateral.Element[V], error) {
	node, err := c.node()
	if err != nil {
		return nil, err
	}
	return node.Get(ctx, region, key)
}

func (c *conn[V]) GetMatching(ctx context.Context, region, pattern string) (map[string]*lateral.Element[V], error) {
	node, err := c.node()
	if err != nil {
		return nil, err
	}
	return node.GetMatching(ctx, region, pattern)
}

func (c *conn[V]) GetKeySet(ctx context.Context, region string) ([]string, error) {
	node, err := c.node()
	if err != nil {
		return nil, err
	}
	return node.GetKeySet(ctx, region)
}

func (c *conn[V]) Remove(ctx context.Context, region, key string, origin uint64) error {
	node, err := c.node()
	if err != nil {
		return err
	}
	return node.Remove(ctx, region, key, origin)
}

func (c *conn[V]) RemoveAll(ctx context.Context, region string, origin uint64) error {
	node, err := c.node()
	if err != nil {
		return err
	}
	return node.RemoveAll(ctx, region, origin)
}

func (c *conn[V]) Dispose(ctx context.Context, region string) error {
	node, err := c.node()
	if err != nil {
		return err
	}
	return node.Dispose(ctx, region)
}

// Close drops the connection; the node itself stays up.
func (c *conn[V]) Close() error {
	c.closed.Store(true)
	return nil
}
