package lateral

import "context"

// Endpoint is a transport-specific client for one peer. Any returned error is
// treated as a transport failure, except errors wrapping ErrUnmarshal.
// Implementations must be safe for concurrent use; a single endpoint is shared
// by every region replicating to the same peer.
type Endpoint[V any] interface {
	Update(ctx context.Context, e *Element[V], origin uint64) error
	// Get returns (nil, nil) on miss.
	Get(ctx context.Context, region, key string) (*Element[V], error)
	GetMatching(ctx context.Context, region, pattern string) (map[string]*Element[V], error)
	GetKeySet(ctx context.Context, region string) ([]string, error)
	Remove(ctx context.Context, region, key string, origin uint64) error
	RemoveAll(ctx context.Context, region string, origin uint64) error
	Dispose(ctx context.Context, region string) error
}

// Dialer obtains a fresh endpoint for peer. It is called at configuration time
// and again by the monitor for every repair attempt.
type Dialer[V any] func(ctx context.Context, peer string) (Endpoint[V], error)

// EventHandler consumes the events of an EventQueue.
type EventHandler[V any] interface {
	HandlePut(ctx context.Context, e *Element[V]) error
	HandleRemove(ctx context.Context, key string) error
	HandleRemoveAll(ctx context.Context) error
	HandleDispose(ctx context.Context) error
}

// EventQueue is the single-consumer FIFO between callers and one peer.
// Once it stops working it never works again.
type EventQueue[V any] interface {
	AddPutEvent(e *Element[V]) error
	AddRemoveEvent(key string) error
	AddRemoveAllEvent() error
	AddDisposeEvent() error
	IsWorking() bool
	Destroy()
	Len() int
}

// QueueFactory builds the event queue of one peer cache.
type QueueFactory[V any] func(name string, h EventHandler[V], cfg QueueConfig, log Logger) EventQueue[V]

// Cache is the non-blocking, non-failing API application code holds. Transport
// trouble never surfaces here: it shows up in Status, Stats, logs and Hooks.
type Cache[V any] interface {
	Region() string
	// Update queues e for replication. It only fails for a nil element or a
	// disposed cache.
	Update(ctx context.Context, e *Element[V]) error
	// Get returns nil on miss or when no peer could answer.
	Get(ctx context.Context, key string) *Element[V]
	GetMultiple(ctx context.Context, keys []string) map[string]*Element[V]
	GetMatching(ctx context.Context, pattern string) map[string]*Element[V]
	KeySet(ctx context.Context) []string
	// Remove always reports false.
	Remove(ctx context.Context, key string) bool
	RemoveAll(ctx context.Context)
	Dispose(ctx context.Context)
	Status() CacheStatus
	Stats() Stats
}

// Listener is the receive side of a region. A group holding a live listener
// reports ALIVE regardless of its peers.
type Listener interface {
	Dispose(ctx context.Context) error
}

// ErrorNotifier is what a peer calls after failing over. Implemented by Monitor.
type ErrorNotifier interface {
	NotifyError()
}

type nopNotifier struct{}

func (nopNotifier) NotifyError() {}

// Options configure a Manager.
// Only Dialer is required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Dialer Dialer[V]

	NodeID   uint64          // origin id stamped on outgoing mutations; 0 => random
	Logger   Logger          // if nil, NopLogger is used
	Hooks    Hooks           // if nil, NopHooks is used
	Listener Listener        // receive side, attached to regions with Receive set
	Queue    QueueFactory[V] // nil => NewEventQueue
	Monitor  MonitorOptions  // idle period and mode of the recovery monitor
}
