package lateral

// Hooks lightweight callbacks for high-signal replication events.
// Implementations MUST be cheap and non-blocking.
// They are called from queue consumers and the monitor goroutine.
type Hooks interface {
	// A transport error swapped the peer onto its fail-safe stub.
	// op ∈ {"update", "get", "get_matching", "get_keyset", "remove", "remove_all", "dispose"}
	PeerFailedOver(region, peer, op string, err error)

	// A repair put a live endpoint back; replayed is the number of buffered
	// mutations drained into it.
	PeerRestored(region, peer string, replayed int)

	// The stub was full and dropped its oldest buffered mutation.
	StubOverflow(region, peer string)

	// The event queue of a peer stopped working.
	// reason ∈ {"max_failure", "enqueue_failed", "read_failed"}
	QueueDestroyed(region, peer, reason string)

	// An event was dropped because the queue or the cache no longer accepts work.
	EventDropped(region, peer string, cmd Command)

	// The monitor tried to reconnect a peer.
	RecoveryAttempt(peer string, ok bool, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) PeerFailedOver(string, string, string, error) {}
func (NopHooks) PeerRestored(string, string, int)             {}
func (NopHooks) StubOverflow(string, string)                  {}
func (NopHooks) QueueDestroyed(string, string, string)        {}
func (NopHooks) EventDropped(string, string, Command)         {}
func (NopHooks) RecoveryAttempt(string, bool, error)          {}
