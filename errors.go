package lateral

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned for writes on a disposed cache or group.
	ErrDisposed = errors.New("lateral: disposed")
	// ErrQueueClosed is returned when an event is offered to a queue that stopped working.
	ErrQueueClosed = errors.New("lateral: event queue not working")
	// ErrUnmarshal marks a payload that could not be decoded. Reads retry it once.
	ErrUnmarshal = errors.New("lateral: unmarshal failed")
	// ErrNilElement is returned when a nil element is offered for replication.
	ErrNilElement = errors.New("lateral: nil element")
	// ErrNoPeers is returned by dialers and configs that have no peer to talk to.
	ErrNoPeers = errors.New("lateral: no peers configured")
)

// PeerError is a transport failure talking to one peer. By the time it is
// returned the peer already runs on its fail-safe stub.
type PeerError struct {
	Region string
	Peer   string
	Op     string
	Err    error
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("lateral: %s on peer %q (region %q): %v", e.Op, e.Peer, e.Region, e.Err)
}

func (e *PeerError) Unwrap() error { return e.Err }
