package lateral

import "time"

// Element is one cache entry as it travels between peers.
type Element[V any] struct {
	Region string
	Key    string
	Value  V
	// TTL is forwarded to stores that support per-entry expiry. 0 = eternal.
	TTL time.Duration
}

// withRegion returns e, or a shallow copy carrying region when e names a
// different one. A cache only ever writes into its own region.
func (e *Element[V]) withRegion(region string) *Element[V] {
	if e.Region == region {
		return e
	}
	cp := *e
	cp.Region = region
	return &cp
}

// Command is the kind of operation an Envelope carries.
type Command byte

const (
	CommandUpdate Command = iota + 1
	CommandRemove
	CommandRemoveAll
	CommandDispose
	CommandGet
	CommandGetMatching
	CommandGetKeySet
)

func (c Command) String() string {
	switch c {
	case CommandUpdate:
		return "UPDATE"
	case CommandRemove:
		return "REMOVE"
	case CommandRemoveAll:
		return "REMOVEALL"
	case CommandDispose:
		return "DISPOSE"
	case CommandGet:
		return "GET"
	case CommandGetMatching:
		return "GET_MATCHING"
	case CommandGetKeySet:
		return "GET_KEYSET"
	default:
		return "UNKNOWN"
	}
}

// Mutation reports whether c changes state on the receiving peer.
func (c Command) Mutation() bool {
	return c >= CommandUpdate && c <= CommandDispose
}
