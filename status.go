package lateral

// CacheStatus is the health of a peer cache, a group or a region.
type CacheStatus int

const (
	// StatusAlive means the real endpoint is in use.
	StatusAlive CacheStatus = iota
	// StatusError means the peer runs on its fail-safe stub or its queue stopped.
	StatusError
	// StatusDisposed is terminal.
	StatusDisposed
)

func (s CacheStatus) String() string {
	switch s {
	case StatusAlive:
		return "ALIVE"
	case StatusError:
		return "ERROR"
	case StatusDisposed:
		return "DISPOSED"
	default:
		return "UNKNOWN"
	}
}
