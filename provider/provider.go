// Package provider defines the byte store behind an in-process lateral node
// (see endpoint/local). The node keeps framed replication envelopes in it.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key. The node validates
// every frame it reads back and treats anything else as corruption.
//
// The keyspace "lateral:<region>:" is owned by the node. External code MUST NOT
// write values under it.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 means no expiry). Stores without
	// cost accounting ignore cost. Returns ok=false when the write was rejected
	// under pressure; a value written with ok=true is visible to the next Get.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
