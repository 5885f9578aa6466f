// Package codec turns element values into the payload bytes that travel inside
// a replication envelope. Peers replicating a region must agree on the codec;
// Name is carried in stats and logs so a mismatch is easy to spot.
package codec

// Codec encodes/decodes values V to []byte for transfer and storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
	Name() string
}
