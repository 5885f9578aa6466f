package lateral

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/lateral/codec"
	"github.com/unkn0wn-root/lateral/internal/wire"
)

// Envelope is the unit of replication: one command, the node it came from and
// the element it applies to. For REMOVE the element carries only Region and Key;
// for REMOVEALL and DISPOSE only Region.
type Envelope[V any] struct {
	Command   Command
	Origin    uint64
	Element   *Element[V]
	ValueHash uint64
}

// NewEnvelope wraps e for cmd. The value hash is filled in by EncodeEnvelope.
func NewEnvelope[V any](cmd Command, origin uint64, e *Element[V]) Envelope[V] {
	return Envelope[V]{Command: cmd, Origin: origin, Element: e}
}

func (env Envelope[V]) region() string {
	if env.Element == nil {
		return ""
	}
	return env.Element.Region
}

func (env Envelope[V]) key() string {
	if env.Element == nil {
		return ""
	}
	return env.Element.Key
}

// EncodeEnvelope frames env. Only UPDATE carries a value; its xxhash64 is
// stamped into the frame and checked again by DecodeEnvelope.
func EncodeEnvelope[V any](c codec.Codec[V], env Envelope[V]) ([]byte, error) {
	f := wire.Frame{
		Command: byte(env.Command),
		Origin:  env.Origin,
		Region:  env.region(),
		Key:     env.key(),
	}
	if env.Command == CommandUpdate {
		if env.Element == nil {
			return nil, ErrNilElement
		}
		payload, err := c.Encode(env.Element.Value)
		if err != nil {
			return nil, fmt.Errorf("lateral: encode %s value for %q: %w", c.Name(), env.Element.Key, err)
		}
		f.Payload = payload
		f.Hash = xxhash.Sum64(payload)
		f.TTL = int64(env.Element.TTL)
	}
	return wire.Encode(f)
}

// DecodeEnvelope parses a frame produced by EncodeEnvelope. Corrupt frames,
// hash mismatches and codec failures all wrap ErrUnmarshal.
func DecodeEnvelope[V any](c codec.Codec[V], b []byte) (Envelope[V], error) {
	f, err := wire.Decode(b)
	if err != nil {
		return Envelope[V]{}, fmt.Errorf("%w: %v", ErrUnmarshal, err)
	}
	cmd := Command(f.Command)
	if !cmd.Mutation() {
		return Envelope[V]{}, fmt.Errorf("%w: unexpected command %d in frame", ErrUnmarshal, f.Command)
	}
	env := Envelope[V]{
		Command:   cmd,
		Origin:    f.Origin,
		ValueHash: f.Hash,
		Element:   &Element[V]{Region: f.Region, Key: f.Key, TTL: time.Duration(f.TTL)},
	}
	if cmd != CommandUpdate {
		return env, nil
	}
	if got := xxhash.Sum64(f.Payload); got != f.Hash {
		return Envelope[V]{}, fmt.Errorf("%w: value hash mismatch for %q", ErrUnmarshal, f.Key)
	}
	v, err := c.Decode(f.Payload)
	if err != nil {
		return Envelope[V]{}, fmt.Errorf("%w: %s decode %q: %v", ErrUnmarshal, c.Name(), f.Key, err)
	}
	env.Element.Value = v
	return env, nil
}
