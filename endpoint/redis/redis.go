// Package redis reaches a lateral peer through Redis. Each region is a hash
// (util.RegionKey) of key -> framed envelope; with Publish set, every
// mutation is also published so subscribed nodes can apply it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/lateral"
	"github.com/unkn0wn-root/lateral/codec"
	"github.com/unkn0wn-root/lateral/internal/util"
)

var ErrNilClient = errors.New("redis endpoint: nil client")

type Options struct {
	// Template for dialed clients; Addr is replaced by the peer address.
	// nil => goredis defaults.
	Redis *goredis.Options
	// Publish also sends every mutation frame to util.EventChannel(region).
	Publish bool
}

// Endpoint is a lateral.Endpoint backed by one Redis server. Per-entry TTLs
// are not applied: hash fields have no expiry.
type Endpoint[V any] struct {
	rdb     goredis.UniversalClient
	codec   codec.Codec[V]
	publish bool
	owns    bool
}

var _ lateral.Endpoint[struct{}] = (*Endpoint[struct{}])(nil)

// New wraps a client the caller keeps ownership of.
func New[V any](rdb goredis.UniversalClient, c codec.Codec[V], opts Options) (*Endpoint[V], error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	return &Endpoint[V]{rdb: rdb, codec: c, publish: opts.Publish}, nil
}

// Dialer returns a lateral.Dialer opening one client per peer. A peer that
// does not answer PING is reported unreachable.
func Dialer[V any](c codec.Codec[V], opts Options) lateral.Dialer[V] {
	return func(ctx context.Context, peer string) (lateral.Endpoint[V], error) {
		var o goredis.Options
		if opts.Redis != nil {
			o = *opts.Redis
		}
		o.Addr = peer
		client := goredis.NewClient(&o)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis endpoint: dial %s: %w", peer, err)
		}
		return &Endpoint[V]{rdb: client, codec: c, publish: opts.Publish, owns: true}, nil
	}
}

func (p *Endpoint[V]) send(ctx context.Context, region string, frame []byte, write func(goredis.Pipeliner)) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		write(pipe)
		if p.publish {
			pipe.Publish(ctx, util.EventChannel(region), frame)
		}
		return nil
	})
	return err
}

func (p *Endpoint[V]) Update(ctx context.Context, e *lateral.Element[V], origin uint64) error {
	if e == nil {
		return lateral.ErrNilElement
	}
	frame, err := lateral.EncodeEnvelope(p.codec, lateral.NewEnvelope(lateral.CommandUpdate, origin, e))
	if err != nil {
		return err
	}
	return p.send(ctx, e.Region, frame, func(pipe goredis.Pipeliner) {
		pipe.HSet(ctx, util.RegionKey(e.Region), e.Key, frame)
	})
}

func (p *Endpoint[V]) decode(b []byte) (*lateral.Element[V], error) {
	env, err := lateral.DecodeEnvelope(p.codec, b)
	if err != nil {
		return nil, err
	}
	return env.Element, nil
}

func (p *Endpoint[V]) Get(ctx context.Context, region, key string) (*lateral.Element[V], error) {
	b, err := p.rdb.HGet(ctx, util.RegionKey(region), key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p.decode(b)
}

func (p *Endpoint[V]) GetMatching(ctx context.Context, region, pattern string) (map[string]*lateral.Element[V], error) {
	re, err := util.CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	all, err := p.rdb.HGetAll(ctx, util.RegionKey(region)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*lateral.Element[V])
	for k, v := range all {
		if !re.MatchString(k) {
			continue
		}
		e, err := p.decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out[k] = e
	}
	return out, nil
}

func (p *Endpoint[V]) GetKeySet(ctx context.Context, region string) ([]string, error) {
	keys, err := p.rdb.HKeys(ctx, util.RegionKey(region)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (p *Endpoint[V]) Remove(ctx context.Context, region, key string, origin uint64) error {
	frame, err := lateral.EncodeEnvelope(p.codec, lateral.NewEnvelope(lateral.CommandRemove, origin, &lateral.Element[V]{Region: region, Key: key}))
	if err != nil {
		return err
	}
	return p.send(ctx, region, frame, func(pipe goredis.Pipeliner) {
		pipe.HDel(ctx, util.RegionKey(region), key)
	})
}

func (p *Endpoint[V]) RemoveAll(ctx context.Context, region string, origin uint64) error {
	frame, err := lateral.EncodeEnvelope(p.codec, lateral.NewEnvelope(lateral.CommandRemoveAll, origin, &lateral.Element[V]{Region: region}))
	if err != nil {
		return err
	}
	return p.send(ctx, region, frame, func(pipe goredis.Pipeliner) {
		pipe.Del(ctx, util.RegionKey(region))
	})
}

// Dispose leaves the peer's data alone: the region is only gone on this side.
func (p *Endpoint[V]) Dispose(context.Context, string) error { return nil }

// Close releases the client if this endpoint dialed it.
func (p *Endpoint[V]) Close() error {
	if !p.owns {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
