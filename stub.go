package lateral

import (
	"context"
	"sync"
	"sync/atomic"
)

// handle is the endpoint a PeerCache currently talks to. It is one of two
// variants: live (stub == nil) or fail-safe (ep is the stub itself).
// Handles are immutable; fail-over and repair swap the whole handle.
type handle[V any] struct {
	ep   Endpoint[V]
	stub *stub[V]
}

func liveHandle[V any](ep Endpoint[V]) *handle[V] { return &handle[V]{ep: ep} }

func stubHandle[V any](s *stub[V]) *handle[V] { return &handle[V]{ep: s, stub: s} }

func (h *handle[V]) failed() bool { return h.stub != nil }

// stub stands in for an unreachable peer. Mutations are buffered up to
// capacity, dropping the oldest beyond it; reads always miss.
type stub[V any] struct {
	mu         sync.Mutex
	buf        []Envelope[V]
	capacity   int
	dropped    atomic.Uint64
	onOverflow func()
}

var _ Endpoint[struct{}] = (*stub[struct{}])(nil)

func newStub[V any](capacity int, onOverflow func()) *stub[V] {
	if onOverflow == nil {
		onOverflow = func() {}
	}
	return &stub[V]{capacity: capacity, onOverflow: onOverflow}
}

func (s *stub[V]) push(env Envelope[V]) {
	s.mu.Lock()
	if s.capacity <= 0 {
		s.mu.Unlock()
		s.dropped.Add(1)
		s.onOverflow()
		return
	}
	overflow := len(s.buf) >= s.capacity
	if overflow {
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = env
	} else {
		s.buf = append(s.buf, env)
	}
	s.mu.Unlock()
	if overflow {
		s.dropped.Add(1)
		s.onOverflow()
	}
}

func (s *stub[V]) Update(_ context.Context, e *Element[V], origin uint64) error {
	s.push(NewEnvelope(CommandUpdate, origin, e))
	return nil
}

func (s *stub[V]) Get(context.Context, string, string) (*Element[V], error) { return nil, nil }

func (s *stub[V]) GetMatching(context.Context, string, string) (map[string]*Element[V], error) {
	return map[string]*Element[V]{}, nil
}

func (s *stub[V]) GetKeySet(context.Context, string) ([]string, error) { return nil, nil }

func (s *stub[V]) Remove(_ context.Context, region, key string, origin uint64) error {
	s.push(NewEnvelope(CommandRemove, origin, &Element[V]{Region: region, Key: key}))
	return nil
}

func (s *stub[V]) RemoveAll(_ context.Context, region string, origin uint64) error {
	s.push(NewEnvelope(CommandRemoveAll, origin, &Element[V]{Region: region}))
	return nil
}

// Dispose is not buffered: a disposed peer is never repaired.
func (s *stub[V]) Dispose(context.Context, string) error { return nil }

func (s *stub[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

func (s *stub[V]) Dropped() uint64 { return s.dropped.Load() }

// drain replays the buffered mutations into target in submission order and
// empties the buffer. A failing replay is logged and skipped; drain never
// falls back to another stub.
func (s *stub[V]) drain(ctx context.Context, target Endpoint[V], call func(context.Context) (context.Context, context.CancelFunc), log Logger, f Fields) (replayed, failed int) {
	s.mu.Lock()
	buf := s.buf
	s.buf = nil
	s.mu.Unlock()

	for _, env := range buf {
		if ctx.Err() != nil {
			failed += len(buf) - replayed - failed
			break
		}
		cctx, cancel := call(ctx)
		err := replay(cctx, target, env)
		cancel()
		if err != nil {
			failed++
			log.Warn("lateral: replay failed", Fields{
				"region": f["region"], "peer": f["peer"],
				"cmd": env.Command.String(), "key": env.key(), "err": err,
			})
			continue
		}
		replayed++
	}
	return replayed, failed
}

func replay[V any](ctx context.Context, ep Endpoint[V], env Envelope[V]) error {
	switch env.Command {
	case CommandUpdate:
		return ep.Update(ctx, env.Element, env.Origin)
	case CommandRemove:
		return ep.Remove(ctx, env.region(), env.key(), env.Origin)
	case CommandRemoveAll:
		return ep.RemoveAll(ctx, env.region(), env.Origin)
	default:
		return nil
	}
}
