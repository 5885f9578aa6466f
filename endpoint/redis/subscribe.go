package redis

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/lateral"
	"github.com/unkn0wn-root/lateral/internal/util"
)

// Receiver applies one framed envelope; *local.Node implements it.
type Receiver interface {
	Receive(ctx context.Context, frame []byte) error
}

// Subscription feeds mutations published by peers into a Receiver. It is a
// lateral.Listener: disposing it unsubscribes.
type Subscription struct {
	ps     *goredis.PubSub
	log    lateral.Logger
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

var _ lateral.Listener = (*Subscription)(nil)

// Subscribe listens on every region's event channel. Frames that fail to
// apply are logged and skipped.
func Subscribe(ctx context.Context, rdb goredis.UniversalClient, r Receiver, log lateral.Logger) (*Subscription, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	if log == nil {
		log = lateral.NopLogger{}
	}
	ps := rdb.PSubscribe(ctx, util.EventChannelPattern)
	if _, err := ps.Receive(ctx); err != nil { // subscription confirmation
		_ = ps.Close()
		return nil, err
	}
	rctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{ps: ps, log: log, cancel: cancel, done: make(chan struct{})}
	go s.run(rctx, r)
	return s, nil
}

func (s *Subscription) run(ctx context.Context, r Receiver) {
	defer close(s.done)
	for msg := range s.ps.Channel() {
		if err := r.Receive(ctx, []byte(msg.Payload)); err != nil {
			s.log.Warn("redis: inbound frame rejected", lateral.Fields{"channel": msg.Channel, "err": err})
		}
	}
}

// Dispose unsubscribes and waits for the receive loop to finish.
func (s *Subscription) Dispose(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	})
	return err
}
