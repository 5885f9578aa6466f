package lateral

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type event[V any] struct {
	cmd  Command
	elem *Element[V]
	key  string
}

// eventQueue is an unbounded FIFO with a single consumer goroutine. Enqueue
// never blocks on the handler. A failing event is retried up to MaxFailure
// times; after that, or after Destroy or a DISPOSE event, the queue is done.
type eventQueue[V any] struct {
	name string
	h    EventHandler[V]
	cfg  QueueConfig
	log  Logger

	mu      sync.Mutex
	pending []event[V]
	wake    chan struct{}

	working atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

var _ EventQueue[struct{}] = (*eventQueue[struct{}])(nil)

// stopObserver is implemented by handlers that want to hear about a queue
// that gave up on its own.
type stopObserver interface {
	queueStopped(reason string)
}

// NewEventQueue starts the consumer of a new queue. It is the default QueueFactory.
func NewEventQueue[V any](name string, h EventHandler[V], cfg QueueConfig, log Logger) EventQueue[V] {
	if log == nil {
		log = NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &eventQueue[V]{
		name:   name,
		h:      h,
		cfg:    cfg.withDefaults(),
		log:    log,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	q.working.Store(true)
	go q.run()
	return q
}

func (q *eventQueue[V]) AddPutEvent(e *Element[V]) error {
	if e == nil {
		return ErrNilElement
	}
	return q.add(event[V]{cmd: CommandUpdate, elem: e, key: e.Key})
}

func (q *eventQueue[V]) AddRemoveEvent(key string) error {
	return q.add(event[V]{cmd: CommandRemove, key: key})
}

func (q *eventQueue[V]) AddRemoveAllEvent() error {
	return q.add(event[V]{cmd: CommandRemoveAll})
}

func (q *eventQueue[V]) AddDisposeEvent() error {
	return q.add(event[V]{cmd: CommandDispose})
}

func (q *eventQueue[V]) add(ev event[V]) error {
	if !q.working.Load() {
		q.log.Debug("lateral: event queue not working, dropping event", Fields{"queue": q.name, "cmd": ev.cmd.String()})
		return ErrQueueClosed
	}
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *eventQueue[V]) IsWorking() bool { return q.working.Load() }

// stopped is closed once the consumer goroutine has returned.
func (q *eventQueue[V]) stopped() <-chan struct{} { return q.done }

func (q *eventQueue[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Destroy stops the queue for good and discards pending events. It does not
// wait for an in-flight handler call to return.
func (q *eventQueue[V]) Destroy() {
	q.once.Do(func() {
		q.working.Store(false)
		q.cancel()
		q.mu.Lock()
		n := len(q.pending)
		q.pending = nil
		q.mu.Unlock()
		if n > 0 {
			q.log.Info("lateral: event queue destroyed with pending events", Fields{"queue": q.name, "discarded": n})
		}
	})
}

func (q *eventQueue[V]) run() {
	defer close(q.done)
	for {
		ev, ok := q.next()
		if !ok {
			return
		}
		if !q.dispatch(ev) {
			q.log.Error("lateral: event queue stopped after repeated failures", Fields{
				"queue": q.name, "cmd": ev.cmd.String(), "max_failure": q.cfg.MaxFailure,
			})
			q.Destroy()
			if o, ok := q.h.(stopObserver); ok {
				o.queueStopped("max_failure")
			}
			return
		}
		if ev.cmd == CommandDispose {
			q.Destroy()
			return
		}
	}
}

func (q *eventQueue[V]) next() (event[V], bool) {
	for {
		if !q.working.Load() {
			return event[V]{}, false
		}
		q.mu.Lock()
		if len(q.pending) > 0 {
			ev := q.pending[0]
			q.pending[0] = event[V]{}
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return event[V]{}, false
		}
	}
}

// dispatch runs ev, retrying failures. A *PeerError means the peer has just
// moved onto its stub, so that retry goes out immediately.
func (q *eventQueue[V]) dispatch(ev event[V]) bool {
	for attempt := 1; ; attempt++ {
		err := q.handle(ev)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrDisposed) || errors.Is(err, ErrNilElement) {
			q.log.Debug("lateral: event rejected by handler", Fields{"queue": q.name, "cmd": ev.cmd.String(), "err": err})
			return true
		}
		if !q.working.Load() {
			return true
		}
		if attempt >= q.cfg.MaxFailure {
			return false
		}
		q.log.Warn("lateral: event failed, retrying", Fields{
			"queue": q.name, "cmd": ev.cmd.String(), "key": ev.key, "attempt": attempt, "err": err,
		})

		var pe *PeerError
		if errors.As(err, &pe) {
			continue
		}
		t := time.NewTimer(q.cfg.WaitBeforeRetry)
		select {
		case <-t.C:
		case <-q.ctx.Done():
			t.Stop()
			return true
		}
	}
}

// handle runs with a context Destroy does not cancel: an endpoint call cut
// short by a queue reset would look like a transport failure.
func (q *eventQueue[V]) handle(ev event[V]) error {
	ctx := context.WithoutCancel(q.ctx)
	switch ev.cmd {
	case CommandUpdate:
		return q.h.HandlePut(ctx, ev.elem)
	case CommandRemove:
		return q.h.HandleRemove(ctx, ev.key)
	case CommandRemoveAll:
		return q.h.HandleRemoveAll(ctx)
	case CommandDispose:
		return q.h.HandleDispose(ctx)
	default:
		return nil
	}
}
