package lateral

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// deadQueue refuses every event, as a queue that already stopped would.
type deadQueue struct{ destroyed int }

func (q *deadQueue) AddPutEvent(*Element[string]) error { return ErrQueueClosed }
func (q *deadQueue) AddRemoveEvent(string) error        { return ErrQueueClosed }
func (q *deadQueue) AddRemoveAllEvent() error           { return ErrQueueClosed }
func (q *deadQueue) AddDisposeEvent() error             { return ErrQueueClosed }
func (q *deadQueue) IsWorking() bool                    { return false }
func (q *deadQueue) Destroy()                           { q.destroyed++ }
func (q *deadQueue) Len() int                           { return 0 }

func TestAsyncUpdateIsDeliveredInBackground(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoint()
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	if err := c.Update(ctx, &Element[string]{Key: "a", Value: "1"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "replicated update", func() bool {
		v, _ := ep.value("r", "a")
		return v == "1"
	})
	if got := c.Get(ctx, "a"); got == nil || got.Value != "1" {
		t.Fatalf("Get = %+v", got)
	}
	c.Remove(ctx, "a")
	eventually(t, "replicated remove", func() bool {
		_, ok := ep.value("r", "a")
		return !ok
	})
	if got := statLookup(t, c.Stats(), "Put Count"); got != uint64(1) {
		t.Fatalf("Put Count = %v", got)
	}
}

func TestAsyncUpdateNeverReportsTransportErrors(t *testing.T) {
	ep := newFakeEndpoint()
	ep.setErr(errDown)
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	for i := 0; i < 5; i++ {
		if err := c.Update(context.Background(), &Element[string]{Key: "a"}); err != nil {
			t.Fatalf("Update surfaced %v", err)
		}
	}
	eventually(t, "fail-over", func() bool { return c.Status() == StatusError })
	if !c.queue().IsWorking() {
		t.Fatalf("the queue must survive a fail-over")
	}
}

func TestAsyncStatusFollowsQueue(t *testing.T) {
	hooks := &recordingHooks{}
	pc := NewPeerCache(testAttrs("r"), "p", Endpoint[string](newFakeEndpoint()), PeerOptions{Hooks: hooks})
	dq := &deadQueue{}
	c := NewAsyncPeerCache(pc, func(string, EventHandler[string], QueueConfig, Logger) EventQueue[string] { return dq })

	if pc.Status() != StatusAlive || c.Status() != StatusError {
		t.Fatalf("peer=%v async=%v, want ALIVE/ERROR", pc.Status(), c.Status())
	}
	if err := c.Update(context.Background(), &Element[string]{Key: "a"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if hooks.count("dropped:UPDATE") != 1 {
		t.Fatalf("dropped event not reported")
	}
}

func TestAsyncRefusedEventNotifiesMonitor(t *testing.T) {
	n := &countingNotifier{}
	pc := NewPeerCache(testAttrs("r"), "p", Endpoint[string](newFakeEndpoint()), PeerOptions{Notifier: n})
	c := NewAsyncPeerCache(pc, func(string, EventHandler[string], QueueConfig, Logger) EventQueue[string] { return &deadQueue{} })

	c.Remove(context.Background(), "a")
	if n.n.Load() != 1 {
		t.Fatalf("notifier = %d, want 1", n.n.Load())
	}
}

func TestAsyncQueueGivingUpNotifiesMonitor(t *testing.T) {
	hooks := &recordingHooks{}
	n := &countingNotifier{}
	pc := NewPeerCache(testAttrs("r"), "p", Endpoint[string](newFakeEndpoint()), PeerOptions{Hooks: hooks, Notifier: n})
	c := NewAsyncPeerCache(pc, nil)
	t.Cleanup(func() { c.queue().Destroy() })

	(*asyncHandler[string])(c).queueStopped("max_failure")
	if n.n.Load() != 1 || hooks.count("queue_destroyed:max_failure") != 1 {
		t.Fatalf("notifier=%d hooks=%v", n.n.Load(), hooks.events)
	}
}

// ==============================
// Queue replacement
// ==============================

// stallingQueue parks the first AddPutEvent until release is closed.
type stallingQueue struct {
	EventQueue[string]
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (q *stallingQueue) AddPutEvent(e *Element[string]) error {
	q.once.Do(func() {
		close(q.entered)
		<-q.release
	})
	return q.EventQueue.AddPutEvent(e)
}

func TestAsyncWriteRacingRepairKeepsNewQueue(t *testing.T) {
	ctx := context.Background()
	hooks := &recordingHooks{}
	n := &countingNotifier{}
	first := &stallingQueue{entered: make(chan struct{}), release: make(chan struct{})}
	var built atomic.Int64
	factory := func(name string, h EventHandler[string], cfg QueueConfig, log Logger) EventQueue[string] {
		q := NewEventQueue(name, h, cfg, log)
		if built.Add(1) == 1 {
			first.EventQueue = q
			return first
		}
		return q
	}
	pc := NewPeerCache(testAttrs("r"), "p", Endpoint[string](newFakeEndpoint()), PeerOptions{Hooks: hooks, Notifier: n})
	c := NewAsyncPeerCache(pc, factory)
	t.Cleanup(func() { c.queue().Destroy() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Update(ctx, &Element[string]{Key: "a", Value: "1"})
	}()
	<-first.entered

	repaired := newFakeEndpoint()
	c.FixCache(ctx, repaired)
	close(first.release)
	<-done

	if c.Status() != StatusAlive || !c.queue().IsWorking() {
		t.Fatalf("status=%v working=%v", c.Status(), c.queue().IsWorking())
	}
	if hooks.count("queue_destroyed:enqueue_failed") != 0 || hooks.count("dropped:UPDATE") != 0 {
		t.Fatalf("hooks = %v", hooks.events)
	}
	if n.n.Load() != 0 {
		t.Fatalf("notifier = %d, want 0", n.n.Load())
	}
	eventually(t, "update on the replacement queue", func() bool {
		v, _ := repaired.value("r", "a")
		return v == "1"
	})
}

func TestAsyncResetKeepsSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoint()
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	const total = 200
	for i := 0; i < total; i++ {
		_ = c.Update(ctx, &Element[string]{Key: "k", Value: strconv.Itoa(i)})
		if i == total/2 {
			c.FixCache(ctx, ep)
		}
	}
	last := "update:k=" + strconv.Itoa(total-1)
	eventually(t, "last update", func() bool {
		ops := ep.opsSnapshot()
		return len(ops) > 0 && ops[len(ops)-1] == last
	})

	prev := -1
	for _, op := range ep.opsSnapshot() {
		i, err := strconv.Atoi(strings.TrimPrefix(op, "update:k="))
		if err != nil {
			t.Fatalf("unexpected op %q", op)
		}
		if i <= prev {
			t.Fatalf("value %d delivered after %d", i, prev)
		}
		prev = i
	}
}

func TestGatedHandlerWaitsForPredecessor(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)
	after := make(chan struct{})
	g := &gatedHandler[string]{asyncHandler: (*asyncHandler[string])(c), after: after, limit: time.Minute}

	done := make(chan error, 1)
	go func() { done <- g.HandlePut(context.Background(), &Element[string]{Key: "a", Value: "1"}) }()

	select {
	case <-done:
		t.Fatalf("handler ran before its predecessor stopped")
	case <-time.After(30 * time.Millisecond):
	}
	close(after)
	if err := <-done; err != nil {
		t.Fatalf("HandlePut: %v", err)
	}
	if v, _ := ep.value("r", "a"); v != "1" {
		t.Fatalf("value = %q", v)
	}
}

func TestGatedHandlerGivesUpAfterLimit(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)
	g := &gatedHandler[string]{asyncHandler: (*asyncHandler[string])(c), after: make(chan struct{}), limit: 10 * time.Millisecond}

	if err := g.HandleRemove(context.Background(), "a"); err != nil {
		t.Fatalf("HandleRemove: %v", err)
	}
	if ep.count("remove") != 1 {
		t.Fatalf("remove not sent after the limit")
	}
}

// ==============================
// Decode failures on reads
// ==============================

func TestAsyncGetRetriesUnmarshalOnce(t *testing.T) {
	ep := newFakeEndpoint()
	ep.put("r", "a", "1")
	ep.setUnmarshal(1)
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	if got := c.Get(context.Background(), "a"); got == nil || got.Value != "1" {
		t.Fatalf("Get after one bad read = %+v", got)
	}
	if c.Status() != StatusAlive || ep.count("get") != 2 {
		t.Fatalf("status=%v gets=%d", c.Status(), ep.count("get"))
	}
}

func TestAsyncSecondUnmarshalFailsOver(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoint()
	ep.put("r", "a", "1")
	ep.setUnmarshal(2)
	hooks := &recordingHooks{}
	c := newTestAsync(t, testAttrs("r"), "p", ep, hooks)

	if got := c.Get(ctx, "a"); got != nil {
		t.Fatalf("Get = %+v, want nil", got)
	}
	if c.Status() != StatusError {
		t.Fatalf("status = %v", c.Status())
	}
	if c.PeerCache().Status() != StatusError || c.queue().IsWorking() {
		t.Fatalf("peer=%v queue working=%v", c.PeerCache().Status(), c.queue().IsWorking())
	}
	if hooks.count("queue_destroyed:read_failed") != 1 || hooks.count("failover:get") != 1 {
		t.Fatalf("hooks = %v", hooks.events)
	}

	// repair brings back a working queue on the new endpoint
	fresh := newFakeEndpoint()
	c.FixCache(ctx, fresh)
	if c.Status() != StatusAlive {
		t.Fatalf("status after FixCache = %v", c.Status())
	}
	_ = c.Update(ctx, &Element[string]{Key: "b", Value: "2"})
	eventually(t, "update on repaired peer", func() bool {
		_, ok := fresh.value("r", "b")
		return ok
	})
}

func TestAsyncGetMatchingRetriesUnmarshalOnce(t *testing.T) {
	ep := newFakeEndpoint()
	ep.put("r", "a1", "1")
	ep.put("r", "b1", "2")
	ep.setUnmarshal(1)
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	m := c.GetMatching(context.Background(), "a.*")
	if len(m) != 1 || m["a1"] == nil {
		t.Fatalf("GetMatching = %v", m)
	}
}

func TestAsyncGetMultipleOmitsMisses(t *testing.T) {
	ep := newFakeEndpoint()
	ep.put("r", "a", "1")
	ep.put("r", "c", "3")
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	m := c.GetMultiple(context.Background(), []string{"a", "b", "c"})
	if len(m) != 2 || m["a"].Value != "1" || m["c"].Value != "3" {
		t.Fatalf("GetMultiple = %v", m)
	}
	if _, ok := m["b"]; ok {
		t.Fatalf("miss must be omitted")
	}
}

// ==============================
// Dispose
// ==============================

func TestAsyncDispose(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoint()
	hooks := &recordingHooks{}
	c := newTestAsync(t, testAttrs("r"), "p", ep, hooks)

	_ = c.Update(ctx, &Element[string]{Key: "a", Value: "1"})
	c.Dispose(ctx)
	c.Dispose(ctx)
	if c.Status() != StatusDisposed {
		t.Fatalf("status = %v", c.Status())
	}
	eventually(t, "dispose sent", func() bool { return ep.count("dispose") == 1 })
	if _, ok := ep.value("r", "a"); !ok {
		t.Fatalf("update queued before dispose was lost")
	}
	eventually(t, "queue stop", func() bool { return !c.queue().IsWorking() })

	if err := c.Update(ctx, &Element[string]{Key: "b"}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Update after dispose: %v", err)
	}
	c.Remove(ctx, "a")
	if hooks.count("dropped:UPDATE") != 1 || hooks.count("dropped:REMOVE") != 1 {
		t.Fatalf("hooks = %v", hooks.events)
	}
	if c.Get(ctx, "a") != nil || c.KeySet(ctx) != nil {
		t.Fatalf("disposed cache must not read")
	}
}

func TestAsyncDetachSendsNothing(t *testing.T) {
	ep := newFakeEndpoint()
	c := newTestAsync(t, testAttrs("r"), "p", ep, nil)

	c.detach()
	if c.Status() != StatusDisposed || c.queue().IsWorking() {
		t.Fatalf("status=%v working=%v", c.Status(), c.queue().IsWorking())
	}
	if ep.count("dispose") != 0 {
		t.Fatalf("detach must not tell the peer")
	}
}

// ==============================
// Caller cancellation
// ==============================

func TestAsyncCancelledReadLeavesPeerAlive(t *testing.T) {
	ep := newFakeEndpoint()
	ep.put("r", "a", "1")
	hooks := &recordingHooks{}
	n := &countingNotifier{}
	pc := NewPeerCache(testAttrs("r"), "p", Endpoint[string](ep), PeerOptions{Hooks: hooks, Notifier: n})
	c := NewAsyncPeerCache(pc, nil)
	t.Cleanup(func() { c.queue().Destroy() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := c.Get(ctx, "a"); got != nil {
		t.Fatalf("Get = %+v, want nil", got)
	}
	if m := c.GetMatching(ctx, ".*"); len(m) != 0 {
		t.Fatalf("GetMatching = %v", m)
	}
	if keys := c.KeySet(ctx); keys != nil {
		t.Fatalf("KeySet = %v", keys)
	}
	if c.Status() != StatusAlive || n.n.Load() != 0 || hooks.count("failover:get") != 0 {
		t.Fatalf("status=%v notifier=%d hooks=%v", c.Status(), n.n.Load(), hooks.events)
	}
	if got := c.Get(context.Background(), "a"); got == nil || got.Value != "1" {
		t.Fatalf("Get after cancelled call = %+v", got)
	}
}
