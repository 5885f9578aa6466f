package lateral

import (
	"context"
	"sync/atomic"
	"testing"
)

// testDialer hands out the queued endpoints first, then fresh ones. While
// down is set every dial fails.
type testDialer struct {
	dials atomic.Int64
	down  atomic.Bool
	eps   chan *fakeEndpoint
}

func newTestDialer(eps ...*fakeEndpoint) *testDialer {
	d := &testDialer{eps: make(chan *fakeEndpoint, 16)}
	for _, ep := range eps {
		d.eps <- ep
	}
	return d
}

func (d *testDialer) dial(context.Context, string) (Endpoint[string], error) {
	d.dials.Add(1)
	if d.down.Load() {
		return nil, errDown
	}
	select {
	case ep := <-d.eps:
		return ep, nil
	default:
		return newFakeEndpoint(), nil
	}
}

func TestRegistryEndpointIsShared(t *testing.T) {
	ctx := context.Background()
	d := newTestDialer()
	r := NewRegistry("p", d.dial, nil, nil)

	a, err := r.Endpoint(ctx)
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	b, _ := r.Endpoint(ctx)
	if a != b || d.dials.Load() != 1 {
		t.Fatalf("endpoint must be dialed once and shared, dials=%d", d.dials.Load())
	}
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry[string]("p", nil, nil, nil)
	c1 := newTestAsync(t, testAttrs("r1"), "p", newFakeEndpoint(), nil)
	c2 := newTestAsync(t, testAttrs("r2"), "p", nil, nil)
	r.Add(c1)
	r.Add(c2)

	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
	if got, ok := r.Get("r1"); !ok || got != c1 {
		t.Fatalf("Get(r1) mismatch")
	}
	errs := 0
	for _, st := range r.Statuses() {
		if st == StatusError {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("statuses = %v", r.Statuses())
	}
	if r.Remove("r1", c2) {
		t.Fatalf("Remove with the wrong cache must fail")
	}
	if !r.Remove("r1", c1) || r.Len() != 1 {
		t.Fatalf("Remove(r1) failed")
	}
	if _, err := r.Endpoint(context.Background()); err != ErrNoPeers {
		t.Fatalf("registry without dialer: %v", err)
	}
}

func TestRegistryRecoveryFixesEveryCache(t *testing.T) {
	ctx := context.Background()
	first := newFakeEndpoint()
	fresh := newFakeEndpoint()
	d := newTestDialer(first, fresh)
	hooks := &recordingHooks{}
	r := NewRegistry("p", d.dial, nil, hooks)
	if _, err := r.Endpoint(ctx); err != nil {
		t.Fatalf("Endpoint: %v", err)
	}

	c1 := newTestAsync(t, testAttrs("r1"), "p", nil, nil)
	c2 := newTestAsync(t, testAttrs("r2"), "p", nil, nil)
	r.Add(c1)
	r.Add(c2)
	_ = c1.PeerCache().Update(ctx, &Element[string]{Key: "a", Value: "1"})

	s := r.NewRecoveryStrategy()
	if !s.CanFix(ctx) {
		t.Fatalf("CanFix = false")
	}
	if err := s.Fix(ctx); err != nil {
		t.Fatalf("Fix: %v", err)
	}
	if c1.Status() != StatusAlive || c2.Status() != StatusAlive {
		t.Fatalf("statuses after fix: %v %v", c1.Status(), c2.Status())
	}
	if v, _ := fresh.value("r1", "a"); v != "1" {
		t.Fatalf("buffered update not replayed into the fresh endpoint")
	}
	if first.closedCount() != 1 {
		t.Fatalf("replaced endpoint not closed")
	}
	if got, _ := r.Endpoint(ctx); got != Endpoint[string](fresh) {
		t.Fatalf("registry still hands out the old endpoint")
	}
	if hooks.count("recovery:true") != 1 {
		t.Fatalf("hooks = %v", hooks.events)
	}

	r.close()
	if fresh.closedCount() != 1 {
		t.Fatalf("close must release the endpoint")
	}
}
