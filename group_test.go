package lateral

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
)

type countingListener struct{ disposed atomic.Int64 }

func (l *countingListener) Dispose(context.Context) error {
	l.disposed.Add(1)
	return nil
}

func TestGroupUpdateFansOut(t *testing.T) {
	ctx := context.Background()
	a, b := newFakeEndpoint(), newFakeEndpoint()
	g := NewGroup("r", []*AsyncPeerCache[string]{
		newTestAsync(t, testAttrs("r"), "a", a, nil),
		newTestAsync(t, testAttrs("r"), "b", b, nil),
	}, nil, nil)

	if err := g.Update(ctx, &Element[string]{Key: "k", Value: "v"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "both peers updated", func() bool {
		va, _ := a.value("r", "k")
		vb, _ := b.value("r", "k")
		return va == "v" && vb == "v"
	})
	g.Remove(ctx, "k")
	eventually(t, "both peers removed", func() bool {
		_, okA := a.value("r", "k")
		_, okB := b.value("r", "k")
		return !okA && !okB
	})
	if err := g.Update(ctx, nil); !errors.Is(err, ErrNilElement) {
		t.Fatalf("nil element: %v", err)
	}
}

func TestGroupUpdateRewritesForeignRegion(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoint()
	g := NewGroup("users", []*AsyncPeerCache[string]{
		newTestAsync(t, testAttrs("users"), "a", ep, nil),
	}, nil, nil)

	if err := g.Update(ctx, &Element[string]{Region: "orders", Key: "k", Value: "v"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	eventually(t, "update in the group's region", func() bool {
		v, _ := ep.value("users", "k")
		return v == "v"
	})
	if _, ok := ep.value("orders", "k"); ok {
		t.Fatalf("update leaked into another region")
	}
}

func TestGroupReads(t *testing.T) {
	ctx := context.Background()
	a, b := newFakeEndpoint(), newFakeEndpoint()
	a.put("r", "shared", "from-a")
	b.put("r", "shared", "from-b")
	b.put("r", "only-b", "b")
	a.put("r", "x1", "a")
	b.put("r", "x1", "b")
	b.put("r", "x2", "b")
	g := NewGroup("r", []*AsyncPeerCache[string]{
		newTestAsync(t, testAttrs("r"), "a", a, nil),
		newTestAsync(t, testAttrs("r"), "b", b, nil),
	}, nil, nil)

	if e := g.Get(ctx, "shared"); e == nil || e.Value != "from-a" {
		t.Fatalf("first peer must win Get, got %+v", e)
	}
	if e := g.Get(ctx, "only-b"); e == nil || e.Value != "b" {
		t.Fatalf("Get must fall through to later peers, got %+v", e)
	}
	if e := g.Get(ctx, "none"); e != nil {
		t.Fatalf("miss = %+v", e)
	}

	m := g.GetMatching(ctx, "x.")
	if len(m) != 2 || m["x1"].Value != "b" {
		t.Fatalf("GetMatching must merge with later peers winning: %v", m)
	}
	mm := g.GetMultiple(ctx, []string{"shared", "only-b", "none"})
	if len(mm) != 2 {
		t.Fatalf("GetMultiple = %v", mm)
	}
	want := []string{"only-b", "shared", "x1", "x2"}
	if got := g.KeySet(ctx); !reflect.DeepEqual(got, want) {
		t.Fatalf("KeySet = %v, want %v", got, want)
	}
}

// ==============================
// Status
// ==============================

func TestGroupStatus(t *testing.T) {
	ctx := context.Background()
	alive := func() *AsyncPeerCache[string] {
		return newTestAsync(t, testAttrs("r"), "alive", newFakeEndpoint(), nil)
	}
	broken := func() *AsyncPeerCache[string] {
		return newTestAsync(t, testAttrs("r"), "broken", nil, nil)
	}
	disposed := func() *AsyncPeerCache[string] {
		c := newTestAsync(t, testAttrs("r"), "disposed", newFakeEndpoint(), nil)
		c.Dispose(ctx)
		return c
	}

	cases := []struct {
		name     string
		peers    []*AsyncPeerCache[string]
		listener Listener
		want     CacheStatus
	}{
		{"no peers", nil, nil, StatusAlive},
		{"one alive", []*AsyncPeerCache[string]{alive()}, nil, StatusAlive},
		{"one broken", []*AsyncPeerCache[string]{broken()}, nil, StatusError},
		{"broken and alive", []*AsyncPeerCache[string]{broken(), alive()}, nil, StatusAlive},
		{"disposed and broken", []*AsyncPeerCache[string]{disposed(), broken()}, nil, StatusError},
		{"all disposed", []*AsyncPeerCache[string]{disposed()}, nil, StatusDisposed},
		{"broken with listener", []*AsyncPeerCache[string]{broken()}, &countingListener{}, StatusAlive},
	}
	for _, tc := range cases {
		g := NewGroup("r", tc.peers, tc.listener, nil)
		if got := g.Status(); got != tc.want {
			t.Fatalf("%s: status = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGroupDispose(t *testing.T) {
	ctx := context.Background()
	ep := newFakeEndpoint()
	l := &countingListener{}
	g := NewGroup("r", []*AsyncPeerCache[string]{newTestAsync(t, testAttrs("r"), "a", ep, nil)}, l, nil)

	g.Dispose(ctx)
	g.Dispose(ctx)
	if l.disposed.Load() != 1 {
		t.Fatalf("listener disposed %d times", l.disposed.Load())
	}
	if g.Status() != StatusDisposed {
		t.Fatalf("status = %v", g.Status())
	}
	eventually(t, "peer dispose", func() bool { return ep.count("dispose") == 1 })
	if err := g.Update(ctx, &Element[string]{Key: "k"}); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Update after dispose: %v", err)
	}
}

func TestGroupMembership(t *testing.T) {
	a := newTestAsync(t, testAttrs("r"), "a", newFakeEndpoint(), nil)
	g := NewGroup("r", []*AsyncPeerCache[string]{a}, nil, nil)

	if g.AddPeer(a) {
		t.Fatalf("same cache added twice")
	}
	if g.AddPeer(newTestAsync(t, testAttrs("r"), "a", newFakeEndpoint(), nil)) {
		t.Fatalf("second cache for the same peer added")
	}
	b := newTestAsync(t, testAttrs("r"), "b", newFakeEndpoint(), nil)
	if !g.AddPeer(b) || len(g.Peers()) != 2 {
		t.Fatalf("AddPeer(b) failed: %d peers", len(g.Peers()))
	}
	if g.peerByName("b") != b {
		t.Fatalf("peerByName(b) mismatch")
	}
	if !g.RemovePeer(a) || g.RemovePeer(a) {
		t.Fatalf("RemovePeer must succeed once")
	}
	if len(g.Peers()) != 1 || g.Peers()[0] != b {
		t.Fatalf("peers = %v", g.Peers())
	}
	if got := statLookup(t, g.Stats(), "Number of Peers"); got != 1 {
		t.Fatalf("Number of Peers = %v", got)
	}
}
