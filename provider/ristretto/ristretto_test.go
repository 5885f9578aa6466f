package ristretto

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(DefaultConfig(1 << 20))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestSetIsVisibleImmediately(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	ok, err := p.Set(ctx, "lateral:r:k", []byte("v1"), 0, 0)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	b, hit, err := p.Get(ctx, "lateral:r:k")
	if err != nil || !hit || string(b) != "v1" {
		t.Fatalf("Get after Set: hit=%v b=%q err=%v", hit, b, err)
	}

	if err := p.Del(ctx, "lateral:r:k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, hit, _ := p.Get(ctx, "lateral:r:k"); hit {
		t.Fatalf("expected miss after Del")
	}
	if err := p.Del(ctx, "missing"); err != nil {
		t.Fatalf("Del of missing key: %v", err)
	}
}

func TestSetHonoursTTL(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	if ok, _ := p.Set(ctx, "ttl", []byte("x"), 0, 20*time.Millisecond); !ok {
		t.Fatalf("Set rejected")
	}
	time.Sleep(100 * time.Millisecond)
	if _, hit, _ := p.Get(ctx, "ttl"); hit {
		t.Fatalf("expected entry to expire")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for zero config")
	}
}
