package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) goredis.UniversalClient {
	t.Helper()
	addr := os.Getenv("LATERAL_REDIS_ADDR")
	if addr == "" {
		t.Skip("LATERAL_REDIS_ADDR not set")
	}
	c := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := c.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNilClient) {
		t.Fatalf("want ErrNilClient, got %v", err)
	}
}

func TestPrefixedRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := testClient(t)
	p, err := New(Config{Client: c, Prefix: "lateral-test:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Del(ctx, "k")

	if ok, err := p.Set(ctx, "k", []byte("v"), 0, time.Minute); !ok || err != nil {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	raw, err := c.Get(ctx, "lateral-test:k").Bytes()
	if err != nil || string(raw) != "v" {
		t.Fatalf("raw key: %q err=%v", raw, err)
	}
	b, hit, err := p.Get(ctx, "k")
	if err != nil || !hit || string(b) != "v" {
		t.Fatalf("Get: hit=%v b=%q err=%v", hit, b, err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close on borrowed client: %v", err)
	}
	if err := c.Ping(ctx).Err(); err != nil {
		t.Fatalf("borrowed client must stay open: %v", err)
	}
}
