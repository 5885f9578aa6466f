package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/unkn0wn-root/lateral"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(viper.New(), "", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Codec != "msgpack" || c.Store.Kind != "ristretto" || c.Monitor.IdlePeriod != lateral.DefaultIdlePeriod {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if len(c.Regions) != 0 {
		t.Fatalf("no regions expected, got %v", c.Regions)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "lateral.yaml", `
node_id: 7
codec: json
monitor:
  idle_period: 30s
  mode: time
regions:
  - region: users
    peers: ["a:6379", "b:6379"]
    put_only: true
    stub_queue_capacity: 50
    queue:
      max_failure: 5
      wait_before_retry: 250ms
`)
	t.Setenv("LATERAL_CODEC", "cbor")
	t.Setenv("LATERAL_STORE_KIND", "bigcache")

	c, err := Load(viper.New(), file, filepath.Join(dir, "none.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.NodeID != 7 {
		t.Fatalf("NodeID = %d", c.NodeID)
	}
	if c.Codec != "cbor" || c.Store.Kind != "bigcache" {
		t.Fatalf("env should override file: codec=%q store=%q", c.Codec, c.Store.Kind)
	}
	mo := c.MonitorOptions()
	if mo.Mode != lateral.ModeTimeDriven || mo.IdlePeriod != 30*time.Second {
		t.Fatalf("monitor options = %+v", mo)
	}
	if len(c.Regions) != 1 {
		t.Fatalf("regions = %v", c.Regions)
	}
	r := c.Regions[0]
	if r.Region != "users" || len(r.Peers) != 2 || !r.PutOnly || r.StubQueueCapacity != 50 {
		t.Fatalf("region = %+v", r)
	}
	if r.Queue.MaxFailure != 5 || r.Queue.WaitBeforeRetry != 250*time.Millisecond {
		t.Fatalf("queue = %+v", r.Queue)
	}
}

func TestLoadDotEnvSingleRegion(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, ".env", "LATERAL_REGION=sessions\nLATERAL_PEERS=a:1, b:2\n")
	t.Cleanup(func() {
		os.Unsetenv("LATERAL_REGION")
		os.Unsetenv("LATERAL_PEERS")
	})

	c, err := Load(viper.New(), "", env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Regions) != 1 || c.Regions[0].Region != "sessions" {
		t.Fatalf("regions = %+v", c.Regions)
	}
	if got := c.Regions[0].Peers; len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("peers = %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := &Config{
		Codec:   "xml",
		Store:   StoreConfig{Kind: "ristretto"},
		Monitor: MonitorConfig{Mode: "sometimes"},
		Regions: []lateral.RegionAttributes{{Region: "a"}, {Region: "a"}, {Region: ""}},
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation errors")
	}
}
