package lateral

import (
	"fmt"
	"strings"
	"time"
)

// QueueConfig tunes the per-peer event queue.
type QueueConfig struct {
	MaxFailure      int           `mapstructure:"max_failure"`       // attempts per event before the queue stops; 0 => 3
	WaitBeforeRetry time.Duration `mapstructure:"wait_before_retry"` // 0 => 500ms
	OpTimeout       time.Duration `mapstructure:"op_timeout"`        // per endpoint call; 0 => 5s
}

func (c QueueConfig) withDefaults() QueueConfig {
	c.MaxFailure = coalesce(c.MaxFailure, defaultMaxFailure)
	c.WaitBeforeRetry = coalesce(c.WaitBeforeRetry, defaultWaitBeforeRetry)
	c.OpTimeout = coalesce(c.OpTimeout, defaultOpTimeout)
	return c
}

// RegionAttributes configure lateral replication for one region.
// Components copy the value they are given; mutate a copy, never a shared one.
type RegionAttributes struct {
	Region    string   `mapstructure:"region"`
	Transport string   `mapstructure:"transport"` // e.g. "redis", "local"
	Peers     []string `mapstructure:"peers"`     // host:port

	// PutOnly disables remote reads: Get and GetMatching always miss.
	PutOnly bool `mapstructure:"put_only"`
	// Receive makes this node accept inbound replication for the region.
	Receive bool `mapstructure:"receive"`

	// StubQueueCapacity bounds the mutations buffered while a peer is down.
	// 0 => DefaultStubQueueCapacity, negative => buffer nothing.
	StubQueueCapacity int `mapstructure:"stub_queue_capacity"`

	Queue QueueConfig `mapstructure:"queue"`
}

// Validate reports configuration that cannot be served.
func (a RegionAttributes) Validate() error {
	if strings.TrimSpace(a.Region) == "" {
		return fmt.Errorf("lateral: region name is required")
	}
	for _, p := range a.Peers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("lateral: region %q has an empty peer address", a.Region)
		}
	}
	return nil
}

func (a RegionAttributes) stubCapacity() int {
	switch {
	case a.StubQueueCapacity < 0:
		return 0
	case a.StubQueueCapacity == 0:
		return DefaultStubQueueCapacity
	default:
		return a.StubQueueCapacity
	}
}

// forPeer returns a copy scoped to a single peer.
func (a RegionAttributes) forPeer(peer string) RegionAttributes {
	a.Peers = []string{peer}
	a.Queue = a.Queue.withDefaults()
	return a
}

// ParsePeers splits a comma separated host:port list, dropping blanks.
func ParsePeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
