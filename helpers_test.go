package lateral

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeEndpoint is an in-memory peer. While err is set every call fails with
// it; unmarshal makes that many upcoming reads fail to decode.
type fakeEndpoint struct {
	mu        sync.Mutex
	data      map[string]map[string]*Element[string]
	err       error
	unmarshal int
	ops       []string
	calls     map[string]int
	closed    int
}

var _ Endpoint[string] = (*fakeEndpoint)(nil)

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		data:  make(map[string]map[string]*Element[string]),
		calls: make(map[string]int),
	}
}

func (f *fakeEndpoint) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeEndpoint) setUnmarshal(n int) {
	f.mu.Lock()
	f.unmarshal = n
	f.mu.Unlock()
}

// begin must be called with mu held.
func (f *fakeEndpoint) begin(op string) error {
	f.calls[op]++
	return f.err
}

func (f *fakeEndpoint) badRead() error {
	if f.unmarshal > 0 {
		f.unmarshal--
		return fmt.Errorf("%w: bad frame", ErrUnmarshal)
	}
	return nil
}

func (f *fakeEndpoint) region(r string) map[string]*Element[string] {
	m, ok := f.data[r]
	if !ok {
		m = make(map[string]*Element[string])
		f.data[r] = m
	}
	return m
}

func (f *fakeEndpoint) Update(_ context.Context, e *Element[string], _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("update"); err != nil {
		return err
	}
	f.region(e.Region)[e.Key] = e
	f.ops = append(f.ops, "update:"+e.Key+"="+e.Value)
	return nil
}

func (f *fakeEndpoint) Get(ctx context.Context, region, key string) (*Element[string], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get"); err != nil {
		return nil, err
	}
	if err := f.badRead(); err != nil {
		return nil, err
	}
	return f.data[region][key], nil
}

func (f *fakeEndpoint) GetMatching(ctx context.Context, region, pattern string) (map[string]*Element[string], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_matching"); err != nil {
		return nil, err
	}
	if err := f.badRead(); err != nil {
		return nil, err
	}
	re := regexp.MustCompile("^(?:" + pattern + ")$")
	out := make(map[string]*Element[string])
	for k, e := range f.data[region] {
		if re.MatchString(k) {
			out[k] = e
		}
	}
	return out, nil
}

func (f *fakeEndpoint) GetKeySet(ctx context.Context, region string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get_keyset"); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(f.data[region]))
	for k := range f.data[region] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeEndpoint) Remove(_ context.Context, region, key string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("remove"); err != nil {
		return err
	}
	delete(f.data[region], key)
	f.ops = append(f.ops, "remove:"+key)
	return nil
}

func (f *fakeEndpoint) RemoveAll(_ context.Context, region string, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("remove_all"); err != nil {
		return err
	}
	delete(f.data, region)
	f.ops = append(f.ops, "remove_all")
	return nil
}

func (f *fakeEndpoint) Dispose(_ context.Context, region string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("dispose"); err != nil {
		return err
	}
	f.ops = append(f.ops, "dispose:"+region)
	return nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeEndpoint) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeEndpoint) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeEndpoint) value(region, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[region][key]
	if !ok {
		return "", false
	}
	return e.Value, true
}

func (f *fakeEndpoint) put(region, key, value string) {
	f.mu.Lock()
	f.region(region)[key] = &Element[string]{Region: region, Key: key, Value: value}
	f.mu.Unlock()
}

func (f *fakeEndpoint) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordingHooks keeps every hook call as a short string.
type recordingHooks struct {
	mu     sync.Mutex
	events []string
}

var _ Hooks = (*recordingHooks)(nil)

func (h *recordingHooks) rec(s string) {
	h.mu.Lock()
	h.events = append(h.events, s)
	h.mu.Unlock()
}

func (h *recordingHooks) count(s string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e == s {
			n++
		}
	}
	return n
}

func (h *recordingHooks) PeerFailedOver(_, _, op string, _ error) { h.rec("failover:" + op) }
func (h *recordingHooks) PeerRestored(_, _ string, replayed int) {
	h.rec(fmt.Sprintf("restored:%d", replayed))
}
func (h *recordingHooks) StubOverflow(string, string)            { h.rec("overflow") }
func (h *recordingHooks) QueueDestroyed(_, _, reason string)     { h.rec("queue_destroyed:" + reason) }
func (h *recordingHooks) EventDropped(_, _ string, cmd Command)  { h.rec("dropped:" + cmd.String()) }
func (h *recordingHooks) RecoveryAttempt(_ string, ok bool, _ error) {
	h.rec(fmt.Sprintf("recovery:%t", ok))
}

type countingNotifier struct{ n atomic.Int64 }

func (c *countingNotifier) NotifyError() { c.n.Add(1) }

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testAttrs(region string) RegionAttributes {
	return RegionAttributes{
		Region: region,
		Queue:  QueueConfig{WaitBeforeRetry: time.Millisecond, OpTimeout: time.Second},
	}
}

// newTestAsync wraps ep (nil => start on the stub) in an AsyncPeerCache whose
// queue is torn down when the test ends.
func newTestAsync(t *testing.T, attrs RegionAttributes, peer string, ep Endpoint[string], hooks Hooks) *AsyncPeerCache[string] {
	t.Helper()
	pc := NewPeerCache(attrs, peer, ep, PeerOptions{Origin: 1, Hooks: hooks})
	c := NewAsyncPeerCache(pc, nil)
	t.Cleanup(func() { c.queue().Destroy() })
	return c
}

func statLookup(t *testing.T, s Stats, name string) any {
	t.Helper()
	v, ok := s.Lookup(name)
	if !ok {
		t.Fatalf("stat %q missing in %s", name, s)
	}
	return v
}
