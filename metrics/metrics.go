// Package metrics counts replication events with VictoriaMetrics/metrics and
// exposes them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"strconv"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/unkn0wn-root/lateral"
)

// Hooks increments one counter per event, labelled by region and peer.
type Hooks struct {
	set *vm.Set
}

var _ lateral.Hooks = (*Hooks)(nil)

// New returns hooks writing to a fresh metric set, separate from the
// package-level default set.
func New() *Hooks {
	return &Hooks{set: vm.NewSet()}
}

// Set returns the underlying metric set, e.g. to add gauges.
func (h *Hooks) Set() *vm.Set { return h.set }

// WritePrometheus writes every counter in Prometheus text format. With
// process=true the default set and process metrics are written too.
func (h *Hooks) WritePrometheus(w io.Writer, process bool) {
	h.set.WritePrometheus(w)
	if process {
		vm.WritePrometheus(w, true)
	}
}

func name(metric string, labels ...string) string {
	if len(labels) == 0 {
		return metric
	}
	s := metric + "{"
	for i := 0; i+1 < len(labels); i += 2 {
		if i > 0 {
			s += ","
		}
		s += labels[i] + "=" + strconv.Quote(labels[i+1])
	}
	return s + "}"
}

func (h *Hooks) inc(metric string, labels ...string) {
	h.set.GetOrCreateCounter(name(metric, labels...)).Inc()
}

// Counter reads a counter back; mostly for tests and status pages.
func (h *Hooks) Counter(metric string, labels ...string) uint64 {
	return h.set.GetOrCreateCounter(name(metric, labels...)).Get()
}

func (h *Hooks) PeerFailedOver(region, peer, op string, _ error) {
	h.inc("lateral_peer_failovers_total", "region", region, "peer", peer, "op", op)
}

func (h *Hooks) PeerRestored(region, peer string, replayed int) {
	h.inc("lateral_peer_restores_total", "region", region, "peer", peer)
	h.set.GetOrCreateCounter(name("lateral_replayed_events_total", "region", region, "peer", peer)).Add(replayed)
}

func (h *Hooks) StubOverflow(region, peer string) {
	h.inc("lateral_stub_overflows_total", "region", region, "peer", peer)
}

func (h *Hooks) QueueDestroyed(region, peer, reason string) {
	h.inc("lateral_queue_destroyed_total", "region", region, "peer", peer, "reason", reason)
}

func (h *Hooks) EventDropped(region, peer string, cmd lateral.Command) {
	h.inc("lateral_events_dropped_total", "region", region, "peer", peer, "cmd", cmd.String())
}

func (h *Hooks) RecoveryAttempt(peer string, ok bool, _ error) {
	h.inc("lateral_recovery_attempts_total", "peer", peer, "ok", fmt.Sprint(ok))
}
