// Package sloghooks reports replication events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/lateral"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	OverflowEvery uint64
	DroppedEvery  uint64
	// HidePeers replaces peer addresses with a short hash.
	HidePeers bool
	// Optional peer redactor; implies HidePeers. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	overflowCtr atomic.Uint64
	droppedCtr  atomic.Uint64
}

var _ lateral.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) peer(p string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(p)
	}
	if !h.opts.HidePeers {
		return p
	}
	sum := sha256.Sum256([]byte(p))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) PeerFailedOver(region, peer, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("lateral.peer_failed_over",
		"region", region,
		"peer", h.peer(peer),
		"op", op,
		"err", err)
}

func (h *Hooks) PeerRestored(region, peer string, replayed int) {
	if h.l == nil {
		return
	}
	h.l.Info("lateral.peer_restored",
		"region", region,
		"peer", h.peer(peer),
		"replayed", replayed)
}

func (h *Hooks) StubOverflow(region, peer string) {
	if h.l == nil || !sample(h.opts.OverflowEvery, &h.overflowCtr) {
		return
	}
	h.l.Warn("lateral.stub_overflow",
		"region", region,
		"peer", h.peer(peer))
}

func (h *Hooks) QueueDestroyed(region, peer, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("lateral.queue_destroyed",
		"region", region,
		"peer", h.peer(peer),
		"reason", reason)
}

func (h *Hooks) EventDropped(region, peer string, cmd lateral.Command) {
	if h.l == nil || !sample(h.opts.DroppedEvery, &h.droppedCtr) {
		return
	}
	h.l.Debug("lateral.event_dropped",
		"region", region,
		"peer", h.peer(peer),
		"cmd", cmd.String())
}

func (h *Hooks) RecoveryAttempt(peer string, ok bool, err error) {
	if h.l == nil {
		return
	}
	if ok {
		h.l.Info("lateral.recovery_succeeded", "peer", h.peer(peer))
		return
	}
	h.l.Debug("lateral.recovery_failed",
		"peer", h.peer(peer),
		"err", err)
}
