package lateral

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MonitorMode selects how the monitor decides to run a repair pass.
type MonitorMode int

const (
	// ModeErrorDriven sleeps until a peer reports a failure.
	ModeErrorDriven MonitorMode = iota
	// ModeTimeDriven runs a pass every idle period no matter what.
	ModeTimeDriven
)

func (m MonitorMode) String() string {
	if m == ModeTimeDriven {
		return "time-driven"
	}
	return "error-driven"
}

// MonitorOptions configure a Monitor.
type MonitorOptions struct {
	IdlePeriod time.Duration `mapstructure:"idle_period"` // pause after every pass; 0 => DefaultIdlePeriod
	Mode       MonitorMode   `mapstructure:"mode"`
}

// Watchable is what the monitor repairs: a peer and the caches that use it.
type Watchable interface {
	Peer() string
	Statuses() []CacheStatus
	NewRecoveryStrategy() *RecoveryStrategy
}

type monitorState int32

const (
	stateWaitingForError monitorState = iota
	statePollingPeriodically
)

// Monitor is the single background goroutine that finds peers in ERROR and
// reconnects them.
type Monitor struct {
	log   Logger
	mode  MonitorMode
	idle  atomic.Int64
	state atomic.Int32

	registries *xsync.MapOf[string, Watchable]

	notify   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

var _ ErrorNotifier = (*Monitor)(nil)

// NewMonitor returns a stopped monitor; call Start to run it.
func NewMonitor(opts MonitorOptions, log Logger) *Monitor {
	if log == nil {
		log = NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		log:        log,
		mode:       opts.Mode,
		registries: xsync.NewMapOf[string, Watchable](),
		notify:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.idle.Store(int64(coalesce(opts.IdlePeriod, DefaultIdlePeriod)))
	if opts.Mode == ModeTimeDriven {
		m.state.Store(int32(statePollingPeriodically))
	}
	return m
}

// Start launches the monitor goroutine. Later calls do nothing.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run()
}

func (m *Monitor) Mode() MonitorMode { return m.mode }

func (m *Monitor) IdlePeriod() time.Duration { return time.Duration(m.idle.Load()) }

// SetIdlePeriod raises the idle period. Shorter values are ignored.
func (m *Monitor) SetIdlePeriod(d time.Duration) {
	for {
		cur := m.idle.Load()
		if int64(d) <= cur {
			return
		}
		if m.idle.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// Watch adds w to the set of repaired peers, replacing any watch on the same peer.
func (m *Monitor) Watch(w Watchable) { m.registries.Store(w.Peer(), w) }

func (m *Monitor) Unwatch(peer string) { m.registries.Delete(peer) }

// NotifyError wakes an error-driven monitor. It never blocks.
func (m *Monitor) NotifyError() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// NotifyShutdown asks the monitor to stop. It returns at once; use Wait to join.
func (m *Monitor) NotifyShutdown() {
	m.stopOnce.Do(func() {
		m.log.Info("lateral: monitor shutting down", nil)
		m.cancel()
	})
}

// Wait blocks until the monitor goroutine has exited or ctx is done.
// A monitor that was never started counts as exited.
func (m *Monitor) Wait(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) run() {
	defer close(m.done)
	m.log.Info("lateral: monitor started", Fields{"mode": m.mode.String(), "idle": m.IdlePeriod().String()})
	for {
		if m.ctx.Err() != nil {
			return
		}
		if monitorState(m.state.Load()) == stateWaitingForError {
			select {
			case <-m.notify:
			case <-m.ctx.Done():
				return
			}
		}
		// a notification that arrived during the last pass is covered by this one
		select {
		case <-m.notify:
		default:
		}

		alright := m.Sweep(m.ctx)
		if m.mode == ModeErrorDriven && alright {
			m.state.Store(int32(stateWaitingForError))
		} else {
			m.state.Store(int32(statePollingPeriodically))
		}

		t := time.NewTimer(m.IdlePeriod())
		select {
		case <-t.C:
		case <-m.ctx.Done():
			t.Stop()
			return
		}
	}
}

// Sweep runs one repair pass over every watched peer and reports whether all
// of them ended up healthy. A peer with no caches yet counts as not healthy.
func (m *Monitor) Sweep(ctx context.Context) bool {
	alright := true
	m.registries.Range(func(peer string, w Watchable) bool {
		if ctx.Err() != nil {
			alright = false
			return false
		}
		if !m.fix(ctx, w) {
			alright = false
		}
		return true
	})
	return alright
}

func (m *Monitor) fix(ctx context.Context, w Watchable) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("lateral: panic while fixing peer", Fields{"peer": w.Peer(), "panic": fmt.Sprint(r)})
			ok = false
		}
	}()

	statuses := w.Statuses()
	if len(statuses) == 0 {
		return false
	}
	broken := false
	for _, st := range statuses {
		if st == StatusError {
			broken = true
			break
		}
	}
	if !broken {
		return true
	}

	s := w.NewRecoveryStrategy()
	if !s.CanFix(ctx) {
		return false
	}
	if err := s.Fix(ctx); err != nil {
		m.log.Warn("lateral: peer fix failed", Fields{"peer": w.Peer(), "err": err})
		return false
	}
	return true
}
