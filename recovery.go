package lateral

import (
	"context"
	"fmt"
	"sync"
)

// RecoveryStrategy is one attempt at repairing a peer. It dials at most once:
// a failed CanFix stays failed for the life of the strategy.
type RecoveryStrategy struct {
	peer    string
	log     Logger
	hooks   Hooks
	connect func(context.Context) (func(context.Context), error)

	mu     sync.Mutex
	fix    func(context.Context)
	err    error
	failed bool
}

func newRecoveryStrategy(peer string, log Logger, hooks Hooks, connect func(context.Context) (func(context.Context), error)) *RecoveryStrategy {
	return &RecoveryStrategy{peer: peer, log: log, hooks: hooks, connect: connect}
}

func (s *RecoveryStrategy) Peer() string { return s.peer }

// CanFix reports whether a fresh endpoint could be obtained.
func (s *RecoveryStrategy) CanFix(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return false
	}
	if s.fix != nil {
		return true
	}
	fix, err := s.connect(ctx)
	if err != nil {
		s.failed = true
		s.err = err
		s.log.Debug("lateral: peer still unreachable", Fields{"peer": s.peer, "err": err})
		s.hooks.RecoveryAttempt(s.peer, false, err)
		return false
	}
	s.fix = fix
	return true
}

// Fix swaps the fresh endpoint into every cache of the peer. Without one it
// does nothing and returns why.
func (s *RecoveryStrategy) Fix(ctx context.Context) error {
	if !s.CanFix(ctx) {
		return fmt.Errorf("lateral: peer %q not fixable: %w", s.peer, s.err)
	}
	s.mu.Lock()
	fix := s.fix
	s.mu.Unlock()

	fix(ctx)
	s.log.Info("lateral: peer recovered", Fields{"peer": s.peer})
	s.hooks.RecoveryAttempt(s.peer, true, nil)
	return nil
}
