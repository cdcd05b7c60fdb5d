package session

import (
	"context"
	"sync"

	"aqualens/cmd/internal/auth/store"
)

// Synchronizer forwards other tabs' access-token changes to a Controller.
// It only reads the store; the controller re-reads rather than trusting the
// notification, so late or repeated notifications are harmless.
type Synchronizer struct {
	ctrl  *Controller
	store Storage

	mu     sync.Mutex
	cancel func()
}

// NewSynchronizer binds ctrl to st. Call Start to begin listening.
func NewSynchronizer(ctrl *Controller, st Storage) *Synchronizer {
	return &Synchronizer{ctrl: ctrl, store: st}
}

// Start subscribes to the store, then re-reads it once so a change written
// between the controller's first snapshot and the subscription is not lost.
// Calling it again is a no-op. It returns ErrSynchronizerBound when another
// Synchronizer is already running for the same controller.
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}
	if !s.ctrl.bindSync(s) {
		return ErrSynchronizerBound
	}
	s.cancel = s.store.Subscribe(s.handle)
	s.ctrl.applyExternal(context.Background())
	return nil
}

// Stop unsubscribes and releases the controller. It is safe to call more
// than once.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.ctrl.unbindSync(s)
	}
}

func (s *Synchronizer) handle(ch store.Change) {
	if ch.Key != store.KeyAccessToken {
		return
	}
	s.ctrl.applyExternal(context.Background())
}
