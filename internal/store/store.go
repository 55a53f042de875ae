// Package store persists ticket bookkeeping. Every mutation is a
// read-modify-write of the whole state under one process-wide lock; there is
// no long-lived in-memory copy.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/ticketbooth/internal/models"
	"go.uber.org/zap"
)

// Backend loads and saves the complete ticket state. Save must replace the
// persisted state atomically: a crash mid-save leaves either the old or the
// new state, never a mix.
type Backend interface {
	Load(ctx context.Context) (*models.State, error)
	Save(ctx context.Context, state *models.State) error
}

// CorruptError reports persisted state that exists but cannot be read back
// into a valid State. It is fatal for the operation: the store is never
// silently reset.
type CorruptError struct {
	Source string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("store: corrupt state in %s: %v", e.Source, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store serializes access to a Backend within the process; backends that
// implement Locker extend that to other processes.
type Store struct {
	mu      sync.Mutex
	backend Backend
	log     *zap.Logger
}

// New creates a Store over backend. A nil logger disables logging.
func New(backend Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, log: log}
}

// Update loads the state, applies fn and saves the result, all while holding
// the store lock. If the backend is a Locker its cross-process lock is held
// too. If fn returns an error nothing is saved and the error is returned
// unchanged. fn must not perform slow I/O.
func (s *Store) Update(ctx context.Context, fn func(*models.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.backend.(Locker); ok {
		unlock, err := l.Lock(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := unlock(); err != nil {
				s.log.Warn("release store lock", zap.Error(err))
			}
		}()
	}

	state, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	if err := s.backend.Save(ctx, state); err != nil {
		s.log.Error("save failed", zap.Error(err))
		return err
	}
	return nil
}

// Snapshot returns a freshly loaded copy of the state for read-only use.
// Saves are atomic, so no cross-process lock is taken.
func (s *Store) Snapshot(ctx context.Context) (*models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Load(ctx)
}
