package sandboxes

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var ErrHandleNotFound = errors.New("sandbox handle not found")

// sharedConnectTimeout bounds a connect that several callers may be waiting
// on. It runs detached from the first caller's cancellation.
const sharedConnectTimeout = 30 * time.Second

// Store caches one Handle per sandbox id for the life of the process.
// Handles leave the store only through Evict.
type Store struct {
	mu      sync.RWMutex
	handles map[string]Handle
	connect singleflight.Group
}

func NewStore() *Store {
	return &Store{handles: make(map[string]Handle)}
}

func (s *Store) Get(id string) (Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, ErrHandleNotFound
	}
	return h, nil
}

// Put stores h under its id, replacing any earlier handle.
func (s *Store) Put(h Handle) {
	s.mu.Lock()
	s.handles[h.ID()] = h
	s.mu.Unlock()
}

// GetOrConnect returns the cached handle or calls connect once, however many
// callers ask for the same id concurrently. Each caller stops waiting when
// its own ctx is done; the shared connect carries on for the others.
func (s *Store) GetOrConnect(ctx context.Context, id string, connect func(context.Context) (Handle, error)) (Handle, error) {
	if h, err := s.Get(id); err == nil {
		return h, nil
	}

	ch := s.connect.DoChan(id, func() (any, error) {
		if h, err := s.Get(id); err == nil {
			return h, nil
		}
		connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedConnectTimeout)
		defer cancel()
		h, err := connect(connectCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.handles[id] = h
		s.mu.Unlock()
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Evict drops id. A connect already in flight for id may still store its
// handle afterwards; callers evict after the upstream delete has finished.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
	s.connect.Forget(id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// IDs lists the cached sandbox ids.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	return ids
}
