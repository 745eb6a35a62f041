package thread

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/speakmesh/core"
)

// InMemoryStore is a volatile ThreadStore keeping threads in a process local
// map. It is safe for concurrent access and best suited for tests or single
// process deployments. Every returned thread is cloned so callers can never
// mutate stored state.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*core.Thread
	locker  *Locker
}

// NewInMemoryStore constructs an empty in-memory thread store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]*core.Thread), locker: NewLocker()}
}

// Create allocates an empty thread.
func (s *InMemoryStore) Create(_ context.Context, id string) (*core.Thread, error) {
	if err := core.ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; ok {
		return nil, fmt.Errorf("%w: %s", core.ErrThreadExists, id)
	}
	th := core.NewThread(id)
	s.threads[id] = th
	return th.Clone(), nil
}

// Get returns a clone of the stored thread.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, core.ErrThreadNotFound
	}
	return th.Clone(), nil
}

// AppendMessage appends msg at the next position.
func (s *InMemoryStore) AppendMessage(_ context.Context, id string, msg core.Message) (int, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return 0, core.ErrThreadNotFound
	}
	return th.Append(msg), nil
}

// MergeCorrection attaches c to the user message it references.
func (s *InMemoryStore) MergeCorrection(_ context.Context, id string, c core.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return core.ErrThreadNotFound
	}
	return th.AttachCorrection(c)
}

// Delete removes the thread. Deleting an unknown thread is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
	return nil
}

// Lock serializes writers of one thread.
func (s *InMemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	return s.locker.Lock(ctx, id)
}
