package lockout

import (
	"context"
	"sync"
)

// MemoryStore keeps lockout state in process memory. Suitable for tests and
// single-instance development runs.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	return copyState(st), nil
}

func (s *MemoryStore) Execute(ctx context.Context, key string, mutate func(*State) error) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		st = &State{Key: key}
	}
	working := copyState(st)
	if err := mutate(working); err != nil {
		return nil, err
	}
	s.states[key] = copyState(working)
	return working, nil
}

func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func copyState(st *State) *State {
	cp := *st
	if st.LockUntil != nil {
		t := *st.LockUntil
		cp.LockUntil = &t
	}
	return &cp
}
