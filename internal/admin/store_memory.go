package admin

import (
	"context"
	"sort"
	"sync"
	"time"

	"cabildo/internal/lockout"
)

// MemoryStore keeps accounts in process memory for tests and development.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[int64]*Account)}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.Username == a.Username {
			return ErrDuplicate
		}
	}
	s.nextID++
	a.ID = s.nextID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.byID[a.ID] = copyAccount(a)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[a.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range s.byID {
		if id != a.ID && existing.Username == a.Username {
			return ErrDuplicate
		}
	}
	s.byID[a.ID] = copyAccount(a)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findByUsername(username)
	if a == nil {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		accounts = append(accounts, copyAccount(a))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) GetLock(ctx context.Context, username string) (*lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findByUsername(username)
	if a == nil {
		return nil, ErrNotFound
	}
	return lockStateOf(a), nil
}

func (s *MemoryStore) ExecuteLock(ctx context.Context, username string, mutate func(*lockout.State) error) (*lockout.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findByUsername(username)
	if a == nil {
		return nil, ErrNotFound
	}
	state := lockStateOf(a)
	if err := mutate(state); err != nil {
		return nil, err
	}
	applyLockState(a, state)
	return state, nil
}

func (s *MemoryStore) ClearLock(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findByUsername(username)
	if a == nil {
		return ErrNotFound
	}
	applyLockState(a, &lockout.State{Key: username})
	return nil
}

// findByUsername must be called with s.mu held.
func (s *MemoryStore) findByUsername(username string) *Account {
	for _, a := range s.byID {
		if a.Username == username {
			return a
		}
	}
	return nil
}

func lockStateOf(a *Account) *lockout.State {
	state := &lockout.State{
		Key:            a.Username,
		FailedAttempts: a.FailedAttempts,
		LockoutsCount:  a.LockoutsCount,
		Permanent:      a.PermanentlyLocked,
	}
	if a.LockUntil != nil {
		t := *a.LockUntil
		state.LockUntil = &t
	}
	return state
}

func applyLockState(a *Account, state *lockout.State) {
	a.FailedAttempts = state.FailedAttempts
	a.LockoutsCount = state.LockoutsCount
	a.PermanentlyLocked = state.Permanent
	a.LockUntil = nil
	if state.LockUntil != nil {
		t := *state.LockUntil
		a.LockUntil = &t
	}
}

func copyAccount(a *Account) *Account {
	cp := *a
	cp.TempPasswordIssuedAt = copyTime(a.TempPasswordIssuedAt)
	cp.PasswordChangedAt = copyTime(a.PasswordChangedAt)
	cp.LastLoginAt = copyTime(a.LastLoginAt)
	cp.LockUntil = copyTime(a.LockUntil)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
