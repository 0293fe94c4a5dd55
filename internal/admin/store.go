package admin

import (
	"context"
	"errors"

	"cabildo/internal/lockout"
)

var (
	ErrNotFound  = errors.New("admin account not found")
	ErrDuplicate = errors.New("admin username already taken")
)

// Store persists operator accounts. The lock methods operate on the lockout
// columns of an account row keyed by username; ExecuteLock serializes
// concurrent mutations of the same account.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)

	GetLock(ctx context.Context, username string) (*lockout.State, error)
	ExecuteLock(ctx context.Context, username string, mutate func(*lockout.State) error) (*lockout.State, error)
	ClearLock(ctx context.Context, username string) error
}

// LockStore adapts the account lockout columns to the shared ledger's Store
// interface. Ledger keys are usernames.
type LockStore struct {
	store Store
}

func NewLockStore(store Store) LockStore {
	return LockStore{store: store}
}

func (a LockStore) Get(ctx context.Context, key string) (*lockout.State, error) {
	return a.store.GetLock(ctx, key)
}

func (a LockStore) Execute(ctx context.Context, key string, mutate func(*lockout.State) error) (*lockout.State, error) {
	return a.store.ExecuteLock(ctx, key, mutate)
}

func (a LockStore) Clear(ctx context.Context, key string) error {
	return a.store.ClearLock(ctx, key)
}
