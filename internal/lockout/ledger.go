package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

// Store persists lockout state. Get returns nil for unknown keys. Execute
// atomically loads (or creates) the state for a key, applies mutate, and
// persists the result; concurrent Execute calls for the same key serialize.
type Store interface {
	Get(ctx context.Context, key string) (*State, error)
	Execute(ctx context.Context, key string, mutate func(*State) error) (*State, error)
	Clear(ctx context.Context, key string) error
}

// Status is the read-only view of a key returned by Check.
type Status struct {
	Locked            bool
	Permanent         bool
	RetryAfter        time.Duration
	RemainingAttempts int
}

// Result describes the state of a key after a recorded failure.
type Result struct {
	Locked            bool
	Permanent         bool
	LockUntil         *time.Time
	RetryAfter        time.Duration
	RemainingAttempts int
}

// Ledger applies a Policy to keys in a Store.
type Ledger struct {
	name   string
	store  Store
	policy Policy
	logger *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New builds a ledger. The name tags audit log events so the admin and
// birthdate ledgers are distinguishable.
func New(name string, store Store, policy Policy, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	if policy.MaxAttempts <= 0 {
		return nil, errors.New("lockout policy requires a positive attempt limit")
	}

	l := &Ledger{
		name:   name,
		store:  store,
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Policy returns the escalation schedule the ledger enforces.
func (l *Ledger) Policy() Policy {
	return l.policy
}

// Check reports whether a key is currently locked without mutating it.
func (l *Ledger) Check(ctx context.Context, key string) (Status, error) {
	state, err := l.store.Get(ctx, key)
	if err != nil {
		return Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read lockout state")
	}
	if state == nil {
		return Status{RemainingAttempts: l.policy.MaxAttempts}, nil
	}

	now := requestcontext.Now(ctx)
	if state.Permanent {
		return Status{Locked: true, Permanent: true}, nil
	}
	if state.IsLockedAt(now) {
		return Status{Locked: true, RetryAfter: state.RemainingAt(now)}, nil
	}
	return Status{RemainingAttempts: l.policy.MaxAttempts - state.FailedAttempts}, nil
}

// RecordFailure registers a failed attempt against the key and returns the
// resulting state. Crossing the attempt limit starts a timed lock; the
// escalation schedule may upgrade it to a permanent lock.
func (l *Ledger) RecordFailure(ctx context.Context, key string) (Result, error) {
	now := requestcontext.Now(ctx)

	state, err := l.store.Execute(ctx, key, func(st *State) error {
		if st.Permanent {
			return nil
		}
		st.FailedAttempts++
		st.UpdatedAt = now
		if st.FailedAttempts < l.policy.MaxAttempts {
			return nil
		}

		st.LockoutsCount++
		st.FailedAttempts = 0
		if l.policy.PermaAfter > 0 && st.LockoutsCount >= l.policy.PermaAfter {
			st.Permanent = true
			st.LockUntil = nil
			return nil
		}
		until := now.Add(l.policy.LockDuration(st.LockoutsCount))
		st.LockUntil = &until
		return nil
	})
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record lockout failure")
	}

	switch {
	case state.Permanent:
		l.logger.WarnContext(ctx, "lockout_permanent",
			"ledger", l.name,
			"key", key,
			"lockouts", state.LockoutsCount,
		)
		return Result{Locked: true, Permanent: true}, nil
	case state.IsLockedAt(now):
		l.logger.WarnContext(ctx, "lockout_triggered",
			"ledger", l.name,
			"key", key,
			"lockouts", state.LockoutsCount,
			"lock_until", state.LockUntil,
		)
		return Result{
			Locked:     true,
			LockUntil:  state.LockUntil,
			RetryAfter: state.RemainingAt(now),
		}, nil
	default:
		return Result{RemainingAttempts: l.policy.MaxAttempts - state.FailedAttempts}, nil
	}
}

// RecordSuccess clears the failure history for the key: attempts, escalation
// count, and any timed lock. A permanent lock survives; only Reset lifts it.
func (l *Ledger) RecordSuccess(ctx context.Context, key string) error {
	state, err := l.store.Get(ctx, key)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read lockout state")
	}
	if state == nil {
		return nil
	}

	now := requestcontext.Now(ctx)
	_, err = l.store.Execute(ctx, key, func(st *State) error {
		st.FailedAttempts = 0
		st.LockoutsCount = 0
		st.LockUntil = nil
		st.UpdatedAt = now
		return nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear lockout state")
	}
	l.logger.InfoContext(ctx, "lockout_cleared", "ledger", l.name, "key", key)
	return nil
}

// Reset removes the key entirely, including a permanent lock. Used by admin
// unlock operations.
func (l *Ledger) Reset(ctx context.Context, key string) error {
	if err := l.store.Clear(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset lockout state")
	}
	l.logger.InfoContext(ctx, "lockout_reset", "ledger", l.name, "key", key)
	return nil
}
