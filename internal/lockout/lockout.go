// Package lockout implements a progressive lockout ledger shared by admin
// login and the public birthdate challenge.
//
// Each tracked key accumulates failed attempts. Reaching the attempt limit
// starts a timed lock whose duration grows exponentially with every
// consecutive lockout, optionally capped and optionally escalating to a
// permanent lock. A successful attempt clears the key entirely.
package lockout

import (
	"math"
	"time"
)

// Policy is the escalation schedule for one ledger.
type Policy struct {
	// MaxAttempts is the number of consecutive failures that triggers a lock.
	MaxAttempts int

	// BaseLock is the duration of the first lock.
	BaseLock time.Duration

	// Multiplier grows the lock duration with each consecutive lockout.
	Multiplier float64

	// MaxLock caps the lock duration. Zero means uncapped.
	MaxLock time.Duration

	// PermaAfter escalates to a permanent lock once this many lockouts have
	// occurred. Zero means never.
	PermaAfter int
}

// LockDuration returns the lock length for the nth consecutive lockout
// (1-based): BaseLock * Multiplier^(n-1), capped at MaxLock when set.
func (p Policy) LockDuration(lockouts int) time.Duration {
	if lockouts < 1 {
		lockouts = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseLock) * math.Pow(mult, float64(lockouts-1)))
	if p.MaxLock > 0 && d > p.MaxLock {
		d = p.MaxLock
	}
	return d
}

// State is the persisted lockout record for one key.
type State struct {
	Key string

	// FailedAttempts counts failures since the last lock or clear. It resets
	// to zero when a lock starts; LockoutsCount carries the escalation.
	FailedAttempts int

	// LockoutsCount is the number of locks this key has triggered. It only
	// resets on success or an explicit reset, so an expired lock still
	// escalates the next one.
	LockoutsCount int

	LockUntil *time.Time
	Permanent bool
	UpdatedAt time.Time
}

// IsLockedAt reports whether the key is locked at the given instant, either
// permanently or by an unexpired timed lock.
func (s *State) IsLockedAt(now time.Time) bool {
	if s.Permanent {
		return true
	}
	return s.LockUntil != nil && now.Before(*s.LockUntil)
}

// RemainingAt returns how long the timed lock still holds at now. Zero for
// unlocked or permanently locked keys.
func (s *State) RemainingAt(now time.Time) time.Duration {
	if s.Permanent || s.LockUntil == nil {
		return 0
	}
	if remaining := s.LockUntil.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
