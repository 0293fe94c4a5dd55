// Package admin manages operator accounts: authentication with progressive
// lockout, forced password changes, and provisioning used by the CLI.
package admin

import "time"

// Account is an operator account. The lockout columns live on the account row
// itself; a lockout.Store adapter exposes them to the shared ledger.
type Account struct {
	ID       int64
	Name     string
	Username string

	PasswordHash         string
	MustChangePassword   bool
	TempPasswordIssuedAt *time.Time
	PasswordChangedAt    *time.Time
	LastLoginAt          *time.Time

	FailedAttempts    int
	LockoutsCount     int
	LockUntil         *time.Time
	PermanentlyLocked bool

	CreatedAt time.Time
}

// LoginStatus classifies an authentication attempt.
type LoginStatus int

const (
	LoginSuccess LoginStatus = iota
	LoginInvalidInput
	LoginInvalidCredentials
	LoginTemporarilyLocked
	LoginPermanentlyLocked
)

// LoginResult is the outcome of Authenticate. The HTTP layer renders every
// non-success status with the same generic message so responses never reveal
// whether an account exists.
type LoginResult struct {
	Status  LoginStatus
	Account *Account

	// MustChangePassword is set on success when the account still uses a
	// provisional password.
	MustChangePassword bool

	// RemainingAttempts is set on invalid credentials while no lock started.
	RemainingAttempts int

	// LockedNow marks an invalid-credentials outcome whose failure just
	// triggered a lock; RetryAfter or Permanent carries the detail.
	LockedNow  bool
	RetryAfter time.Duration
	Permanent  bool
}
