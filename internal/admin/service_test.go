package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cabildo/internal/lockout"
	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	store   *MemoryStore
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func adminPolicy() lockout.Policy {
	return lockout.Policy{
		MaxAttempts: 3,
		BaseLock:    300 * time.Second,
		Multiplier:  2,
		MaxLock:     3600 * time.Second,
		PermaAfter:  2,
	}
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewMemoryStore()

	accounts, err := lockout.New("admin_account", NewLockStore(s.store), adminPolicy())
	s.Require().NoError(err)
	attempts, err := lockout.New("admin_attempt", lockout.NewMemoryStore(), adminPolicy())
	s.Require().NoError(err)

	svc, err := New(s.store, accounts, attempts)
	s.Require().NoError(err)
	s.service = svc
}

func at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

// lockPermanently drives an account into its permanent lock with two failure
// bursts, the second after the first lock expires.
func (s *ServiceSuite) lockPermanently(username string, base time.Time) {
	for n := 0; n < 3; n++ {
		_, err := s.service.Authenticate(at(base), username, "wrong-password", "10.0.0.1")
		s.Require().NoError(err)
	}
	later := base.Add(301 * time.Second)
	for n := 0; n < 3; n++ {
		_, err := s.service.Authenticate(at(later), username, "wrong-password", "10.0.0.1")
		s.Require().NoError(err)
	}
}

// provision creates an account and replaces its generated password with a
// known one, keeping the forced-change flag off unless asked for.
func (s *ServiceSuite) provision(username, password string, mustChange bool) *Account {
	account, _, err := s.service.CreateAccount(context.Background(), "Test Operator", username)
	s.Require().NoError(err)

	hash, err := HashPassword(password)
	s.Require().NoError(err)
	account.PasswordHash = hash
	account.MustChangePassword = mustChange
	s.Require().NoError(s.store.Update(context.Background(), account))
	return account
}

func (s *ServiceSuite) TestAuthenticate() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("valid credentials succeed and stamp last login", func() {
		s.provision("clerk", "hunter2abc", false)

		res, err := s.service.Authenticate(at(base), "clerk", "hunter2abc", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
		s.False(res.MustChangePassword)

		account, err := s.service.Get(context.Background(), "clerk")
		s.Require().NoError(err)
		s.Require().NotNil(account.LastLoginAt)
		s.Equal(base, *account.LastLoginAt)
	})

	s.Run("username matching is case-insensitive", func() {
		res, err := s.service.Authenticate(at(base), " CLERK ", "hunter2abc", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
	})

	s.Run("empty input is invalid, not a credential failure", func() {
		res, err := s.service.Authenticate(at(base), "", "", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginInvalidInput, res.Status)
	})

	s.Run("provisional passwords force a change", func() {
		s.provision("newbie", "temporal9x", true)

		res, err := s.service.Authenticate(at(base), "newbie", "temporal9x", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
		s.True(res.MustChangePassword)
	})
}

func (s *ServiceSuite) TestAuthenticateLockout() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s.provision("clerk", "hunter2abc", false)

	s.Run("three failures lock the account for the base duration", func() {
		res, err := s.service.Authenticate(at(base), "clerk", "wrong", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginInvalidCredentials, res.Status)
		s.Equal(2, res.RemainingAttempts)

		res, err = s.service.Authenticate(at(base), "clerk", "wrong", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(1, res.RemainingAttempts)

		res, err = s.service.Authenticate(at(base), "clerk", "wrong", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginInvalidCredentials, res.Status)
		s.True(res.LockedNow)
		s.Equal(300*time.Second, res.RetryAfter)
	})

	s.Run("attempts during the lock are rejected without touching counters", func() {
		res, err := s.service.Authenticate(at(base.Add(60*time.Second)), "clerk", "hunter2abc", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginTemporarilyLocked, res.Status)
		s.Equal(240*time.Second, res.RetryAfter)
	})

	s.Run("the second lockout is permanent", func() {
		later := base.Add(400 * time.Second)

		var res LoginResult
		var err error
		for n := 0; n < 3; n++ {
			res, err = s.service.Authenticate(at(later), "clerk", "wrong", "10.0.0.1")
			s.Require().NoError(err)
		}
		s.Equal(LoginInvalidCredentials, res.Status)
		s.True(res.Permanent)

		res, err = s.service.Authenticate(at(later.Add(48*time.Hour)), "clerk", "hunter2abc", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginPermanentlyLocked, res.Status)
	})
}

func (s *ServiceSuite) TestAuthenticateUnknownUser() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("unknown usernames report invalid credentials", func() {
		res, err := s.service.Authenticate(at(base), "ghost", "whatever1", "10.0.0.9")
		s.Require().NoError(err)
		s.Equal(LoginInvalidCredentials, res.Status)
		s.Equal(2, res.RemainingAttempts)
	})

	s.Run("probing an unknown username locks the username and IP pair", func() {
		_, err := s.service.Authenticate(at(base), "ghost", "whatever1", "10.0.0.9")
		s.Require().NoError(err)

		res, err := s.service.Authenticate(at(base), "ghost", "whatever1", "10.0.0.9")
		s.Require().NoError(err)
		s.Equal(LoginInvalidCredentials, res.Status)
		s.True(res.LockedNow)

		res, err = s.service.Authenticate(at(base.Add(time.Second)), "ghost", "whatever1", "10.0.0.9")
		s.Require().NoError(err)
		s.Equal(LoginTemporarilyLocked, res.Status)
	})

	s.Run("a different IP is unaffected", func() {
		res, err := s.service.Authenticate(at(base), "ghost", "whatever1", "10.0.0.10")
		s.Require().NoError(err)
		s.Equal(LoginInvalidCredentials, res.Status)
	})
}

func (s *ServiceSuite) TestSuccessResetsFailures() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s.provision("clerk", "hunter2abc", false)

	for n := 0; n < 2; n++ {
		_, err := s.service.Authenticate(at(base), "clerk", "wrong", "10.0.0.1")
		s.Require().NoError(err)
	}

	res, err := s.service.Authenticate(at(base), "clerk", "hunter2abc", "10.0.0.1")
	s.Require().NoError(err)
	s.Equal(LoginSuccess, res.Status)

	// The streak starts over: two more failures do not lock.
	for n := 0; n < 2; n++ {
		res, err = s.service.Authenticate(at(base), "clerk", "wrong", "10.0.0.1")
		s.Require().NoError(err)
	}
	s.Equal(LoginInvalidCredentials, res.Status)
	s.Equal(1, res.RemainingAttempts)
}

func (s *ServiceSuite) TestChangePassword() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("clears the forced-change flag and stamps the change", func() {
		s.provision("newbie", "temporal9x", true)

		s.Require().NoError(s.service.ChangePassword(at(base), "newbie", "temporal9x", "definitivo7"))

		account, err := s.service.Get(context.Background(), "newbie")
		s.Require().NoError(err)
		s.False(account.MustChangePassword)
		s.Require().NotNil(account.PasswordChangedAt)
		s.Equal(base, *account.PasswordChangedAt)

		res, err := s.service.Authenticate(at(base), "newbie", "definitivo7", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
		s.False(res.MustChangePassword)
	})

	s.Run("clears a permanent lock", func() {
		s.provision("locked", "secreta22", false)
		s.lockPermanently("locked", base)
		res, err := s.service.Authenticate(at(base), "locked", "secreta22", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginPermanentlyLocked, res.Status)

		s.Require().NoError(s.service.ChangePassword(at(base), "locked", "secreta22", "renovada33"))

		res, err = s.service.Authenticate(at(base), "locked", "renovada33", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
	})

	s.Run("rejects a wrong current password", func() {
		s.provision("other", "actual123", false)
		err := s.service.ChangePassword(at(base), "other", "nope", "renovada33")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("rejects reusing the current password", func() {
		err := s.service.ChangePassword(at(base), "other", "actual123", "actual123")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("enforces the password policy", func() {
		err := s.service.ChangePassword(at(base), "other", "actual123", "corta1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestProvisioning() {
	ctx := context.Background()
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("create issues a policy-compliant provisional password", func() {
		account, temp, err := s.service.CreateAccount(at(base), "Ana María", "ana.maria")
		s.Require().NoError(err)
		s.True(account.MustChangePassword)
		s.Require().NotNil(account.TempPasswordIssuedAt)
		s.GreaterOrEqual(len(temp), MinTempPasswordLength)

		res, err := s.service.Authenticate(at(base), "ana.maria", temp, "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
		s.True(res.MustChangePassword)
	})

	s.Run("duplicate usernames conflict", func() {
		_, _, err := s.service.CreateAccount(at(base), "Otra Ana", "ana.maria")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("reset issues a new provisional password and unlocks", func() {
		s.provision("resetme", "olvidada1", false)
		s.lockPermanently("resetme", base)

		temp, err := s.service.ResetPassword(at(base), "resetme")
		s.Require().NoError(err)

		res, err := s.service.Authenticate(at(base), "resetme", temp, "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
		s.True(res.MustChangePassword)
	})

	s.Run("unlock clears a permanent lock without touching the password", func() {
		s.provision("stuck", "miclave77", false)
		s.lockPermanently("stuck", base)

		s.Require().NoError(s.service.Unlock(ctx, "stuck"))

		res, err := s.service.Authenticate(at(base), "stuck", "miclave77", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
	})

	s.Run("set-password installs the password directly", func() {
		s.provision("direct", "inicial55", false)
		s.Require().NoError(s.service.SetPassword(at(base), "direct", "escogida88"))

		res, err := s.service.Authenticate(at(base), "direct", "escogida88", "10.0.0.1")
		s.Require().NoError(err)
		s.Equal(LoginSuccess, res.Status)
		s.False(res.MustChangePassword)
	})

	s.Run("delete removes the account", func() {
		s.provision("gone", "temporal1", false)
		s.Require().NoError(s.service.DeleteAccount(ctx, "gone"))

		_, err := s.service.Get(ctx, "gone")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
