package admin

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"cabildo/internal/lockout"
	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

// Service implements authentication and account provisioning.
//
// Two ledgers back the progressive lockout: accounts tracks existing accounts
// on their own rows (permanent escalation enabled), attempts tracks
// username+IP pairs so probing nonexistent usernames locks out too.
type Service struct {
	store    Store
	accounts *lockout.Ledger
	attempts *lockout.Ledger
	logger   *slog.Logger

	passwordMinLength  int
	tempPasswordLength int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPasswordMinLength(n int) Option {
	return func(s *Service) {
		s.passwordMinLength = n
	}
}

func WithTempPasswordLength(n int) Option {
	return func(s *Service) {
		s.tempPasswordLength = n
	}
}

func New(store Store, accounts, attempts *lockout.Ledger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("admin store is required")
	}
	if accounts == nil || attempts == nil {
		return nil, errors.New("both lockout ledgers are required")
	}

	s := &Service{
		store:              store,
		accounts:           accounts,
		attempts:           attempts,
		logger:             slog.Default(),
		passwordMinLength:  8,
		tempPasswordLength: 12,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate verifies operator credentials. The returned result carries
// everything the transport needs; it never errors on bad credentials, only on
// infrastructure failures.
func (s *Service) Authenticate(ctx context.Context, username, password, ip string) (LoginResult, error) {
	username = NormalizeUsername(username)
	if username == "" || password == "" {
		return LoginResult{Status: LoginInvalidInput}, nil
	}

	account, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.failUnknownUser(ctx, username, ip)
		}
		return LoginResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}

	status, err := s.accounts.Check(ctx, username)
	if err != nil {
		return LoginResult{}, err
	}
	switch {
	case status.Permanent:
		return LoginResult{Status: LoginPermanentlyLocked}, nil
	case status.Locked:
		return LoginResult{Status: LoginTemporarilyLocked, RetryAfter: status.RetryAfter}, nil
	}

	if !CheckPassword(account.PasswordHash, password) {
		res, err := s.accounts.RecordFailure(ctx, username)
		if err != nil {
			return LoginResult{}, err
		}
		s.logger.WarnContext(ctx, "admin_login_failed", "username", username, "ip", ip)
		return failureResult(res), nil
	}

	if err := s.accounts.RecordSuccess(ctx, username); err != nil {
		return LoginResult{}, err
	}
	// A prior unknown-user streak for this pair must not survive a valid
	// login.
	if err := s.attempts.RecordSuccess(ctx, lockout.Key(username, ip)); err != nil {
		return LoginResult{}, err
	}

	// Mirror the cleared ledger state so the full-row Update does not write
	// the pre-login counters back. A permanently locked account never reaches
	// this path, so the flag is left as loaded.
	now := requestcontext.Now(ctx)
	account.LastLoginAt = &now
	account.FailedAttempts = 0
	account.LockoutsCount = 0
	account.LockUntil = nil
	if err := s.store.Update(ctx, account); err != nil {
		return LoginResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record login")
	}

	s.logger.InfoContext(ctx, "admin_login_succeeded", "username", username)
	return LoginResult{
		Status:             LoginSuccess,
		Account:            account,
		MustChangePassword: account.MustChangePassword,
	}, nil
}

// failUnknownUser records the failure against the username+IP ledger so the
// response timing and lockout behavior match the existing-account path.
func (s *Service) failUnknownUser(ctx context.Context, username, ip string) (LoginResult, error) {
	key := lockout.Key(username, ip)

	status, err := s.attempts.Check(ctx, key)
	if err != nil {
		return LoginResult{}, err
	}
	switch {
	case status.Permanent:
		return LoginResult{Status: LoginPermanentlyLocked}, nil
	case status.Locked:
		return LoginResult{Status: LoginTemporarilyLocked, RetryAfter: status.RetryAfter}, nil
	}

	res, err := s.attempts.RecordFailure(ctx, key)
	if err != nil {
		return LoginResult{}, err
	}
	s.logger.WarnContext(ctx, "admin_login_failed", "username", username, "ip", ip, "known_account", false)
	return failureResult(res), nil
}

func failureResult(res lockout.Result) LoginResult {
	out := LoginResult{Status: LoginInvalidCredentials}
	switch {
	case res.Permanent:
		out.LockedNow = true
		out.Permanent = true
	case res.Locked:
		out.LockedNow = true
		out.RetryAfter = res.RetryAfter
	default:
		out.RemainingAttempts = res.RemainingAttempts
	}
	return out
}

// ChangePassword verifies the current password and installs a new one. It
// clears the forced-change flag and every lockout mark, including a permanent
// one (the original operator flow unlocks accounts this way).
func (s *Service) ChangePassword(ctx context.Context, username, current, next string) error {
	username = NormalizeUsername(username)
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return err
	}

	if !CheckPassword(account.PasswordHash, current) {
		return dErrors.New(dErrors.CodeUnauthorized, "current password is incorrect")
	}
	if current == next {
		return dErrors.New(dErrors.CodeInvalidInput, "new password must differ from the current one")
	}
	if err := ValidatePassword(next, s.passwordMinLength); err != nil {
		return err
	}

	hash, err := HashPassword(next)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	account.PasswordHash = hash
	account.MustChangePassword = false
	account.PasswordChangedAt = &now
	account.FailedAttempts = 0
	account.LockoutsCount = 0
	account.LockUntil = nil
	account.PermanentlyLocked = false
	if err := s.store.Update(ctx, account); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
	}

	s.logger.InfoContext(ctx, "admin_password_changed", "username", username)
	return nil
}

// CreateAccount provisions a new operator with a generated provisional
// password, returned once to the caller and never stored in the clear.
func (s *Service) CreateAccount(ctx context.Context, name, username string) (*Account, string, error) {
	username = NormalizeUsername(username)
	if strings.TrimSpace(name) == "" || username == "" {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "name and username are required")
	}

	temp, err := GenerateTempPassword(s.tempPasswordLength)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate password")
	}
	hash, err := HashPassword(temp)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	account := &Account{
		Name:                 strings.TrimSpace(name),
		Username:             username,
		PasswordHash:         hash,
		MustChangePassword:   true,
		TempPasswordIssuedAt: &now,
	}
	if err := s.store.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, "", dErrors.New(dErrors.CodeConflict, "username already taken")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
	}

	s.logger.InfoContext(ctx, "admin_account_created", "username", username)
	return account, temp, nil
}

// ResetPassword issues a fresh provisional password and unlocks the account.
func (s *Service) ResetPassword(ctx context.Context, username string) (string, error) {
	username = NormalizeUsername(username)
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return "", err
	}

	temp, err := GenerateTempPassword(s.tempPasswordLength)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate password")
	}
	hash, err := HashPassword(temp)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	account.PasswordHash = hash
	account.MustChangePassword = true
	account.TempPasswordIssuedAt = &now
	account.FailedAttempts = 0
	account.LockoutsCount = 0
	account.LockUntil = nil
	account.PermanentlyLocked = false
	if err := s.store.Update(ctx, account); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
	}

	s.logger.InfoContext(ctx, "admin_password_reset", "username", username)
	return temp, nil
}

// SetPassword installs an operator-chosen password directly (CLI use).
func (s *Service) SetPassword(ctx context.Context, username, password string) error {
	username = NormalizeUsername(username)
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return err
	}
	if err := ValidatePassword(password, s.passwordMinLength); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	account.PasswordHash = hash
	account.MustChangePassword = false
	account.PasswordChangedAt = &now
	if err := s.store.Update(ctx, account); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
	}

	s.logger.InfoContext(ctx, "admin_password_set", "username", username)
	return nil
}

// Unlock clears the lockout state of an account, including a permanent lock.
func (s *Service) Unlock(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	if _, err := s.getAccount(ctx, username); err != nil {
		return err
	}
	if err := s.accounts.Reset(ctx, username); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "admin_account_unlocked", "username", username)
	return nil
}

// UpdateName changes the display name of an account.
func (s *Service) UpdateName(ctx context.Context, username, name string) error {
	username = NormalizeUsername(username)
	if strings.TrimSpace(name) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return err
	}
	account.Name = strings.TrimSpace(name)
	if err := s.store.Update(ctx, account); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
	}
	return nil
}

// DeleteAccount removes an operator account.
func (s *Service) DeleteAccount(ctx context.Context, username string) error {
	username = NormalizeUsername(username)
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, account.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete account")
	}
	s.logger.InfoContext(ctx, "admin_account_deleted", "username", username)
	return nil
}

// Get returns one account by username.
func (s *Service) Get(ctx context.Context, username string) (*Account, error) {
	return s.getAccount(ctx, NormalizeUsername(username))
}

// List returns all accounts ordered by id.
func (s *Service) List(ctx context.Context) ([]*Account, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list accounts")
	}
	return accounts, nil
}

func (s *Service) getAccount(ctx context.Context, username string) (*Account, error) {
	account, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return account, nil
}
