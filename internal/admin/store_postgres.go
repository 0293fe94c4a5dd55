package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cabildo/internal/lockout"
)

const uniqueViolation = "23505"

// PostgresStore persists operator accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, name, username, password_hash, must_change_password,
	temp_password_issued_at, password_changed_at, last_login_at,
	failed_attempts, lockouts_count, lock_until, permanently_locked, created_at`

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	query := `
		INSERT INTO admin_accounts (name, username, password_hash, must_change_password, temp_password_issued_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		a.Name, a.Username, a.PasswordHash, a.MustChangePassword, a.TempPasswordIssuedAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create admin account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, a *Account) error {
	query := `
		UPDATE admin_accounts
		SET name = $2, username = $3, password_hash = $4, must_change_password = $5,
			temp_password_issued_at = $6, password_changed_at = $7, last_login_at = $8,
			failed_attempts = $9, lockouts_count = $10, lock_until = $11, permanently_locked = $12
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		a.ID, a.Name, a.Username, a.PasswordHash, a.MustChangePassword,
		a.TempPasswordIssuedAt, a.PasswordChangedAt, a.LastLoginAt,
		a.FailedAttempts, a.LockoutsCount, a.LockUntil, a.PermanentlyLocked,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update admin account: %w", err)
	}
	return requireRow(result, "update admin account")
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM admin_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete admin account: %w", err)
	}
	return requireRow(result, "delete admin account")
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM admin_accounts WHERE id = $1`, accountColumns)
	return scanAccountRow(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM admin_accounts WHERE username = $1`, accountColumns)
	return scanAccountRow(s.db.QueryRowContext(ctx, query, username))
}

func (s *PostgresStore) List(ctx context.Context) ([]*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM admin_accounts ORDER BY id`, accountColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list admin accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin accounts: %w", err)
	}
	return accounts, nil
}

func (s *PostgresStore) GetLock(ctx context.Context, username string) (*lockout.State, error) {
	query := `
		SELECT failed_attempts, lockouts_count, lock_until, permanently_locked
		FROM admin_accounts
		WHERE username = $1
	`
	state, err := scanLockState(s.db.QueryRowContext(ctx, query, username), username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account lock state: %w", err)
	}
	return state, nil
}

// ExecuteLock serializes concurrent lock mutations of one account with
// SELECT ... FOR UPDATE.
func (s *PostgresStore) ExecuteLock(ctx context.Context, username string, mutate func(*lockout.State) error) (*lockout.State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin account lock execute: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		SELECT failed_attempts, lockouts_count, lock_until, permanently_locked
		FROM admin_accounts
		WHERE username = $1
		FOR UPDATE
	`
	state, err := scanLockState(tx.QueryRowContext(ctx, query, username), username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock account row: %w", err)
	}

	if err := mutate(state); err != nil {
		return nil, err
	}

	update := `
		UPDATE admin_accounts
		SET failed_attempts = $2, lockouts_count = $3, lock_until = $4, permanently_locked = $5
		WHERE username = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		username, state.FailedAttempts, state.LockoutsCount, state.LockUntil, state.Permanent,
	); err != nil {
		return nil, fmt.Errorf("update account lock state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit account lock execute: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) ClearLock(ctx context.Context, username string) error {
	query := `
		UPDATE admin_accounts
		SET failed_attempts = 0, lockouts_count = 0, lock_until = NULL, permanently_locked = FALSE
		WHERE username = $1
	`
	result, err := s.db.ExecContext(ctx, query, username)
	if err != nil {
		return fmt.Errorf("clear account lock state: %w", err)
	}
	return requireRow(result, "clear account lock state")
}

func scanAccountRow(row *sql.Row) (*Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin account: %w", err)
	}
	return a, nil
}

type accountRow interface {
	Scan(dest ...any) error
}

func scanAccount(row accountRow) (*Account, error) {
	var a Account
	var tempIssued, pwChanged, lastLogin, lockUntil sql.NullTime
	if err := row.Scan(
		&a.ID, &a.Name, &a.Username, &a.PasswordHash, &a.MustChangePassword,
		&tempIssued, &pwChanged, &lastLogin,
		&a.FailedAttempts, &a.LockoutsCount, &lockUntil, &a.PermanentlyLocked, &a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.TempPasswordIssuedAt = nullTimePtr(tempIssued)
	a.PasswordChangedAt = nullTimePtr(pwChanged)
	a.LastLoginAt = nullTimePtr(lastLogin)
	a.LockUntil = nullTimePtr(lockUntil)
	return &a, nil
}

func scanLockState(row accountRow, username string) (*lockout.State, error) {
	state := &lockout.State{Key: username}
	var lockUntil sql.NullTime
	if err := row.Scan(&state.FailedAttempts, &state.LockoutsCount, &lockUntil, &state.Permanent); err != nil {
		return nil, err
	}
	if lockUntil.Valid {
		t := lockUntil.Time.UTC()
		state.LockUntil = &t
	}
	return state, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func requireRow(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
