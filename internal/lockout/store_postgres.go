package lockout

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists lockout state in PostgreSQL. The store is pure I/O;
// escalation rules live in the Ledger.
//
// The table name is a compile-time constant chosen by the caller (the admin
// and birthdate ledgers use separate tables with the same shape), never user
// input.
type PostgresStore struct {
	db    *sql.DB
	table string
}

func NewPostgresStore(db *sql.DB, table string) *PostgresStore {
	return &PostgresStore{db: db, table: table}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*State, error) {
	query := fmt.Sprintf(`
		SELECT lock_key, failed_attempts, lockouts_count, lock_until, permanently_locked, updated_at
		FROM %s
		WHERE lock_key = $1
	`, s.table)
	state, err := scanState(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get lockout state: %w", err)
	}
	return state, nil
}

// Execute serializes concurrent mutations of the same key with
// SELECT ... FOR UPDATE inside a transaction. The row is created on first use.
func (s *PostgresStore) Execute(ctx context.Context, key string, mutate func(*State) error) (*State, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lockout execute: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insert := fmt.Sprintf(`
		INSERT INTO %s (lock_key, failed_attempts, lockouts_count, lock_until, permanently_locked, updated_at)
		VALUES ($1, 0, 0, NULL, FALSE, NOW())
		ON CONFLICT (lock_key) DO NOTHING
	`, s.table)
	if _, err := tx.ExecContext(ctx, insert, key); err != nil {
		return nil, fmt.Errorf("ensure lockout row: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT lock_key, failed_attempts, lockouts_count, lock_until, permanently_locked, updated_at
		FROM %s
		WHERE lock_key = $1
		FOR UPDATE
	`, s.table)
	state, err := scanState(tx.QueryRowContext(ctx, query, key))
	if err != nil {
		return nil, fmt.Errorf("lock lockout row: %w", err)
	}

	if err := mutate(state); err != nil {
		return nil, err
	}

	update := fmt.Sprintf(`
		UPDATE %s
		SET failed_attempts = $2, lockouts_count = $3, lock_until = $4, permanently_locked = $5, updated_at = $6
		WHERE lock_key = $1
	`, s.table)
	if _, err := tx.ExecContext(ctx, update,
		state.Key,
		state.FailedAttempts,
		state.LockoutsCount,
		state.LockUntil,
		state.Permanent,
		state.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update lockout state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lockout execute: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Clear(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE lock_key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("clear lockout state: %w", err)
	}
	return nil
}

type stateRow interface {
	Scan(dest ...any) error
}

func scanState(row stateRow) (*State, error) {
	var state State
	var lockUntil sql.NullTime
	var updatedAt sql.NullTime
	if err := row.Scan(&state.Key, &state.FailedAttempts, &state.LockoutsCount, &lockUntil, &state.Permanent, &updatedAt); err != nil {
		return nil, err
	}
	if lockUntil.Valid {
		t := lockUntil.Time.UTC()
		state.LockUntil = &t
	}
	if updatedAt.Valid {
		state.UpdatedAt = updatedAt.Time.UTC()
	}
	return &state, nil
}
