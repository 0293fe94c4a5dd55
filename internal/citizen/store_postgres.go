package citizen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresStore persists citizens in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const citizenColumns = `id, public_id, full_name, document_type, document_number, birth_date, active, created_at`

func (s *PostgresStore) Create(ctx context.Context, c *Citizen) error {
	if c.PublicID == uuid.Nil {
		c.PublicID = uuid.New()
	}
	query := `
		INSERT INTO citizens (public_id, full_name, document_type, document_number, birth_date, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		c.PublicID, c.FullName, c.DocumentType, c.DocumentNumber, c.BirthDate, c.Active,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create citizen: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, c *Citizen) error {
	query := `
		UPDATE citizens
		SET full_name = $2, document_type = $3, document_number = $4, birth_date = $5, active = $6
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		c.ID, c.FullName, c.DocumentType, c.DocumentNumber, c.BirthDate, c.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update citizen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update citizen rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM citizens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete citizen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete citizen rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Citizen, error) {
	query := fmt.Sprintf(`SELECT %s FROM citizens WHERE id = $1`, citizenColumns)
	return scanCitizenRow(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*Citizen, error) {
	query := fmt.Sprintf(`SELECT %s FROM citizens WHERE public_id = $1`, citizenColumns)
	return scanCitizenRow(s.db.QueryRowContext(ctx, query, publicID))
}

func (s *PostgresStore) GetByDocument(ctx context.Context, docType DocumentType, number string) (*Citizen, error) {
	query := fmt.Sprintf(`SELECT %s FROM citizens WHERE document_type = $1 AND document_number = $2`, citizenColumns)
	return scanCitizenRow(s.db.QueryRowContext(ctx, query, docType, number))
}

func (s *PostgresStore) FindActiveByNumber(ctx context.Context, number string) ([]*Citizen, error) {
	query := fmt.Sprintf(`SELECT %s FROM citizens WHERE active AND document_number = $1 ORDER BY id`, citizenColumns)
	rows, err := s.db.QueryContext(ctx, query, number)
	if err != nil {
		return nil, fmt.Errorf("find citizens by number: %w", err)
	}
	defer rows.Close()
	return collectCitizens(rows)
}

func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]*Citizen, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM citizens ORDER BY id OFFSET $1 LIMIT $2`, citizenColumns)
	rows, err := s.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list citizens: %w", err)
	}
	defer rows.Close()
	return collectCitizens(rows)
}

func scanCitizenRow(row *sql.Row) (*Citizen, error) {
	c, err := scanCitizen(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get citizen: %w", err)
	}
	return c, nil
}

type citizenRow interface {
	Scan(dest ...any) error
}

func scanCitizen(row citizenRow) (*Citizen, error) {
	var c Citizen
	var birthDate sql.NullTime
	if err := row.Scan(&c.ID, &c.PublicID, &c.FullName, &c.DocumentType, &c.DocumentNumber, &birthDate, &c.Active, &c.CreatedAt); err != nil {
		return nil, err
	}
	if birthDate.Valid {
		t := birthDate.Time
		c.BirthDate = &t
	}
	return &c, nil
}

func collectCitizens(rows *sql.Rows) ([]*Citizen, error) {
	var citizens []*Citizen
	for rows.Next() {
		c, err := scanCitizen(rows)
		if err != nil {
			return nil, fmt.Errorf("scan citizen: %w", err)
		}
		citizens = append(citizens, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citizens: %w", err)
	}
	return citizens, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
