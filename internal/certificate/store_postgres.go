package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// dailyUniqueIndex is the partial unique index enforcing one standard
// certificate per (citizen, channel, kind, local day).
const dailyUniqueIndex = "certificates_daily_unique"

// PostgresStore persists certificates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const certificateColumns = `id, code, citizen_id, kind, channel, custom_text, day_key,
	created_at, download_count, downloaded_at, requester_ip, user_agent`

func (s *PostgresStore) Create(ctx context.Context, cert *Certificate) error {
	query := `
		INSERT INTO certificates (code, citizen_id, kind, channel, custom_text, day_key, created_at, requester_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		cert.Code, cert.CitizenID, cert.Kind, cert.Channel, cert.CustomText,
		cert.DayKey, cert.CreatedAt, cert.RequesterIP, cert.UserAgent,
	).Scan(&cert.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if strings.Contains(pqErr.Constraint, dailyUniqueIndex) {
				return ErrDuplicateDaily
			}
			return ErrDuplicateCode
		}
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*Certificate, error) {
	query := fmt.Sprintf(`SELECT %s FROM certificates WHERE code = $1`, certificateColumns)
	return scanCertificateRow(s.db.QueryRowContext(ctx, query, code))
}

func (s *PostgresStore) FindDaily(ctx context.Context, citizenID int64, channel Channel, kind Kind, dayKey string) (*Certificate, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM certificates
		WHERE citizen_id = $1 AND channel = $2 AND kind = $3 AND day_key = $4
		ORDER BY created_at DESC
		LIMIT 1
	`, certificateColumns)
	return scanCertificateRow(s.db.QueryRowContext(ctx, query, citizenID, channel, kind, dayKey))
}

func (s *PostgresStore) RegisterDownload(ctx context.Context, code string, now time.Time) (*Certificate, error) {
	query := fmt.Sprintf(`
		UPDATE certificates
		SET download_count = download_count + 1, downloaded_at = $2
		WHERE code = $1
		RETURNING %s
	`, certificateColumns)
	return scanCertificateRow(s.db.QueryRowContext(ctx, query, code, now))
}

func (s *PostgresStore) CountForCitizen(ctx context.Context, citizenID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates WHERE citizen_id = $1`, citizenID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]*Certificate, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM certificates
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`, certificateColumns)
	rows, err := s.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return certs, nil
}

func scanCertificateRow(row *sql.Row) (*Certificate, error) {
	cert, err := scanCertificate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return cert, nil
}

type certificateRow interface {
	Scan(dest ...any) error
}

func scanCertificate(row certificateRow) (*Certificate, error) {
	var cert Certificate
	var customText sql.NullString
	var dayKey sql.NullString
	var downloadedAt sql.NullTime
	var requesterIP, userAgent sql.NullString
	if err := row.Scan(
		&cert.ID, &cert.Code, &cert.CitizenID, &cert.Kind, &cert.Channel,
		&customText, &dayKey, &cert.CreatedAt, &cert.DownloadCount, &downloadedAt,
		&requesterIP, &userAgent,
	); err != nil {
		return nil, err
	}
	cert.CustomText = customText.String
	if dayKey.Valid {
		d := dayKey.String
		cert.DayKey = &d
	}
	if downloadedAt.Valid {
		t := downloadedAt.Time.UTC()
		cert.DownloadedAt = &t
	}
	cert.RequesterIP = requesterIP.String
	cert.UserAgent = userAgent.String
	return &cert, nil
}
