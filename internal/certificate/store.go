package certificate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no certificate matches.
	ErrNotFound = errors.New("certificate not found")
	// ErrDuplicateCode marks a collision on the code column.
	ErrDuplicateCode = errors.New("certificate code already exists")
	// ErrDuplicateDaily marks a concurrent insert that lost the daily
	// uniqueness race; the caller re-reads the winning row.
	ErrDuplicateDaily = errors.New("daily certificate already issued")
)

// Store persists certificates.
type Store interface {
	Create(ctx context.Context, cert *Certificate) error
	GetByCode(ctx context.Context, code string) (*Certificate, error)
	// FindDaily returns the standard certificate already issued for the
	// citizen, channel, and local day, or ErrNotFound.
	FindDaily(ctx context.Context, citizenID int64, channel Channel, kind Kind, dayKey string) (*Certificate, error)
	// RegisterDownload increments the download counter and stamps the
	// download instant, returning the updated record.
	RegisterDownload(ctx context.Context, code string, now time.Time) (*Certificate, error)
	CountForCitizen(ctx context.Context, citizenID int64) (int, error)
	// List returns certificates newest first for the audit view.
	List(ctx context.Context, offset, limit int) ([]*Certificate, error)
}
