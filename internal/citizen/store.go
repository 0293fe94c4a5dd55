package citizen

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by stores when no citizen matches.
	ErrNotFound = errors.New("citizen not found")
	// ErrDuplicate is returned when a (document type, number) pair already
	// exists.
	ErrDuplicate = errors.New("citizen already registered")
)

// Store persists registry entries.
type Store interface {
	Create(ctx context.Context, c *Citizen) error
	Update(ctx context.Context, c *Citizen) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Citizen, error)
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (*Citizen, error)
	GetByDocument(ctx context.Context, docType DocumentType, number string) (*Citizen, error)
	// FindActiveByNumber returns every active citizen whose document number
	// matches, regardless of document type.
	FindActiveByNumber(ctx context.Context, number string) ([]*Citizen, error)
	List(ctx context.Context, offset, limit int) ([]*Citizen, error)
}
