package citizen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "cabildo/pkg/domain-errors"
)

// CertificateCounter reports how many certificates a citizen has. The
// certificate store implements it; the registry uses it for delete
// protection.
type CertificateCounter interface {
	CountForCitizen(ctx context.Context, citizenID int64) (int, error)
}

// Service exposes the registry operations.
type Service struct {
	store  Store
	certs  CertificateCounter
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithCertificateCounter(counter CertificateCounter) Option {
	return func(s *Service) {
		s.certs = counter
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("citizen store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lookup resolves a public verification request. Inactive and unknown
// citizens are indistinguishable to the caller.
func (s *Service) Lookup(ctx context.Context, docType, rawNumber string) (*Citizen, error) {
	dt, err := ParseDocumentType(docType)
	if err != nil {
		return nil, err
	}
	number, err := NormalizeDocumentNumber(rawNumber)
	if err != nil {
		return nil, err
	}

	c, err := s.store.GetByDocument(ctx, dt, number)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no registry entry matches the document")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up citizen")
	}
	if !c.Active {
		return nil, dErrors.New(dErrors.CodeNotFound, "no registry entry matches the document")
	}
	return c, nil
}

// LookupByNumber resolves an admin issuance request by bare document number.
// More than one active match is an error the operator has to disambiguate.
func (s *Service) LookupByNumber(ctx context.Context, rawNumber string) (*Citizen, error) {
	number, err := NormalizeDocumentNumber(rawNumber)
	if err != nil {
		return nil, err
	}

	matches, err := s.store.FindActiveByNumber(ctx, number)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up citizen")
	}
	switch len(matches) {
	case 0:
		return nil, dErrors.New(dErrors.CodeNotFound, "no registry entry matches the document")
	case 1:
		return matches[0], nil
	default:
		return nil, dErrors.New(dErrors.CodeConflict, "document number matches more than one entry; use document type and number")
	}
}

// Resolve maps a public id back to an active citizen. Deactivated citizens
// are reported as missing, matching Lookup.
func (s *Service) Resolve(ctx context.Context, publicID uuid.UUID) (*Citizen, error) {
	c, err := s.store.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no registry entry matches the document")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve citizen")
	}
	if !c.Active {
		return nil, dErrors.New(dErrors.CodeNotFound, "no registry entry matches the document")
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Citizen, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "citizen not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get citizen")
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, offset, limit int) ([]*Citizen, error) {
	citizens, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list citizens")
	}
	return citizens, nil
}

// RegisterInput is the payload for creating or updating a registry entry.
type RegisterInput struct {
	FullName       string
	DocumentType   string
	DocumentNumber string
	BirthDate      *time.Time
	Active         bool
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*Citizen, error) {
	c, err := buildCitizen(input)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, dErrors.New(dErrors.CodeConflict, "a citizen with that document already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register citizen")
	}

	s.logger.InfoContext(ctx, "citizen_registered",
		"citizen_id", c.ID,
		"document_type", c.DocumentType,
	)
	return c, nil
}

func (s *Service) Update(ctx context.Context, id int64, input RegisterInput) (*Citizen, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := buildCitizen(input)
	if err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.PublicID = existing.PublicID
	updated.CreatedAt = existing.CreatedAt

	if err := s.store.Update(ctx, updated); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, dErrors.New(dErrors.CodeConflict, "a citizen with that document already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update citizen")
	}
	return updated, nil
}

// Deactivate hides the citizen from public lookups without losing history.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	c.Active = false
	if err := s.store.Update(ctx, c); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate citizen")
	}
	s.logger.InfoContext(ctx, "citizen_deactivated", "citizen_id", id)
	return nil
}

// Remove deletes a registry entry. Entries with issued certificates cannot be
// deleted; deactivate them instead so the audit trail survives.
func (s *Service) Remove(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if s.certs != nil {
		count, err := s.certs.CountForCitizen(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count certificates")
		}
		if count > 0 {
			return dErrors.New(dErrors.CodeConflict, "citizen has issued certificates; deactivate instead of deleting")
		}
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete citizen")
	}
	s.logger.InfoContext(ctx, "citizen_deleted", "citizen_id", id)
	return nil
}

// SeedDev inserts a well-known test citizen for development runs. Existing
// entries are left alone.
func (s *Service) SeedDev(ctx context.Context) error {
	birth := time.Date(1990, 5, 14, 0, 0, 0, 0, time.UTC)
	_, err := s.Register(ctx, RegisterInput{
		FullName:       "María Fernanda Rojas",
		DocumentType:   string(DocumentCC),
		DocumentNumber: "1002003004",
		BirthDate:      &birth,
		Active:         true,
	})
	if err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
		return err
	}
	return nil
}

func buildCitizen(input RegisterInput) (*Citizen, error) {
	dt, err := ParseDocumentType(input.DocumentType)
	if err != nil {
		return nil, err
	}
	number, err := NormalizeDocumentNumber(input.DocumentNumber)
	if err != nil {
		return nil, err
	}
	c := &Citizen{
		FullName:       strings.TrimSpace(input.FullName),
		DocumentType:   dt,
		DocumentNumber: number,
		BirthDate:      input.BirthDate,
		Active:         input.Active,
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}
