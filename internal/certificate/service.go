package certificate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cabildo/internal/certificate/metrics"
	"cabildo/internal/citizen"
	"cabildo/internal/platform/localday"
	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

// CitizenGetter resolves certificate owners for the validation view.
type CitizenGetter interface {
	Get(ctx context.Context, id int64) (*citizen.Citizen, error)
}

// Service is the issuance engine.
type Service struct {
	store    Store
	citizens CitizenGetter
	loc      *time.Location
	logger   *slog.Logger
	metrics  *metrics.Metrics

	specialTextMaxLen int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSpecialTextMaxLen(n int) Option {
	return func(s *Service) {
		s.specialTextMaxLen = n
	}
}

func New(store Store, citizens CitizenGetter, loc *time.Location, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("certificate store is required")
	}
	if citizens == nil {
		return nil, errors.New("citizen getter is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		store:             store,
		citizens:          citizens,
		loc:               loc,
		logger:            slog.Default(),
		specialTextMaxLen: 1200,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// IssueOrReuse returns the standard certificate of the local day for the
// citizen and channel, creating it on first request. The bool reports reuse.
func (s *Service) IssueOrReuse(ctx context.Context, c *citizen.Citizen, channel Channel) (*Certificate, bool, error) {
	now := requestcontext.Now(ctx)
	dayKey := localday.Key(now, s.loc)

	existing, err := s.store.FindDaily(ctx, c.ID, channel, KindStandard, dayKey)
	if err == nil {
		s.noteReuse(ctx, existing, channel)
		return existing, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up daily certificate")
	}

	cert := &Certificate{
		CitizenID:   c.ID,
		Kind:        KindStandard,
		Channel:     channel,
		DayKey:      &dayKey,
		CreatedAt:   now.UTC(),
		RequesterIP: requestcontext.ClientIP(ctx),
		UserAgent:   truncateUserAgent(requestcontext.UserAgent(ctx)),
	}
	created, reused, err := s.create(ctx, cert, now)
	if err != nil {
		return nil, false, err
	}
	if reused {
		s.noteReuse(ctx, created, channel)
		return created, true, nil
	}

	if s.metrics != nil {
		s.metrics.IncrementIssued(string(KindStandard), string(channel))
	}
	s.logger.InfoContext(ctx, "certificate_issued",
		"code", created.Code,
		"citizen_id", c.ID,
		"channel", channel,
		"day_key", dayKey,
	)
	return created, false, nil
}

// IssueSpecial creates a special certificate with operator-written text.
// Special certificates are never reused.
func (s *Service) IssueSpecial(ctx context.Context, c *citizen.Citizen, text string) (*Certificate, error) {
	normalized := NormalizeCustomText(text)
	if normalized == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "custom text is required")
	}
	if len([]rune(normalized)) > s.specialTextMaxLen {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "custom text exceeds %d characters", s.specialTextMaxLen)
	}

	now := requestcontext.Now(ctx)
	cert := &Certificate{
		CitizenID:   c.ID,
		Kind:        KindSpecial,
		Channel:     ChannelAdmin,
		CustomText:  normalized,
		CreatedAt:   now.UTC(),
		RequesterIP: requestcontext.ClientIP(ctx),
		UserAgent:   truncateUserAgent(requestcontext.UserAgent(ctx)),
	}
	created, _, err := s.create(ctx, cert, now)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementIssued(string(KindSpecial), string(ChannelAdmin))
	}
	s.logger.InfoContext(ctx, "certificate_issued",
		"code", created.Code,
		"citizen_id", c.ID,
		"kind", KindSpecial,
	)
	return created, nil
}

// create inserts the certificate under a fresh code, retrying code collisions
// with a wider suffix after codeAttempts tries. Losing the daily uniqueness
// race returns the winning row and reused=true.
func (s *Service) create(ctx context.Context, cert *Certificate, now time.Time) (*Certificate, bool, error) {
	attempt := func(suffixDigits int) (bool, error) {
		code, err := newCode(now, suffixDigits)
		if err != nil {
			return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate certificate code")
		}
		cert.Code = code
		err = s.store.Create(ctx, cert)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrDuplicateCode):
			return false, nil
		default:
			return false, err
		}
	}

	for i := 0; i < codeAttempts; i++ {
		ok, err := attempt(4)
		if err != nil {
			return s.recoverDailyRace(ctx, cert, err)
		}
		if ok {
			return cert, false, nil
		}
	}

	ok, err := attempt(6)
	if err != nil {
		return s.recoverDailyRace(ctx, cert, err)
	}
	if !ok {
		return nil, false, dErrors.New(dErrors.CodeInternal, "failed to allocate a unique certificate code")
	}
	return cert, false, nil
}

// recoverDailyRace handles a lost insert race on the daily uniqueness index
// by returning the certificate the concurrent request created.
func (s *Service) recoverDailyRace(ctx context.Context, cert *Certificate, err error) (*Certificate, bool, error) {
	if !errors.Is(err, ErrDuplicateDaily) || cert.DayKey == nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store certificate")
	}
	winner, readErr := s.store.FindDaily(ctx, cert.CitizenID, cert.Channel, cert.Kind, *cert.DayKey)
	if readErr != nil {
		return nil, false, dErrors.Wrap(readErr, dErrors.CodeInternal, "failed to read concurrent certificate")
	}
	return winner, true, nil
}

// Validate resolves a certificate code for the public validation view.
func (s *Service) Validate(ctx context.Context, code string) (*Certificate, *citizen.Citizen, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, "certificate code is required")
	}

	cert, err := s.store.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if s.metrics != nil {
				s.metrics.IncrementValidations("not_found")
			}
			return nil, nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}

	owner, err := s.citizens.Get(ctx, cert.CitizenID)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementValidations("found")
	}
	return cert, owner, nil
}

// RegisterDownload records that the document behind a code was fetched.
func (s *Service) RegisterDownload(ctx context.Context, code string) (*Certificate, error) {
	now := requestcontext.Now(ctx)
	cert, err := s.store.RegisterDownload(ctx, NormalizeCode(code), now.UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to register download")
	}
	if s.metrics != nil {
		s.metrics.IncrementDownloads()
	}
	s.logger.InfoContext(ctx, "certificate_downloaded", "code", cert.Code, "downloads", cert.DownloadCount)
	return cert, nil
}

// IssuedAtLocal formats the issuance instant in the configured zone.
func (s *Service) IssuedAtLocal(cert *Certificate) string {
	return localday.Format(cert.CreatedAt, s.loc, "2006-01-02 15:04")
}

// List returns issued certificates newest first for the audit view.
func (s *Service) List(ctx context.Context, offset, limit int) ([]*Certificate, error) {
	certs, err := s.store.List(ctx, offset, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return certs, nil
}

func (s *Service) noteReuse(ctx context.Context, cert *Certificate, channel Channel) {
	if s.metrics != nil {
		s.metrics.IncrementReused(string(channel))
	}
	s.logger.InfoContext(ctx, "certificate_reused", "code", cert.Code, "channel", channel)
}
