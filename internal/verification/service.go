package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cabildo/internal/citizen"
	"cabildo/internal/lockout"
	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

// CitizenDirectory is the slice of the registry this package needs.
type CitizenDirectory interface {
	Lookup(ctx context.Context, docType, number string) (*citizen.Citizen, error)
	Resolve(ctx context.Context, publicID uuid.UUID) (*citizen.Citizen, error)
}

// Status classifies the outcome of a verification step.
type Status int

const (
	// StatusTokenIssued means the flow is complete and Outcome.Token is set.
	StatusTokenIssued Status = iota
	// StatusRequiresBirthdate means the citizen has a birth date on file and
	// must answer the challenge first.
	StatusRequiresBirthdate
	// StatusLocked means the document key is under an active lock.
	StatusLocked
	// StatusMismatch means the birthdate answer was wrong; the failure has
	// been recorded.
	StatusMismatch
)

// Outcome is the result of VerifyDocument or ConfirmBirthdate.
type Outcome struct {
	Status  Status
	Citizen *citizen.Citizen

	Token          string
	TokenExpiresIn time.Duration

	// RetryAfter is set with StatusLocked, and with StatusMismatch when the
	// recorded failure just started a lock.
	RetryAfter        time.Duration
	RemainingAttempts int
}

// Service runs the public verification flow.
type Service struct {
	citizens CitizenDirectory
	ledger   *lockout.Ledger
	tokens   *TokenIssuer
	maxAge   time.Duration
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(citizens CitizenDirectory, ledger *lockout.Ledger, tokens *TokenIssuer, maxAge time.Duration, opts ...Option) (*Service, error) {
	if citizens == nil || ledger == nil || tokens == nil {
		return nil, errors.New("citizen directory, ledger, and token issuer are required")
	}
	s := &Service{
		citizens: citizens,
		ledger:   ledger,
		tokens:   tokens,
		maxAge:   maxAge,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TokenMaxAge returns the redemption window length.
func (s *Service) TokenMaxAge() time.Duration {
	return s.maxAge
}

// VerifyDocument starts the flow. Citizens without a birth date on file get a
// token immediately; the rest must answer the birthdate challenge, unless the
// document key is currently locked.
func (s *Service) VerifyDocument(ctx context.Context, docType, number string) (Outcome, error) {
	c, err := s.citizens.Lookup(ctx, docType, number)
	if err != nil {
		return Outcome{}, err
	}

	if c.HasBirthDate() {
		status, err := s.ledger.Check(ctx, lockKey(c))
		if err != nil {
			return Outcome{}, err
		}
		if status.Locked {
			return Outcome{Status: StatusLocked, RetryAfter: status.RetryAfter}, nil
		}
		return Outcome{Status: StatusRequiresBirthdate, Citizen: c}, nil
	}

	return s.issueToken(ctx, c)
}

// ConfirmBirthdate answers the challenge. A correct answer clears the lockout
// key and issues a token; a wrong one records a failure against it.
func (s *Service) ConfirmBirthdate(ctx context.Context, docType, number, birthdate string) (Outcome, error) {
	answer, err := time.Parse("2006-01-02", birthdate)
	if err != nil {
		return Outcome{}, dErrors.New(dErrors.CodeInvalidInput, "birth date must be yyyy-mm-dd")
	}

	c, err := s.citizens.Lookup(ctx, docType, number)
	if err != nil {
		return Outcome{}, err
	}
	key := lockKey(c)

	status, err := s.ledger.Check(ctx, key)
	if err != nil {
		return Outcome{}, err
	}
	if status.Locked {
		return Outcome{Status: StatusLocked, RetryAfter: status.RetryAfter}, nil
	}

	if !c.MatchesBirthDate(answer) {
		res, err := s.ledger.RecordFailure(ctx, key)
		if err != nil {
			return Outcome{}, err
		}
		s.logger.WarnContext(ctx, "birthdate_challenge_failed",
			"document_type", c.DocumentType,
			"citizen_id", c.ID,
		)
		out := Outcome{Status: StatusMismatch}
		if res.Locked {
			out.RetryAfter = res.RetryAfter
		} else {
			out.RemainingAttempts = res.RemainingAttempts
		}
		return out, nil
	}

	if err := s.ledger.RecordSuccess(ctx, key); err != nil {
		return Outcome{}, err
	}
	return s.issueToken(ctx, c)
}

// RedeemToken exchanges a verification token for the citizen it belongs to.
// Citizens deactivated after issuance are reported as missing.
func (s *Service) RedeemToken(ctx context.Context, token string) (*citizen.Citizen, error) {
	now := requestcontext.Now(ctx)
	publicID, err := s.tokens.Redeem(token, s.maxAge, now)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "verification expired; start the lookup again")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid verification token")
	}
	return s.citizens.Resolve(ctx, publicID)
}

func (s *Service) issueToken(ctx context.Context, c *citizen.Citizen) (Outcome, error) {
	now := requestcontext.Now(ctx)
	token, err := s.tokens.Issue(c.PublicID, now)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue verification token")
	}
	s.logger.InfoContext(ctx, "verification_token_issued", "citizen_id", c.ID)
	return Outcome{
		Status:         StatusTokenIssued,
		Citizen:        c,
		Token:          token,
		TokenExpiresIn: s.maxAge,
	}, nil
}

func lockKey(c *citizen.Citizen) string {
	return lockout.Key(string(c.DocumentType), c.DocumentNumber)
}
