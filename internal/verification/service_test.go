package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cabildo/internal/citizen"
	"cabildo/internal/lockout"
	dErrors "cabildo/pkg/domain-errors"
	"cabildo/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	citizens *citizen.Service
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	citizens, err := citizen.New(citizen.NewMemoryStore())
	s.Require().NoError(err)
	s.citizens = citizens

	ledger, err := lockout.New("birthdate", lockout.NewMemoryStore(), lockout.Policy{
		MaxAttempts: 3,
		BaseLock:    300 * time.Second,
		Multiplier:  2,
	})
	s.Require().NoError(err)

	svc, err := New(citizens, ledger, NewTokenIssuer("test-secret"), 300*time.Second)
	s.Require().NoError(err)
	s.service = svc
}

func at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *ServiceSuite) addCitizen(name, number string, birth *time.Time, active bool) *citizen.Citizen {
	c, err := s.citizens.Register(context.Background(), citizen.RegisterInput{
		FullName:       name,
		DocumentType:   "CC",
		DocumentNumber: number,
		BirthDate:      birth,
		Active:         active,
	})
	s.Require().NoError(err)
	return c
}

func birthOn(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func (s *ServiceSuite) TestVerifyDocument() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("citizens with a birth date must answer the challenge", func() {
		s.addCitizen("María Rojas", "1002003004", birthOn(1990, 5, 14), true)

		out, err := s.service.VerifyDocument(at(base), "CC", "1002003004")
		s.Require().NoError(err)
		s.Equal(StatusRequiresBirthdate, out.Status)
		s.Empty(out.Token)
	})

	s.Run("citizens without a birth date get a token directly", func() {
		s.addCitizen("Sin Fecha Díaz", "2002003004", nil, true)

		out, err := s.service.VerifyDocument(at(base), "CC", "2002003004")
		s.Require().NoError(err)
		s.Equal(StatusTokenIssued, out.Status)
		s.NotEmpty(out.Token)
		s.Equal(300*time.Second, out.TokenExpiresIn)
	})

	s.Run("unknown documents are not found", func() {
		_, err := s.service.VerifyDocument(at(base), "CC", "99999999")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("inactive citizens are not found", func() {
		s.addCitizen("Inactivo Gómez", "3002003004", birthOn(1985, 1, 1), false)

		_, err := s.service.VerifyDocument(at(base), "CC", "3002003004")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestConfirmBirthdate() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("correct answer issues a redeemable token", func() {
		c := s.addCitizen("María Rojas", "1002003004", birthOn(1990, 5, 14), true)

		out, err := s.service.ConfirmBirthdate(at(base), "CC", "1002003004", "1990-05-14")
		s.Require().NoError(err)
		s.Equal(StatusTokenIssued, out.Status)

		got, err := s.service.RedeemToken(at(base.Add(60*time.Second)), out.Token)
		s.Require().NoError(err)
		s.Equal(c.ID, got.ID)
	})

	s.Run("wrong answers count down and then lock", func() {
		s.addCitizen("Pedro Pérez", "2002003004", birthOn(1980, 3, 2), true)

		out, err := s.service.ConfirmBirthdate(at(base), "CC", "2002003004", "1980-03-03")
		s.Require().NoError(err)
		s.Equal(StatusMismatch, out.Status)
		s.Equal(2, out.RemainingAttempts)

		out, err = s.service.ConfirmBirthdate(at(base), "CC", "2002003004", "1980-03-03")
		s.Require().NoError(err)
		s.Equal(1, out.RemainingAttempts)

		out, err = s.service.ConfirmBirthdate(at(base), "CC", "2002003004", "1980-03-03")
		s.Require().NoError(err)
		s.Equal(StatusMismatch, out.Status)
		s.Equal(300*time.Second, out.RetryAfter)

		// While locked, even the right answer is refused.
		out, err = s.service.ConfirmBirthdate(at(base.Add(time.Minute)), "CC", "2002003004", "1980-03-02")
		s.Require().NoError(err)
		s.Equal(StatusLocked, out.Status)

		// The lock also surfaces on a fresh document lookup.
		out, err = s.service.VerifyDocument(at(base.Add(time.Minute)), "CC", "2002003004")
		s.Require().NoError(err)
		s.Equal(StatusLocked, out.Status)
		s.Equal(240*time.Second, out.RetryAfter)
	})

	s.Run("success clears the failure streak", func() {
		s.addCitizen("Ana Mora", "3002003004", birthOn(1975, 12, 30), true)

		for n := 0; n < 2; n++ {
			_, err := s.service.ConfirmBirthdate(at(base), "CC", "3002003004", "1975-12-31")
			s.Require().NoError(err)
		}
		out, err := s.service.ConfirmBirthdate(at(base), "CC", "3002003004", "1975-12-30")
		s.Require().NoError(err)
		s.Equal(StatusTokenIssued, out.Status)

		out, err = s.service.ConfirmBirthdate(at(base), "CC", "3002003004", "1975-12-31")
		s.Require().NoError(err)
		s.Equal(StatusMismatch, out.Status)
		s.Equal(2, out.RemainingAttempts)
	})

	s.Run("malformed dates are invalid input", func() {
		_, err := s.service.ConfirmBirthdate(at(base), "CC", "1002003004", "14/05/1990")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestRedeemToken() {
	base := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	s.Run("expired tokens are unauthorized", func() {
		s.addCitizen("Sin Fecha Díaz", "2002003004", nil, true)
		out, err := s.service.VerifyDocument(at(base), "CC", "2002003004")
		s.Require().NoError(err)

		_, err = s.service.RedeemToken(at(base.Add(301*time.Second)), out.Token)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("tokens survive multiple redemptions inside the window", func() {
		s.addCitizen("Repetida Luz", "4002003004", nil, true)
		out, err := s.service.VerifyDocument(at(base), "CC", "4002003004")
		s.Require().NoError(err)

		for _, offset := range []time.Duration{time.Second, 100 * time.Second, 299 * time.Second} {
			_, err := s.service.RedeemToken(at(base.Add(offset)), out.Token)
			s.NoError(err)
		}
	})

	s.Run("tokens for citizens deactivated after issuance fail", func() {
		c := s.addCitizen("Desactivada Paz", "5002003004", nil, true)
		out, err := s.service.VerifyDocument(at(base), "CC", "5002003004")
		s.Require().NoError(err)

		s.Require().NoError(s.citizens.Deactivate(context.Background(), c.ID))

		_, err = s.service.RedeemToken(at(base.Add(time.Second)), out.Token)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("garbage tokens are unauthorized", func() {
		_, err := s.service.RedeemToken(at(base), "garbage")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}
