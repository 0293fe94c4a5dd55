package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cabildo/internal/admin"
	"cabildo/internal/certificate"
	"cabildo/internal/citizen"
	"cabildo/internal/lockout"
	"cabildo/internal/ratelimit"
	httptransport "cabildo/internal/transport/http"
	"cabildo/internal/verification"
)

type RouterSuite struct {
	suite.Suite

	handler  http.Handler
	citizens *citizen.Service
	admins   *admin.Service
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.build(100)
}

// build wires a full router over in-memory stores. loginLimit controls the
// per-IP login window so one test can exercise the limiter.
func (s *RouterSuite) build(loginLimit int) {
	citizenStore := citizen.NewMemoryStore()
	certStore := certificate.NewMemoryStore()

	citizens, err := citizen.New(citizenStore, citizen.WithCertificateCounter(certStore))
	s.Require().NoError(err)

	adminStore := admin.NewMemoryStore()
	accountPolicy := lockout.Policy{
		MaxAttempts: 3,
		BaseLock:    5 * time.Minute,
		Multiplier:  2,
		MaxLock:     time.Hour,
		PermaAfter:  2,
	}
	accounts, err := lockout.New("admin_accounts", admin.NewLockStore(adminStore), accountPolicy)
	s.Require().NoError(err)
	attempts, err := lockout.New("admin_attempts", lockout.NewMemoryStore(), accountPolicy)
	s.Require().NoError(err)
	admins, err := admin.New(adminStore, accounts, attempts)
	s.Require().NoError(err)

	birthdates, err := lockout.New("verification", lockout.NewMemoryStore(), lockout.Policy{
		MaxAttempts: 3,
		BaseLock:    5 * time.Minute,
		Multiplier:  2,
	})
	s.Require().NoError(err)
	verif, err := verification.New(citizens, birthdates, verification.NewTokenIssuer("test-secret"), 10*time.Minute)
	s.Require().NoError(err)

	certs, err := certificate.New(certStore, citizens, time.UTC)
	s.Require().NoError(err)

	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), loginLimit, time.Minute)
	s.Require().NoError(err)

	handler, err := httptransport.NewRouter(httptransport.Config{
		Citizens:     citizens,
		Verification: verif,
		Certificates: certs,
		Admins:       admins,
		Sessions:     admin.NewSessions("test-secret", time.Hour),
		LoginLimiter: limiter,
	})
	s.Require().NoError(err)

	s.handler = handler
	s.citizens = citizens
	s.admins = admins
}

func (s *RouterSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:4040"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) payload(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (s *RouterSuite) seedCitizen(name, docType, number string, birth *time.Time) *citizen.Citizen {
	c, err := s.citizens.Register(context.Background(), citizen.RegisterInput{
		FullName:       name,
		DocumentType:   docType,
		DocumentNumber: number,
		BirthDate:      birth,
		Active:         true,
	})
	s.Require().NoError(err)
	return c
}

// seedOperator provisions an account with a known password and no forced
// change pending.
func (s *RouterSuite) seedOperator(name, username, password string) {
	_, _, err := s.admins.CreateAccount(context.Background(), name, username)
	s.Require().NoError(err)
	s.Require().NoError(s.admins.SetPassword(context.Background(), username, password))
}

func (s *RouterSuite) login(username, password string) map[string]string {
	rec := s.do(http.MethodPost, "/api/admin/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	token := s.payload(rec)["token"].(string)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *RouterSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestVerifyUnknownDocument() {
	rec := s.do(http.MethodPost, "/api/verify", map[string]string{
		"document_type":   "CC",
		"document_number": "99999999",
	}, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(false, s.payload(rec)["success"])
}

func (s *RouterSuite) TestVerifyWithoutBirthdateIssuesToken() {
	s.seedCitizen("Ana Torres", "CC", "10020030", nil)

	rec := s.do(http.MethodPost, "/api/verify", map[string]string{
		"document_type":   "cc",
		"document_number": "10.020.030",
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	body := s.payload(rec)
	s.NotEmpty(body["token"])
	s.EqualValues(600, body["token_expires_in"])

	cit := body["citizen"].(map[string]any)
	s.Equal("Ana Torres", cit["full_name"])
	s.Equal("********030", cit["document_number_masked"])
}

func (s *RouterSuite) TestBirthdateChallengeFlow() {
	birth := time.Date(1988, 3, 9, 0, 0, 0, 0, time.UTC)
	s.seedCitizen("Pedro Lara", "TI", "55667788", &birth)

	doc := map[string]string{"document_type": "TI", "document_number": "55667788"}

	rec := s.do(http.MethodPost, "/api/verify", doc, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(true, s.payload(rec)["requires_birthdate"])

	wrong := map[string]string{
		"document_type":   "TI",
		"document_number": "55667788",
		"birth_date":      "1990-01-01",
	}
	rec = s.do(http.MethodPost, "/api/verify/birthdate", wrong, nil)
	s.Require().Equal(http.StatusForbidden, rec.Code)
	s.EqualValues(2, s.payload(rec)["remaining_attempts"])

	right := map[string]string{
		"document_type":   "TI",
		"document_number": "55667788",
		"birth_date":      "1988-03-09",
	}
	rec = s.do(http.MethodPost, "/api/verify/birthdate", right, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.NotEmpty(s.payload(rec)["token"])
}

func (s *RouterSuite) TestBirthdateLockout() {
	birth := time.Date(1970, 12, 1, 0, 0, 0, 0, time.UTC)
	s.seedCitizen("Lucía Prieto", "CC", "44556677", &birth)

	wrong := map[string]string{
		"document_type":   "CC",
		"document_number": "44556677",
		"birth_date":      "2000-01-01",
	}
	s.do(http.MethodPost, "/api/verify/birthdate", wrong, nil)
	s.do(http.MethodPost, "/api/verify/birthdate", wrong, nil)

	rec := s.do(http.MethodPost, "/api/verify/birthdate", wrong, nil)
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)
	s.EqualValues(300, s.payload(rec)["retry_after_seconds"])
	s.Equal("300", rec.Header().Get("Retry-After"))

	// The lock also blocks restarting the flow.
	rec = s.do(http.MethodPost, "/api/verify", map[string]string{
		"document_type":   "CC",
		"document_number": "44556677",
	}, nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)
}

func (s *RouterSuite) TestIssueAndReuse() {
	s.seedCitizen("Ana Torres", "CC", "10020030", nil)

	rec := s.do(http.MethodPost, "/api/verify", map[string]string{
		"document_type":   "CC",
		"document_number": "10020030",
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	token := s.payload(rec)["token"].(string)

	rec = s.do(http.MethodPost, "/api/certificates/issue", map[string]string{"token": token}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	first := s.payload(rec)
	s.Equal(false, first["reused"])
	code := first["code"].(string)
	s.Regexp(`^CIP\d{18}$`, code)

	rec = s.do(http.MethodPost, "/api/certificates/issue", map[string]string{"token": token}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	second := s.payload(rec)
	s.Equal(true, second["reused"])
	s.Equal(code, second["code"])
}

func (s *RouterSuite) TestIssueRejectsGarbageToken() {
	rec := s.do(http.MethodPost, "/api/certificates/issue", map[string]string{"token": "not-a-token"}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestValidateAndDownload() {
	s.seedCitizen("Ana Torres", "CC", "10020030", nil)
	code := s.issueViaWeb("CC", "10020030")

	rec := s.do(http.MethodGet, "/api/certificates/"+code, nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	cert := s.payload(rec)["certificate"].(map[string]any)
	s.Equal(code, cert["code"])
	s.Equal("standard", cert["kind"])
	s.EqualValues(0, cert["download_count"])

	// No PDF renderer configured, so the download serves metadata and still
	// counts.
	rec = s.do(http.MethodGet, "/api/certificates/"+code+"/download", nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	cert = s.payload(rec)["certificate"].(map[string]any)
	s.EqualValues(1, cert["download_count"])

	rec = s.do(http.MethodGet, "/api/certificates/CIP00000000000000000000", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) issueViaWeb(docType, number string) string {
	rec := s.do(http.MethodPost, "/api/verify", map[string]string{
		"document_type":   docType,
		"document_number": number,
	}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	token := s.payload(rec)["token"].(string)

	rec = s.do(http.MethodPost, "/api/certificates/issue", map[string]string{"token": token}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	return s.payload(rec)["code"].(string)
}

func (s *RouterSuite) TestAdminLogin() {
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")

	s.Run("wrong password is generic", func() {
		rec := s.do(http.MethodPost, "/api/admin/login", map[string]string{
			"username": "lmesa",
			"password": "nope-nope",
		}, nil)
		s.Require().Equal(http.StatusUnauthorized, rec.Code)
		body := s.payload(rec)
		s.Equal("invalid username or password", body["message"])
		s.EqualValues(2, body["remaining_attempts"])
	})

	s.Run("unknown user looks the same", func() {
		rec := s.do(http.MethodPost, "/api/admin/login", map[string]string{
			"username": "ghost",
			"password": "whatever1",
		}, nil)
		s.Require().Equal(http.StatusUnauthorized, rec.Code)
		s.Equal("invalid username or password", s.payload(rec)["message"])
	})

	s.Run("valid credentials issue a session", func() {
		rec := s.do(http.MethodPost, "/api/admin/login", map[string]string{
			"username": "LMesa",
			"password": "Operador1Seguro",
		}, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		body := s.payload(rec)
		s.NotEmpty(body["token"])
		s.Equal("lmesa", body["username"])
		s.Equal(false, body["must_change_password"])
	})
}

func (s *RouterSuite) TestAdminLoginLockout() {
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")

	bad := map[string]string{"username": "lmesa", "password": "wrong-pass1"}
	s.do(http.MethodPost, "/api/admin/login", bad, nil)
	s.do(http.MethodPost, "/api/admin/login", bad, nil)

	// Third failure starts the lock; the response stays generic but carries
	// the wait.
	rec := s.do(http.MethodPost, "/api/admin/login", bad, nil)
	s.Require().Equal(http.StatusUnauthorized, rec.Code)
	s.EqualValues(300, s.payload(rec)["retry_after_seconds"])

	rec = s.do(http.MethodPost, "/api/admin/login", bad, nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)

	// The right password does not bypass an active lock.
	rec = s.do(http.MethodPost, "/api/admin/login", map[string]string{
		"username": "lmesa",
		"password": "Operador1Seguro",
	}, nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)
}

func (s *RouterSuite) TestLoginRateLimiter() {
	s.build(2)
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")

	bad := map[string]string{"username": "lmesa", "password": "wrong-pass1"}
	s.do(http.MethodPost, "/api/admin/login", bad, nil)
	s.do(http.MethodPost, "/api/admin/login", bad, nil)

	rec := s.do(http.MethodPost, "/api/admin/login", bad, nil)
	s.Require().Equal(http.StatusTooManyRequests, rec.Code)
	s.Contains(s.payload(rec)["message"], "too many login attempts")
}

func (s *RouterSuite) TestAdminEndpointsRequireSession() {
	rec := s.do(http.MethodGet, "/api/admin/me", nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/certificates", map[string]string{"document_number": "10020030"}, map[string]string{
		"Authorization": "Bearer bogus",
	})
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestForcedPasswordChangeGate() {
	_, temp, err := s.admins.CreateAccount(context.Background(), "Nuevo Operador", "nuevo")
	s.Require().NoError(err)

	headers := s.login("nuevo", temp)

	rec := s.do(http.MethodGet, "/api/admin/me", nil, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(true, s.payload(rec)["must_change_password"])

	rec = s.do(http.MethodPost, "/api/admin/citizens/validate", map[string]string{"document_number": "10020030"}, headers)
	s.Require().Equal(http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/password", map[string]string{
		"current_password": temp,
		"new_password":     "Definitiva1Clave",
	}, headers)
	s.Require().Equal(http.StatusOK, rec.Code)

	s.seedCitizen("Ana Torres", "CC", "10020030", nil)
	rec = s.do(http.MethodPost, "/api/admin/citizens/validate", map[string]string{"document_number": "10020030"}, headers)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestAdminValidateCitizen() {
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")
	headers := s.login("lmesa", "Operador1Seguro")

	s.seedCitizen("Ana Torres", "CC", "10020030", nil)
	s.seedCitizen("Otro Tocayo", "TI", "10020030", nil)

	s.Run("single match", func() {
		s.seedCitizen("Solo Uno", "RC", "77788899", nil)
		rec := s.do(http.MethodPost, "/api/admin/citizens/validate", map[string]string{"document_number": "77788899"}, headers)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Equal("Solo Uno", s.payload(rec)["citizen"].(map[string]any)["full_name"])
	})

	s.Run("ambiguous number conflicts", func() {
		rec := s.do(http.MethodPost, "/api/admin/citizens/validate", map[string]string{"document_number": "10020030"}, headers)
		s.Equal(http.StatusConflict, rec.Code)
	})

	s.Run("no match", func() {
		rec := s.do(http.MethodPost, "/api/admin/citizens/validate", map[string]string{"document_number": "00000111"}, headers)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *RouterSuite) TestAdminIssueChannelsAreIndependent() {
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")
	headers := s.login("lmesa", "Operador1Seguro")
	s.seedCitizen("Ana Torres", "CC", "10020030", nil)

	webCode := s.issueViaWeb("CC", "10020030")

	rec := s.do(http.MethodPost, "/api/admin/certificates", map[string]string{"document_number": "10020030"}, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.payload(rec)
	s.Equal(false, body["reused"])
	s.NotEqual(webCode, body["code"])

	rec = s.do(http.MethodPost, "/api/admin/certificates", map[string]string{"document_number": "10020030"}, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(true, s.payload(rec)["reused"])
}

func (s *RouterSuite) TestAdminIssueSpecial() {
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")
	headers := s.login("lmesa", "Operador1Seguro")
	s.seedCitizen("Ana Torres", "CC", "10020030", nil)

	rec := s.do(http.MethodPost, "/api/admin/certificates/special", map[string]string{
		"document_number": "10020030",
		"text":            "  certifica   que\nparticipó  en la jornada  ",
	}, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.payload(rec)
	s.Equal("Certifica que participó en la jornada", body["custom_text"])

	// Never reused, even on the same day.
	rec = s.do(http.MethodPost, "/api/admin/certificates/special", map[string]string{
		"document_number": "10020030",
		"text":            "Certifica que participó en la jornada",
	}, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.NotEqual(body["code"], s.payload(rec)["code"])
}

func (s *RouterSuite) TestAdminListCertificates() {
	s.seedOperator("Laura Mesa", "lmesa", "Operador1Seguro")
	headers := s.login("lmesa", "Operador1Seguro")
	s.seedCitizen("Ana Torres", "CC", "10020030", nil)

	s.do(http.MethodPost, "/api/admin/certificates", map[string]string{"document_number": "10020030"}, headers)

	rec := s.do(http.MethodGet, "/api/admin/certificates?limit=10", nil, headers)
	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.payload(rec)
	items := body["certificates"].([]any)
	s.Require().Len(items, 1)

	item := items[0].(map[string]any)
	s.Equal("admin", item["channel"])
	s.Equal("203.0.113.7", item["requester_ip"])
	s.Contains(item["user_agent"], "Chrome")
}
