// Package httptransport exposes the registry over JSON. Public endpoints run
// the verification and issuance flows; admin endpoints sit behind bearer
// sessions with a forced password-change gate.
package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cabildo/internal/admin"
	"cabildo/internal/certificate"
	"cabildo/internal/citizen"
	"cabildo/internal/ratelimit"
	"cabildo/internal/verification"
)

// Config carries the services the router wires up. PDF and LoginLimiter are
// optional; Logger defaults to slog.Default().
type Config struct {
	Citizens     *citizen.Service
	Verification *verification.Service
	Certificates *certificate.Service
	Admins       *admin.Service
	Sessions     *admin.Sessions
	LoginLimiter *ratelimit.Limiter
	PDF          PDFRenderer
	Logger       *slog.Logger
}

func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Citizens == nil || cfg.Verification == nil || cfg.Certificates == nil {
		return nil, errors.New("citizen, verification, and certificate services are required")
	}
	if cfg.Admins == nil || cfg.Sessions == nil {
		return nil, errors.New("admin service and sessions are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	public := &PublicHandler{
		verification: cfg.Verification,
		certificates: cfg.Certificates,
		pdf:          cfg.PDF,
		logger:       logger,
	}
	adm := &AdminHandler{
		admins:       cfg.Admins,
		sessions:     cfg.Sessions,
		citizens:     cfg.Citizens,
		certificates: cfg.Certificates,
		limiter:      cfg.LoginLimiter,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestContext)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/verify", public.Verify)
		r.Post("/verify/birthdate", public.ConfirmBirthdate)
		r.Post("/certificates/issue", public.Issue)
		r.Get("/certificates/{code}", public.Validate)
		r.Get("/certificates/{code}/download", public.Download)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", adm.Login)

			r.Group(func(r chi.Router) {
				r.Use(adm.requireSession)
				r.Get("/me", adm.Me)
				r.Post("/password", adm.ChangePassword)
				r.Post("/logout", adm.Logout)

				r.Group(func(r chi.Router) {
					r.Use(adm.requirePasswordChanged)
					r.Post("/citizens/validate", adm.ValidateCitizen)
					r.Post("/certificates", adm.IssueStandard)
					r.Post("/certificates/special", adm.IssueSpecial)
					r.Get("/certificates", adm.ListCertificates)
				})
			})
		})
	})

	return r, nil
}
