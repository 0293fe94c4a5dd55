package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"cabildo/internal/admin"
	"cabildo/internal/certificate"
	"cabildo/internal/certificate/metrics"
	"cabildo/internal/citizen"
	"cabildo/internal/lockout"
	"cabildo/internal/platform/config"
	"cabildo/internal/platform/postgres"
	"cabildo/internal/platform/redis"
	"cabildo/internal/ratelimit"
	"cabildo/internal/verification"
)

// services bundles everything the serve and admin commands wire up.
type services struct {
	db *sql.DB

	citizens     *citizen.Service
	admins       *admin.Service
	sessions     *admin.Sessions
	verification *verification.Service
	certificates *certificate.Service
	limiter      *ratelimit.Limiter
}

func (s *services) Close() error {
	return s.db.Close()
}

// buildServices connects to PostgreSQL and assembles the service graph.
// withMetrics is off for short-lived CLI commands so the collectors are only
// registered by the long-running server.
func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger, withMetrics bool) (*services, error) {
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	certStore := certificate.NewPostgresStore(db)

	citizens, err := citizen.New(citizen.NewPostgresStore(db),
		citizen.WithLogger(logger),
		citizen.WithCertificateCounter(certStore),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	adminStore := admin.NewPostgresStore(db)
	accountLedger, err := lockout.New("admin_accounts", admin.NewLockStore(adminStore), cfg.AdminLockout,
		lockout.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	attemptLedger, err := lockout.New("admin_attempts", lockout.NewPostgresStore(db, "admin_login_attempts"), cfg.AdminLockout,
		lockout.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	admins, err := admin.New(adminStore, accountLedger, attemptLedger,
		admin.WithLogger(logger),
		admin.WithPasswordMinLength(cfg.PasswordMinLength),
		admin.WithTempPasswordLength(cfg.TempPasswordLength),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	birthdateLedger, err := lockout.New("birthdate_challenge", lockout.NewPostgresStore(db, "verification_lockouts"), cfg.BirthdateLockout,
		lockout.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}
	verif, err := verification.New(citizens, birthdateLedger,
		verification.NewTokenIssuer(cfg.SigningSecret), cfg.VerifyTokenMaxAge,
		verification.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	certOpts := []certificate.Option{
		certificate.WithLogger(logger),
		certificate.WithSpecialTextMaxLen(cfg.SpecialTextMaxLen),
	}
	if withMetrics {
		certOpts = append(certOpts, certificate.WithMetrics(metrics.New()))
	}
	certs, err := certificate.New(certStore, citizens, cfg.Location(), certOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	limiterStore, err := rateLimitStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	limiter, err := ratelimit.New(limiterStore, cfg.LoginRateLimit, cfg.LoginRateWindow,
		ratelimit.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &services{
		db:           db,
		citizens:     citizens,
		admins:       admins,
		sessions:     admin.NewSessions(cfg.SigningSecret, cfg.AdminTokenTTL),
		verification: verif,
		certificates: certs,
		limiter:      limiter,
	}, nil
}

func rateLimitStore(ctx context.Context, cfg config.Config) (ratelimit.Store, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryStore(), nil
	}
	client, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return ratelimit.NewRedisStore(client.Client), nil
}
