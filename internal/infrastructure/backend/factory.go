package backend

import (
	"context"
	"fmt"
	"time"

	"memberdash/internal/core/ports"
	"memberdash/internal/infrastructure/backend/postgres"
	"memberdash/internal/infrastructure/backend/supabase"
	"memberdash/pkg/circuitbreaker"
	"memberdash/pkg/config"
	"memberdash/pkg/retry"

	"go.uber.org/zap"
)

// PostgresConfig translates the config section for the gorm backend.
func PostgresConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		DSN:               cfg.Backend.Postgres.DSN,
		Driver:            cfg.Backend.Postgres.Driver,
		MaxOpenConns:      cfg.Backend.Postgres.MaxOpenConns,
		RowLevelSecurity:  cfg.Backend.Postgres.RowLevelSecurity,
		AuthenticatedRole: cfg.Backend.Postgres.AuthenticatedRole,
	}
}

// NewClientFactory builds the backend named by backend.kind and waits for
// it to answer a health check. Observers see circuit breaker transitions.
func NewClientFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, observers ...func(circuitbreaker.State)) (ports.ClientFactory, error) {
	var (
		factory ports.ClientFactory
		err     error
	)

	switch cfg.Backend.Kind {
	case config.BackendSupabase:
		factory, err = newSupabase(cfg, logger, observers)
	case config.BackendPostgres:
		factory, err = newPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 5
	retryCfg.InitialDelay = 500 * time.Millisecond
	err = retry.Retry(ctx, retryCfg, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := factory.HealthCheck(pingCtx); err != nil {
			logger.Warnw("Backend not ready", "backend", cfg.Backend.Kind, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("backend %s unreachable: %w", cfg.Backend.Kind, err)
	}

	logger.Infow("Backend connected", "backend", cfg.Backend.Kind)
	return factory, nil
}

func newSupabase(cfg *config.Config, logger *zap.SugaredLogger, observers []func(circuitbreaker.State)) (ports.ClientFactory, error) {
	sb := cfg.Backend.Supabase
	var breaker *circuitbreaker.CircuitBreaker
	if cb := cfg.Backend.CircuitBreaker; cb.Enabled {
		cbCfg := circuitbreaker.DefaultConfig()
		cbCfg.FailureThreshold = cb.FailureThreshold
		cbCfg.SuccessThreshold = cb.SuccessThreshold
		cbCfg.Timeout = cb.Timeout
		breaker = supabase.NewBreaker(cbCfg, logger, observers...)
	}

	return supabase.NewClientFactory(supabase.Config{
		URL:            sb.URL,
		AnonKey:        sb.AnonKey,
		ServiceRoleKey: sb.ServiceRoleKey,
		Schema:         sb.Schema,
		Breaker:        breaker,
	})
}

func newPostgres(cfg *config.Config) (ports.ClientFactory, error) {
	pgCfg := PostgresConfig(cfg)
	db, err := postgres.Open(pgCfg)
	if err != nil {
		return nil, err
	}
	return postgres.NewClientFactory(db, pgCfg), nil
}
