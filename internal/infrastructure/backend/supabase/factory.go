package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	"memberdash/pkg/circuitbreaker"

	"go.uber.org/zap"
)

type Config struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	Schema         string
	HTTPClient     *http.Client

	// Breaker guards every call of the factory's clients. Nil disables it.
	Breaker *circuitbreaker.CircuitBreaker
}

// NewBreaker builds a breaker that only counts outages and server errors.
func NewBreaker(cfg circuitbreaker.Config, logger *zap.SugaredLogger, observers ...func(circuitbreaker.State)) *circuitbreaker.CircuitBreaker {
	cfg.IsFailure = isBackendFailure
	cb := circuitbreaker.New(cfg)
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		if logger != nil {
			logger.Warnw("Supabase circuit breaker state changed", "from", from.String(), "to", to.String())
		}
		for _, observe := range observers {
			observe(to)
		}
	})
	return cb
}

type client struct {
	identities ports.IdentityStore
	members    ports.MemberStore
}

func (c *client) Identities() ports.IdentityStore { return c.identities }
func (c *client) Members() ports.MemberStore      { return c.members }

type ClientFactory struct {
	anon       *transport
	service    *transport
	identities *IdentityStore
	privileged *client
	httpClient *http.Client
}

func NewClientFactory(cfg Config) (*ClientFactory, error) {
	if cfg.URL == "" || cfg.AnonKey == "" || cfg.ServiceRoleKey == "" {
		return nil, errors.New("supabase url, anon key and service role key are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	base := transport{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		schema:  cfg.Schema,
		http:    httpClient,
		breaker: cfg.Breaker,
	}

	anon := base
	anon.apiKey = cfg.AnonKey
	anon.bearer = cfg.AnonKey

	service := base
	service.apiKey = cfg.ServiceRoleKey
	service.bearer = cfg.ServiceRoleKey

	identities := &IdentityStore{admin: &service, public: &anon}
	return &ClientFactory{
		anon:       &anon,
		service:    &service,
		identities: identities,
		privileged: &client{
			identities: identities,
			members:    &MemberStore{rest: &service},
		},
		httpClient: httpClient,
	}, nil
}

func (f *ClientFactory) Privileged() ports.BackendClient {
	return f.privileged
}

// ForSession sends the caller's access token so PostgREST applies the
// table policies for that user. Anonymous callers use the anon key.
func (f *ClientFactory) ForSession(session *domain.Session) ports.BackendClient {
	rest := f.anon
	if !session.IsAnonymous() && session.AccessToken != "" {
		rest = f.anon.withBearer(session.AccessToken)
	}
	return &client{
		identities: scopedIdentityStore{store: f.identities},
		members:    &MemberStore{rest: rest},
	}
}

func (f *ClientFactory) HealthCheck(ctx context.Context) error {
	if err := f.anon.do(ctx, request{method: http.MethodGet, path: authPrefix + "/health"}, nil); err != nil {
		return fmt.Errorf("supabase health check failed: %w", err)
	}
	return nil
}

func (f *ClientFactory) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}

var _ ports.ClientFactory = (*ClientFactory)(nil)
