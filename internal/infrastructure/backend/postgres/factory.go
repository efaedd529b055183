package postgres

import (
	"context"
	"fmt"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"

	"gorm.io/gorm"
)

type client struct {
	identities ports.IdentityStore
	members    ports.MemberStore
}

func (c *client) Identities() ports.IdentityStore { return c.identities }
func (c *client) Members() ports.MemberStore      { return c.members }

// ClientFactory serves both client variants from one connection pool.
type ClientFactory struct {
	db         *gorm.DB
	cfg        Config
	identities *IdentityStore
	privileged *client
}

func NewClientFactory(db *gorm.DB, cfg Config) *ClientFactory {
	identities := NewIdentityStore(db, cfg.BcryptCost)
	return &ClientFactory{
		db:         db,
		cfg:        cfg,
		identities: identities,
		privileged: &client{
			identities: identities,
			members:    &MemberStore{run: directRunner(db)},
		},
	}
}

func (f *ClientFactory) Privileged() ports.BackendClient {
	return f.privileged
}

// ForSession returns a client that can only sign in on the identity side.
// Table access goes through row level security when it is enabled.
func (f *ClientFactory) ForSession(session *domain.Session) ports.BackendClient {
	run := directRunner(f.db)
	if f.cfg.RowLevelSecurity && f.db.Dialector.Name() == DriverPostgres {
		run = rlsRunner(f.db, roleName(f.cfg), session)
	}
	return &client{
		identities: scopedIdentityStore{store: f.identities},
		members:    &MemberStore{run: run},
	}
}

func (f *ClientFactory) HealthCheck(ctx context.Context) error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", classify(err))
	}
	return nil
}

func (f *ClientFactory) Close() error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.ClientFactory = (*ClientFactory)(nil)
