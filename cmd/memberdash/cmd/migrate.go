package cmd

import (
	"context"
	"fmt"
	"time"

	"memberdash/internal/infrastructure/backend"
	"memberdash/internal/infrastructure/backend/postgres"
	"memberdash/pkg/config"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the self-hosted schema",
	Long: `Creates the identities, members and permission tables. With
row_level_security enabled on postgres it also installs the role, grants
and policies. Hosted Supabase projects manage their own schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		zapLogger, log := newLogger(cfg)
		defer zapLogger.Sync()

		if cfg.Backend.Kind != config.BackendPostgres {
			return fmt.Errorf("migrate only applies to backend.kind=%s, got %q", config.BackendPostgres, cfg.Backend.Kind)
		}

		pgCfg := backend.PostgresConfig(cfg)
		db, err := postgres.Open(pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		sqlDB, err := db.DB()
		if err == nil {
			defer sqlDB.Close()
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		if err := postgres.Migrate(ctx, db, pgCfg); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		log.Infow("Schema migrated", "driver", pgCfg.Driver, "row_level_security", pgCfg.RowLevelSecurity)
		return nil
	},
}
