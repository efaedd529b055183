package cmd

import (
	"fmt"
	"os"

	"memberdash/pkg/config"
	"memberdash/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memberdash",
	Short: "Member provisioning dashboard backend",
	Long: `memberdash serves the admin dashboard API that provisions members:
identity, member profile and permission row, kept in step across the
identity store and the database.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults to configs/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

// loadConfig tries the --config path first, then the usual locations.
// A missing file is not an error: defaults and env overrides still apply.
func loadConfig() (*config.Config, error) {
	paths := []string{"configs/config.yaml", "./configs/config.yaml", "config.yaml"}
	if configPath != "" {
		return config.Load(configPath)
	}

	var lastErr error
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return config.Load(paths[0])
}

func newLogger(cfg *config.Config) (*zap.Logger, *zap.SugaredLogger) {
	zapLogger := logger.New(cfg.Logging.Level)
	return zapLogger, zapLogger.Sugar()
}
