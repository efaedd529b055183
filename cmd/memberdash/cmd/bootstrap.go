package cmd

import (
	"context"
	"fmt"
	"os"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	"memberdash/internal/core/services"
	"memberdash/internal/infrastructure/backend"
	"memberdash/pkg/validation"

	"github.com/spf13/cobra"
)

var (
	bootstrapEmail    string
	bootstrapPassword string
	bootstrapName     string
)

// bootstrapCmd provisions the first admin. Nobody can sign in to create
// one through the API until it exists.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Provision the first admin member",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bootstrapPassword == "" {
			bootstrapPassword = os.Getenv("MEMBERDASH_ADMIN_PASSWORD")
		}
		if err := validation.ValidateCreateMember(validation.CreateMemberRequest{
			Email:           bootstrapEmail,
			Password:        bootstrapPassword,
			ConfirmPassword: bootstrapPassword,
			Name:            bootstrapName,
			Role:            string(domain.RoleAdmin),
			Status:          string(domain.StatusActive),
		}); err != nil {
			return fmt.Errorf("invalid admin: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		zapLogger, log := newLogger(cfg)
		defer zapLogger.Sync()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Provisioning.CallTimeout*4)
		defer cancel()

		clients, err := backend.NewClientFactory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer clients.Close()

		allowAll := ports.AuthorizerFunc(func(*domain.Session, string) error { return nil })
		svcCfg := memberServiceConfig(cfg)
		members := services.NewMemberService(clients, allowAll, nil, nil, nil, log, svcCfg)

		permission, err := members.Create(ctx, domain.AnonymousSession(), domain.CreateMemberInput{
			Email:    bootstrapEmail,
			Password: bootstrapPassword,
			Name:     bootstrapName,
			Role:     domain.RoleAdmin,
			Status:   domain.StatusActive,
		})
		if err != nil {
			return err
		}

		log.Infow("Admin provisioned", "member_id", permission.MemberID, "email", bootstrapEmail)
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "admin email")
	bootstrapCmd.Flags().StringVar(&bootstrapPassword, "password", "", "admin password (or MEMBERDASH_ADMIN_PASSWORD)")
	bootstrapCmd.Flags().StringVar(&bootstrapName, "name", "Administrator", "admin display name")
	_ = bootstrapCmd.MarkFlagRequired("email")
}
