package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/domain"
)

func newTokenCommand() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <subject-id>",
		Short: "Issue an admin API bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadBase()
			if err != nil {
				return err
			}
			r := domain.Role(role)
			if r != domain.RoleAgent && r != domain.RoleAdmin {
				return fmt.Errorf("role must be agent or admin, got %q", role)
			}
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(args[0], r)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleAgent), "token role (agent or admin)")
	return cmd
}
