package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agroops/agrohub/hub/internal/auth"
	"github.com/agroops/agrohub/hub/internal/config"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the builtin secret (development and scripts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cmd, nil, defaultConfigPath))
			if err != nil {
				return err
			}
			if cfg.Auth.Provider != "builtin" {
				return fmt.Errorf("tokens can only be issued by the builtin provider, config uses %q", cfg.Auth.Provider)
			}
			userID, _ := cmd.Flags().GetString("user-id")
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")

			svc := auth.NewService(cfg.Auth)
			tok, err := svc.IssueToken(auth.Identity{UserID: userID, Email: email, Name: name})
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("user-id", "", "subject of the token (default: a new UUID)")
	cmd.Flags().String("email", "", "email claim")
	cmd.Flags().String("name", "", "display name claim")
	return cmd
}
