package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agroops/agrohub/hub/internal/tenancy"
)

func newInviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Invite an email to an organization and print the accept link",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			by, _ := cmd.Flags().GetString("as")
			return withAdmin(cmd, func(ctx context.Context, env *adminEnv) error {
				issued, err := env.svc.Invitations.Invite(ctx, tenancy.InviteInput{TenantID: tenantID, Email: email, Role: role}, by)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Invitation %s for %s (%s)\n", issued.Invitation.ID, issued.Invitation.Email, issued.Invitation.Role.Label())
				_, _ = fmt.Fprintf(out, "Expires: %s\n", issued.Invitation.ExpiresAt.Format("2006-01-02 15:04 MST"))
				_, _ = fmt.Fprintf(out, "Link:    %s\n", issued.AcceptURL)
				return nil
			})
		},
	}
	cmd.Flags().String("tenant", "", "organization ID")
	cmd.Flags().String("email", "", "email to invite")
	cmd.Flags().String("role", "campo", "admin, campo, empaque or finanzas")
	cmd.Flags().String("as", "", "user ID of an owner or admin of the organization")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("as")

	cmd.AddCommand(newInviteListCmd())
	return cmd
}

func newInviteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the invitations of an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			by, _ := cmd.Flags().GetString("as")
			return withAdmin(cmd, func(ctx context.Context, env *adminEnv) error {
				invs, err := env.svc.Invitations.ListInvitations(ctx, tenantID, by)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), invs)
			})
		},
	}
	cmd.Flags().String("tenant", "", "organization ID")
	cmd.Flags().String("as", "", "user ID of an owner or admin of the organization")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}
