package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/agroops/agrohub/hub/internal/tenancy"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage organizations from the command line",
	}
	cmd.AddCommand(newTenantCreateCmd(), newTenantListCmd(), newTenantLimitsCmd(), newTenantPlanCmd())
	return cmd
}

func newTenantCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization owned by --owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			slug, _ := cmd.Flags().GetString("slug")
			plan, _ := cmd.Flags().GetString("plan")
			owner, _ := cmd.Flags().GetString("owner")
			return withAdmin(cmd, func(ctx context.Context, env *adminEnv) error {
				t, err := env.svc.Tenants.CreateTenant(ctx, tenancy.CreateTenantInput{Name: name, Slug: slug, Plan: plan}, owner)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().String("name", "", "organization name")
	cmd.Flags().String("slug", "", "unique identifier (a-z, 0-9, '-')")
	cmd.Flags().String("plan", "basic", "basic, professional or enterprise")
	cmd.Flags().String("owner", "", "user ID of the owner")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the organizations a user belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			return withAdmin(cmd, func(ctx context.Context, env *adminEnv) error {
				tenants, err := env.svc.Tenants.ListTenantsForUser(ctx, user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tenants)
			})
		},
	}
	cmd.Flags().String("user", "", "user ID")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newTenantLimitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits <tenant-id>",
		Short: "Show plan limits and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(ctx context.Context, env *adminEnv) error {
				limits, err := env.svc.Tenants.GetLimits(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), limits)
			})
		},
	}
}

func newTenantPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <tenant-id> <plan>",
		Short: "Change the plan of an organization on behalf of an owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, _ := cmd.Flags().GetString("as")
			return withAdmin(cmd, func(ctx context.Context, env *adminEnv) error {
				t, err := env.svc.Tenants.ChangePlan(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().String("as", "", "user ID of an owner of the organization")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}
