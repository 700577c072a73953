package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for agrohub.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "agrohub",
		Short: "AgroHub - multi-tenant core for agricultural operations",
		Long:  "AgroHub manages organizations, their members and invitations, and enforces plan limits.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
		// Bare invocation (no subcommand) behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newTenantCmd())
	root.AddCommand(newInviteCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file with AGROHUB_* overrides (ignored when missing)")
	root.Flags().Bool("demo", false, "run with an in-memory store and a generated secret")

	return root
}

// loadEnvFile loads path into the environment without overriding variables that
// are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
