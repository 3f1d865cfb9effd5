package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"todokeep/internal/credentials"
)

// newTokenCmd manages the bearer token the gateway sends to the origin.
func newTokenCmd(stdout, stderr io.Writer, opts *Options) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the origin bearer token",
		Long:  "Store, inspect, or remove the bearer token the caching gateway attaches to origin requests.",
	}
	tokenCmd.AddCommand(newTokenSetCmd(stdout, opts))
	tokenCmd.AddCommand(newTokenStatusCmd(stdout, opts))
	tokenCmd.AddCommand(newTokenClearCmd(stdout, opts))
	return tokenCmd
}

func tokenManager(cmd *cobra.Command, opts *Options) (*credentials.Manager, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	return credentials.NewManager(cfg.CredentialsService), nil
}

func newTokenSetCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Store the origin token in the system keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := tokenManager(cmd, opts)
			if err != nil {
				return err
			}
			if err := mgr.Store(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Token stored")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTokenStatusCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the origin token would be resolved from",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := tokenManager(cmd, opts)
			if err != nil {
				return err
			}
			_, info, err := mgr.Token()
			if err != nil {
				return err
			}
			if info.Source == credentials.SourceNone {
				_, _ = fmt.Fprintln(stdout, "No token configured; origin requests are unauthenticated")
				return nil
			}
			_, _ = fmt.Fprintf(stdout, "Token source: %s (service %s)\n", info.Source, info.Service)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newTokenClearCmd(stdout io.Writer, opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored origin token",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := tokenManager(cmd, opts)
			if err != nil {
				return err
			}
			if err := mgr.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(stdout, "Token cleared")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}
