package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/hubspoke/cmd/hubspoke/handlers"
)

// Token returns the token command group for managing the Hetzner API token.
func Token() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the Hetzner Cloud API token in the OS keychain",
		Long: `The Hetzner Cloud token is read from HCLOUD_TOKEN, the configuration
file or the OS keychain, in that order.`,
	}

	var token string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store the token, prompting when --token is not given",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.TokenSet(cmd.Context(), token)
		},
	}
	set.Flags().StringVar(&token, "token", "", "Token value (prompted when empty)")

	cmd.AddCommand(set)
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored token",
		RunE: func(_ *cobra.Command, _ []string) error {
			return handlers.TokenDelete()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show where the token is read from",
		RunE: func(_ *cobra.Command, _ []string) error {
			return handlers.TokenStatus()
		},
	})

	return cmd
}
