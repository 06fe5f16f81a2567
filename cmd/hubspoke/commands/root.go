// Package commands defines the CLI command structure and flag bindings.
//
// Commands parse arguments and flags, then delegate to the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/hubspoke/cmd/hubspoke/handlers"
)

// globals holds the persistent flags shared by every subcommand.
var globals handlers.Options

// Root returns the root command for the hubspoke CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hubspoke",
		Short:         "Provision isolated spoke environments behind a shared hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&globals.ConfigPath, "config", "c", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&globals.Provider, "provider", "", "Cloud provider override (hcloud, memory)")
	cmd.PersistentFlags().StringVar(&globals.LogLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	// Spoke lifecycle
	cmd.AddCommand(Create())
	cmd.AddCommand(Status())
	cmd.AddCommand(List())
	cmd.AddCommand(Delete())
	cmd.AddCommand(Stats())

	// Service and utility commands
	cmd.AddCommand(Serve())
	cmd.AddCommand(Token())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}
