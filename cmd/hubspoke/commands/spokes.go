package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/imamik/hubspoke/cmd/hubspoke/handlers"
	"github.com/imamik/hubspoke/internal/spoke"
)

// Create returns the create command.
func Create() *cobra.Command {
	var in spoke.Input
	var output string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new spoke",
		Long: `Create provisions an isolated spoke for a client.

The workflow creates the spoke network and subnets, the network interface,
the instance and its disk, peers the spoke with the hub and registers the
instance as a backend pool on the gateway. Progress is persisted after
every step.

When a step fails, every resource created so far is removed again in
reverse order and the command waits for that rollback to finish.

Example:
  hubspoke create --client acme
  hubspoke create --id 12 --client acme --size cx32 --ssh-key "$(cat ~/.ssh/id_ed25519.pub)"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Create(cmd.Context(), globals, in, output)
		},
	}

	cmd.Flags().IntVar(&in.SpokeID, "id", 0, "Spoke id (1-254, default: next free id)")
	cmd.Flags().StringVar(&in.ClientName, "client", "", "Client name (required)")
	cmd.Flags().StringVar(&in.InstanceSize, "size", "", "Instance size (default from configuration)")
	cmd.Flags().StringVar(&in.AdminUsername, "admin", "", "Admin user created on the instance")
	cmd.Flags().StringVar(&in.PublicKey, "ssh-key", "", "SSH public key authorized for the admin user")
	addOutputFlag(cmd, &output)
	_ = cmd.MarkFlagRequired("client")

	return cmd
}

// Status returns the status command.
func Status() *cobra.Command {
	var live bool
	var output string

	cmd := &cobra.Command{
		Use:   "status <spoke-id>",
		Short: "Show the deployment record of a spoke",
		Long: `Status prints the stored deployment record of a spoke including every
workflow step and recorded errors.

With --live the provider is queried for the current state of the network,
interface, instance, peerings and backend pool.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpokeID(args[0])
			if err != nil {
				return err
			}
			return handlers.Status(cmd.Context(), globals, id, live, output)
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "Query the provider for the live resource state")
	addOutputFlag(cmd, &output)

	return cmd
}

// List returns the list command.
func List() *cobra.Command {
	var status string
	var limit int
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spoke deployments, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.List(cmd.Context(), globals, status, limit, output)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show deployments with this status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of deployments to show (0 = all)")
	addOutputFlag(cmd, &output)

	return cmd
}

// Delete returns the delete command.
func Delete() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <spoke-id>",
		Short: "Remove a spoke and all of its resources",
		Long: `Delete removes the backend pool, peerings, instance, disk, network
interface and network of a spoke, in that order.

The deployment record is removed only when every resource is gone. If a
resource cannot be deleted the record is kept with status rollback_failed
and the command can be run again.

WARNING: This operation is irreversible.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSpokeID(args[0])
			if err != nil {
				return err
			}
			return handlers.Delete(cmd.Context(), globals, id, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// Stats returns the stats command.
func Stats() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize stored deployments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Stats(cmd.Context(), globals, output)
		},
	}
	addOutputFlag(cmd, &output)

	return cmd
}

func addOutputFlag(cmd *cobra.Command, output *string) {
	cmd.Flags().StringVarP(output, "output", "o", handlers.OutputTable, "Output format (table, json)")
}

func parseSpokeID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid spoke id %q: must be a number", arg)
	}
	if id < spoke.MinSpokeID || id > spoke.MaxSpokeID {
		return 0, fmt.Errorf("invalid spoke id %d: must be between %d and %d", id, spoke.MinSpokeID, spoke.MaxSpokeID)
	}
	return id, nil
}
