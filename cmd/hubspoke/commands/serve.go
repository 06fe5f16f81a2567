package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/hubspoke/cmd/hubspoke/handlers"
)

// Serve returns the serve command.
func Serve() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the spoke HTTP API",
		Long: `Serve exposes spoke provisioning over HTTP.

Endpoints:
  POST   /spokes           create a spoke
  GET    /spokes           list deployments
  GET    /spokes/{id}      deployment record, progress and rollback state
  DELETE /spokes/{id}      remove a spoke
  GET    /spokes/stats     deployment statistics
  GET    /spokes/next-id   next free spoke id
  GET    /healthz          liveness
  GET    /metrics          Prometheus metrics

On SIGINT or SIGTERM the listener stops and running rollbacks are given
time to finish.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Serve(cmd.Context(), globals, addr, version)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from configuration)")

	return cmd
}
