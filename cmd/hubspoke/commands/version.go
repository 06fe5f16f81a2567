package commands

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/imamik/hubspoke/cmd/hubspoke/handlers"
)

// Build metadata, injected through ldflags in main.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo sets the version information from main.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// buildInfo is what the version command reports. The HTTP API reports the
// same version string on /healthz.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuiltAt   string `json:"built_at"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func currentBuild() buildInfo {
	b := buildInfo{
		Version:   version,
		Commit:    commit,
		BuiltAt:   date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	// go install builds carry no ldflags; fall back to the embedded VCS stamp.
	if b.Commit == "none" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					b.Commit = s.Value
				}
			}
		}
	}
	return b
}

// Version returns the version command.
func Version() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the hubspoke build",
		Long: `Print the hubspoke release, the commit it was built from and the Go
toolchain used. Include this output when reporting a failed spoke
deployment or rollback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := currentBuild()
			out := cmd.OutOrStdout()
			if output == handlers.OutputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(b)
			}
			_, err := fmt.Fprintf(out, "hubspoke %s (%s)\n  commit: %s\n  built:  %s by %s\n",
				b.Version, b.Platform, b.Commit, b.BuiltAt, b.GoVersion)
			return err
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}
