// Package commands implements the haio-client CLI.
package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/haio-cloud/haio-client/pkg/fault"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// ErrConfiguration marks startup failures caused by configuration. The
// process exits with code 2 for these.
var ErrConfiguration = errors.New("configuration error")

// rootCmd represents the base command. Called without a subcommand it behaves
// like "haio-client run".
var rootCmd = &cobra.Command{
	Use:   "haio-client",
	Short: "Haio client - mount object-storage buckets as local folders",
	Long: `haio-client keeps your Haio object-storage buckets mounted as local
folders. It authenticates against the storage endpoint, supervises the mount
agent per bucket, reconciles the bucket list with the server, and can install
per-bucket auto-mount entries that survive reboots.

Use "haio-client [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRun,
}

// Execute runs the CLI. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HAIO_CONFIG_DIR/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// ExitCode maps an Execute error to the documented process exit codes:
// 0 success, 2 configuration error, 3 mount agent missing, 4 elevation
// denied for a required operation.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfiguration):
		return 2
	case fault.IsKind(err, fault.AgentNotFound):
		return 3
	case fault.IsKind(err, fault.PersistUserCancelled),
		fault.IsKind(err, fault.PersistElevationFailed):
		return 4
	default:
		return 1
	}
}
