// Command costsync runs the OCI cost and inventory synchronizer.
//
// `costsync serve` starts the scheduler and the HTTP operations surface.
// The other subcommands run one job to completion and print its report as
// JSON, which is useful from cron or when debugging a single user.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zgpcy/oci-cost-sync/internal/version"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "costsync",
		Short:         "Synchronize OCI costs, inventory and utilization into a durable store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional KEY=VALUE file loaded before the configuration")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a resource or metrics sync once",
	}
	syncCmd.AddCommand(newSyncResourcesCmd(opts), newSyncMetricsCmd(opts))

	root.AddCommand(
		newServeCmd(opts),
		syncCmd,
		newRolloverCmd(opts),
		newSweepCmd(opts),
		newCostsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
