package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clusterswarm",
	Short: "Provision test clusters across providers",
	Long: `clusterswarm provisions Kubernetes clusters on several providers through a
cluster-management platform, one cluster per supported version, and writes
the names and versions of the clusters it created for downstream test jobs.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
