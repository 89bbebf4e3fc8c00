package cmd

import (
	"context"
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// versionsCmd represents the versions command
var versionsCmd = &cobra.Command{
	Use:   "versions <provider>",
	Short: "Print the Kubernetes versions a deploy would use",
	Long: `Resolve the version policy configured for a provider (rke, rke_import, eks,
aks, gke) and print one version per line.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := cluster.ParseProvider(args[0])
		if err != nil {
			logging.Logger().Fatal("Invalid provider", zap.Error(err))
		}

		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		ctx := context.Background()
		gke, err := newGKEService(ctx, cfg, p == cluster.ProviderGKE)
		if err != nil {
			logging.Logger().Fatal("Failed to create GKE client", zap.Error(err))
		}
		versions, err := newCatalog(cfg, newAPI(cfg), gke)
		if err != nil {
			logging.Logger().Fatal("Failed to build version catalog", zap.Error(err))
		}

		list, err := versions.Versions(ctx, p)
		if err != nil {
			logging.Logger().Fatal("Failed to resolve versions", zap.String("provider", string(p)), zap.Error(err))
		}
		for _, v := range list {
			fmt.Println(v)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
