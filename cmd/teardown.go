package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/provisioner"
	"clusterswarm/internal/provisioning"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var teardownRunID string

// teardownCmd represents the teardown command
var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Destroy the clusters of a persisted run",
	Long: `Load the cluster records of a run from etcd and destroy every cluster that may
still exist on the management platform. Nodes of custom-host and imported
clusters are owned by the process that created them and are not deleted here.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg, closeStore := loadRun(ctx, cfg, teardownRunID)
		defer closeStore()

		var providers []cluster.Provider
		seen := map[cluster.Provider]bool{}
		for _, rec := range reg.Snapshot().Active() {
			if !seen[rec.Request.Provider] {
				seen[rec.Request.Provider] = true
				providers = append(providers, rec.Request.Provider)
			}
		}

		adapters := provisioning.NewDetachedAdapters(newAPI(cfg), providers)
		result := provisioner.New(adapters, reg, cfg.Provisioner).Teardown(ctx)

		fmt.Printf("Destroyed %d of %d clusters\n", result.Destroyed, result.Attempted)
		for _, f := range result.Failures {
			fmt.Printf("  %s (%s): %v\n", f.Cluster, f.ExternalID, f.Err)
		}
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)

	teardownCmd.Flags().StringVar(&teardownRunID, "run", "", "Run ID (required)")
	if err := teardownCmd.MarkFlagRequired("run"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}
