package cmd

import (
	"context"
	"fmt"
	"os"

	"clusterswarm/internal/config"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/registry"
	"clusterswarm/internal/report"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reportRunID string

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rebuild the report of a persisted run",
	Long:  `Load the cluster records of a run from etcd and write the env and details files again.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		reg, closeStore := loadRun(context.Background(), cfg, reportRunID)
		defer closeStore()

		rep := report.FromSnapshot(reg.Snapshot())
		rep.Log()
		if err := rep.WriteEnvFile(cfg.Report.EnvFile); err != nil {
			logging.Logger().Fatal("Failed to write env file", zap.Error(err))
		}
		if err := rep.WriteDetails(cfg.Report.DetailsFile); err != nil {
			logging.Logger().Fatal("Failed to write details file", zap.Error(err))
		}
		if !rep.Success {
			closeStore()
			_ = logging.Sync()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportRunID, "run", "", "Run ID (required)")
	if err := reportCmd.MarkFlagRequired("run"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}

// loadRun rebuilds the registry of runID from etcd. The returned func closes
// the etcd client.
func loadRun(ctx context.Context, cfg *config.Config, runID string) (*registry.Registry, func()) {
	cli := connectEtcd(ctx, cfg)
	if cli == nil {
		logging.Logger().Fatal("a reachable etcd is required to load a run")
	}
	res := resources{etcd: cli}

	reg, err := registry.Load(ctx, registry.NewEtcdStore(cli), runID)
	if err != nil {
		res.Close()
		logging.Logger().Fatal("Failed to load run", zap.String("run_id", runID), zap.Error(err))
	}
	return reg, res.Close
}
