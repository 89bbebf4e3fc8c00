package cmd

import (
	"context"
	"fmt"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/control"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/ssh"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	debugWindows bool
	debugKeep    bool
	debugCommand string
)

// debugCmd represents the debug command
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Create one node from the hosts config and check it over SSH",
	Long: `Debug creates a single node with the configured hosts pool, waits for SSH, runs
a command on it and deletes it again. This is useful for checking cloud
credentials and images before a deploy that needs custom-host nodes.`,
	Run: func(cmd *cobra.Command, args []string) {
		logging.Logger().Info("Loading configuration")
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		ctx := context.Background()

		res := resources{etcd: connectEtcd(ctx, cfg)}
		defer res.Close()

		runID := cluster.NewRunID()
		keyProvider := ssh.NewKeyProvider(res.etcd, runID)
		keyPair, err := keyProvider.GetOrCreate(ctx)
		if err != nil {
			logging.Logger().Fatal("Failed to get SSH key pair", zap.Error(err))
		}

		logging.Logger().Info("Creating node pool", zap.String("type", string(cfg.Hosts.Type)))
		pool, err := hosts.NewPool(ctx, cfg.Hosts)
		if err != nil {
			logging.Logger().Fatal("Failed to create node pool", zap.Error(err))
		}

		name := fmt.Sprintf("clusterswarm-debug-%v", time.Now().Unix())
		spec := hosts.Spec(cfg.Hosts, name, keyPair.PublicKey, debugWindows)

		logging.Logger().Info("Creating node",
			zap.String("name", spec.Name),
			zap.String("zone", spec.Zone),
			zap.Int("cores", spec.Cores),
			zap.Int64("memory_gb", spec.Memory),
			zap.Bool("windows", spec.Windows))

		node, err := pool.Create(ctx, spec)
		if err != nil {
			logging.Logger().Fatal("Failed to create node", zap.Error(err))
		}

		logging.Logger().Info("Node created",
			zap.String("id", node.ID),
			zap.String("ip", node.IP),
			zap.String("private_ip", node.PrivateIP),
			zap.String("status", node.Status))

		if !debugKeep {
			defer func() {
				if err := pool.Delete(context.Background(), node.ID); err != nil {
					logging.Logger().Error("Failed to delete node", zap.String("id", node.ID), zap.Error(err))
					return
				}
				logging.Logger().Info("Node deleted", zap.String("id", node.ID))
				if err := keyProvider.Delete(context.Background()); err != nil {
					logging.Logger().Warn("Failed to delete SSH keys", zap.Error(err))
				}
			}()
		} else {
			logging.Logger().Info("Keeping node, its SSH key stays under the run id", zap.String("run_id", runID))
		}

		if node.IP == "" {
			logging.Logger().Warn("IP address not obtained, skipping SSH check")
			return
		}

		controller, err := control.NewSSH(ctx, control.Config{
			Host:         node.IP,
			User:         node.Username,
			PrivateKey:   keyPair.PrivateKey,
			SSHTimeout:   cfg.Hosts.SSHTimeout,
			InstanceName: node.Name,
		})
		if err != nil {
			logging.Logger().Error("Failed to connect to node", zap.Error(err))
			return
		}
		defer func() {
			if err := controller.Close(); err != nil {
				logging.Logger().Warn("failed to close controller", zap.String("node", node.Name), zap.Error(err))
			}
		}()

		out, err := controller.Run(ctx, debugCommand)
		if err != nil {
			logging.Logger().Error("Command failed", zap.String("command", debugCommand), zap.Error(err))
			return
		}
		fmt.Print(out)
	},
}

func init() {
	rootCmd.AddCommand(debugCmd)

	debugCmd.Flags().BoolVar(&debugWindows, "windows", false, "Create a Windows node")
	debugCmd.Flags().BoolVar(&debugKeep, "keep", false, "Keep the node after the check")
	debugCmd.Flags().StringVar(&debugCommand, "command", "docker version", "Command to run on the node")
}
