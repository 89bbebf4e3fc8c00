package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/provisioner"
	"clusterswarm/internal/registry"
	"clusterswarm/internal/report"
	"clusterswarm/internal/ssh"
	"clusterswarm/internal/validate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	deployMetricsAddr string
	deployTeardown    bool
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Provision clusters for every enabled provider",
	Long: `Provision one cluster per (provider, version) for the providers enabled through
RANCHER_TEST_DEPLOY_* or the config file, then write the env file and the
cluster details file. Exits non-zero if any cluster failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}
		if deployMetricsAddr != "" {
			cfg.Metrics.Address = deployMetricsAddr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rep, err := deploy(ctx, cfg, deployTeardown)
		if err != nil {
			logging.Logger().Fatal("Deploy failed", zap.Error(err))
		}
		if !rep.Success {
			_ = logging.Sync()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringVar(&deployMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	deployCmd.Flags().BoolVar(&deployTeardown, "teardown", false, "Destroy every created cluster after the report is written")
}

func deploy(ctx context.Context, cfg *config.Config, teardown bool) (report.Report, error) {
	runID := cluster.NewRunID()
	log := logging.Logger().With(zap.String("run_id", runID))
	log.Info("Configuration loaded",
		zap.String("rancher_url", cfg.Rancher.URL),
		zap.Any("providers", cfg.Deploy.Enabled()),
		zap.Int("concurrency", cfg.Provisioner.Concurrency),
		zap.Duration("cluster_timeout", cfg.Provisioner.ClusterTimeout))

	api := newAPI(cfg)
	if cfg.Rancher.UpdateKDM {
		if err := api.UpdateKDM(ctx, cfg.Rancher.KDMURL); err != nil {
			return report.Report{}, err
		}
	}

	gke, err := newGKEService(ctx, cfg, cfg.Deploy.GKE)
	if err != nil {
		return report.Report{}, err
	}

	versions, err := newCatalog(cfg, api, gke)
	if err != nil {
		return report.Report{}, err
	}

	res := &resources{etcd: connectEtcd(ctx, cfg)}
	defer res.Close()

	var keys ssh.KeyProvider
	if needsNodes(cfg) {
		keys = ssh.NewKeyProvider(res.etcd, runID)
	}
	adapters, err := newAdapters(ctx, cfg, api, gke, keys)
	if err != nil {
		return report.Report{}, err
	}
	for p, adapter := range adapters {
		if err := adapter.ValidateCredentials(ctx); err != nil {
			return report.Report{}, err
		}
		log.Info("Credentials validated", zap.String("provider", string(p)))
	}

	var regOpts []registry.Option
	if res.etcd != nil {
		regOpts = append(regOpts, registry.WithStore(registry.NewEtcdStore(res.etcd)))
	}
	reg := registry.New(runID, regOpts...)

	opts := []provisioner.Option{}
	if cfg.Provisioner.Validate {
		opts = append(opts, provisioner.WithValidator(validate.NewNodeValidator()))
	}
	if cfg.Metrics.Address != "" {
		promReg := prometheus.NewRegistry()
		opts = append(opts, provisioner.WithMetrics(provisioner.NewMetrics(promReg)))
		srv := serveMetrics(cfg.Metrics.Address, promReg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	p := provisioner.New(adapters, reg, cfg.Provisioner, opts...)

	requests, err := provisioner.BuildRequests(ctx, cfg, versions, runID)
	if err != nil {
		return report.Report{}, err
	}
	log.Info("Provisioning clusters", zap.Int("requests", len(requests)))

	outcomes := p.Run(ctx, requests)

	rep := report.Aggregate(reg.Snapshot(), outcomes)
	rep.Log()
	if err := rep.WriteEnvFile(cfg.Report.EnvFile); err != nil {
		return rep, err
	}
	if err := rep.WriteDetails(cfg.Report.DetailsFile); err != nil {
		return rep, err
	}
	log.Info("Artifacts written",
		zap.String("env_file", cfg.Report.EnvFile),
		zap.String("details_file", cfg.Report.DetailsFile))

	if teardown && ctx.Err() == nil {
		result := p.Teardown(ctx)
		if keys != nil && len(result.Failures) == 0 {
			if err := keys.Delete(ctx); err != nil {
				log.Warn("failed to delete node SSH keys", zap.Error(err))
			}
		}
	}
	return rep, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logging.Logger().Info("Serving metrics", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger().Error("Metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
