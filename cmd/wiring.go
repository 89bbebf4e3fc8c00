package cmd

import (
	"context"
	"fmt"
	"time"

	"clusterswarm/internal/catalog"
	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/provisioning"
	"clusterswarm/internal/rancher"
	"clusterswarm/internal/ssh"
	"clusterswarm/internal/tools"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/api/container/v1"
	"google.golang.org/api/option"
)

func newAPI(cfg *config.Config) *rancher.Client {
	var opts []rancher.Option
	if cfg.Rancher.Insecure {
		opts = append(opts, rancher.WithInsecureTLS())
	}
	return rancher.NewClient(cfg.Rancher.URL, cfg.Rancher.Token, opts...)
}

// newGKEService returns nil when GKE is not wanted
func newGKEService(ctx context.Context, cfg *config.Config, want bool) (*container.Service, error) {
	if !want {
		return nil, nil
	}
	var opts []option.ClientOption
	if cfg.GKE.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GKE.CredentialsPath))
	}
	service, err := container.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GKE service: %w", err)
	}
	return service, nil
}

func newCatalog(cfg *config.Config, api *rancher.Client, gke *container.Service) (*catalog.Catalog, error) {
	native := map[cluster.Provider]catalog.Lister{
		cluster.ProviderRKE: catalog.SettingLister{Settings: api},
		cluster.ProviderAKS: catalog.AKSLister{
			API:             api,
			CloudCredential: cfg.AKS.CloudCredential,
			Region:          cfg.AKS.ResourceLocation,
		},
	}
	if gke != nil {
		native[cluster.ProviderGKE] = catalog.GKELister{
			Service:   gke,
			ProjectID: cfg.GKE.ProjectID,
			Location:  cfg.GKE.Zone,
		}
	}
	return catalog.FromConfig(cfg.Versions, native, tools.ExecRunner{})
}

// connectEtcd returns nil when no endpoints are configured or etcd does not
// answer, in which case nothing of the run is persisted.
func connectEtcd(ctx context.Context, cfg *config.Config) *clientv3.Client {
	if len(cfg.Etcd.Endpoints) == 0 {
		logging.Logger().Info("no etcd endpoints configured, run state is not persisted")
		return nil
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		logging.Logger().Warn("failed to connect to etcd, run state is not persisted", zap.Error(err))
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := cli.Get(pingCtx, "/clusterswarm/ping"); err != nil {
		logging.Logger().Warn("etcd connection test failed, run state is not persisted", zap.Error(err))
		_ = cli.Close()
		return nil
	}

	logging.Logger().Info("connected to etcd", zap.Strings("endpoints", cfg.Etcd.Endpoints))
	return cli
}

// resources are the collaborators that must be closed after a command
type resources struct {
	etcd *clientv3.Client
}

func (r resources) Close() {
	if r.etcd == nil {
		return
	}
	if err := r.etcd.Close(); err != nil {
		logging.Logger().Warn("failed to close etcd client", zap.Error(err))
	}
}

// newAdapters returns the adapters of the enabled providers. keys is nil
// unless a custom-host or imported provider is enabled.
func newAdapters(ctx context.Context, cfg *config.Config, api *rancher.Client, gke *container.Service, keys ssh.KeyProvider) (map[cluster.Provider]provisioning.Adapter, error) {
	deps := provisioning.Deps{API: api, GKE: gke}

	if keys != nil {
		pool, err := hosts.NewPool(ctx, cfg.Hosts)
		if err != nil {
			return nil, fmt.Errorf("failed to create node pool: %w", err)
		}
		deps.Pool = pool
		deps.Keys = keys
	}
	return provisioning.NewAdapters(cfg, deps)
}

func needsNodes(cfg *config.Config) bool {
	return cfg.Deploy.IsEnabled(cluster.ProviderRKE) || cfg.Deploy.IsEnabled(cluster.ProviderRKEImport)
}
