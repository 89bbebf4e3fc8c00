package provisioner

import (
	"context"
	"errors"
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/logging"

	"go.uber.org/zap"
)

// VersionSource resolves the versions to deploy for a provider
type VersionSource interface {
	Versions(ctx context.Context, p cluster.Provider) ([]string, error)
}

// BuildRequests expands the enabled providers into one request per
// (provider, version). A provider whose version set is empty is skipped with
// a warning; any other version lookup failure aborts.
func BuildRequests(ctx context.Context, cfg *config.Config, versions VersionSource, runID string) ([]cluster.Request, error) {
	var requests []cluster.Request

	for _, p := range cfg.Deploy.Enabled() {
		list, err := versions.Versions(ctx, p)
		if errors.Is(err, cluster.ErrNoVersionsAvailable) {
			logging.Logger().Warn("skipping provider without versions",
				zap.String("provider", string(p)),
				zap.Error(err))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s versions: %w", p, err)
		}

		switch p {
		case cluster.ProviderRKE:
			if cfg.Deploy.RKE {
				for _, v := range list {
					requests = append(requests, cluster.Request{
						Provider:          p,
						KubernetesVersion: v,
						Name:              cluster.RandomName(p),
						NodeRoles:         cluster.DefaultTopology(),
					})
				}
			}
			if cfg.Deploy.RKEWindows && len(list) > 0 {
				requests = append(requests, cluster.Request{
					Provider:          p,
					KubernetesVersion: list[len(list)-1],
					Name:              cluster.RandomName(p),
					NodeRoles:         cluster.WindowsTopology(),
					Windows:           true,
					FlannelBackend:    cfg.RKE.FlannelBackend,
				})
			}
		case cluster.ProviderRKEImport:
			for _, v := range list {
				requests = append(requests, cluster.Request{
					Provider:          p,
					KubernetesVersion: v,
					Name:              cluster.RandomName(p),
					NodeRoles:         cluster.AllRolesTopology(cfg.Import.Nodes),
				})
			}
		case cluster.ProviderGKE:
			for i, v := range list {
				requests = append(requests, cluster.Request{
					Provider:          p,
					KubernetesVersion: v,
					Name:              cluster.IndexedName(p, i+1, cluster.ShortRunID(runID)),
				})
			}
		default:
			for _, v := range list {
				requests = append(requests, cluster.Request{
					Provider:          p,
					KubernetesVersion: v,
					Name:              cluster.RandomName(p),
				})
			}
		}
	}
	return requests, nil
}
