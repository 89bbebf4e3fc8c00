package provisioning

import (
	"context"
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/control"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/ssh"
	"clusterswarm/internal/tools"

	"google.golang.org/api/container/v1"
)

// Deps are the collaborators the adapters are built from. Pool and Keys are
// only required when a custom-host or imported provider is enabled.
type Deps struct {
	API    ManagementAPI
	Pool   hosts.Pool
	Keys   ssh.KeyProvider
	Dialer control.Dialer
	Runner tools.Runner
	GKE    *container.Service
}

// NewAdapters builds one adapter per enabled provider
func NewAdapters(cfg *config.Config, deps Deps) (map[cluster.Provider]Adapter, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("management API is required")
	}
	if deps.Dialer == nil {
		deps.Dialer = control.SSHDialer{}
	}
	if deps.Runner == nil {
		deps.Runner = tools.ExecRunner{}
	}

	adapters := make(map[cluster.Provider]Adapter)
	for _, p := range cfg.Deploy.Enabled() {
		switch p {
		case cluster.ProviderRKE, cluster.ProviderRKEImport:
			if deps.Pool == nil || deps.Keys == nil {
				return nil, fmt.Errorf("%s requires a node pool and SSH keys", p)
			}
			if p == cluster.ProviderRKE {
				adapters[p] = NewRKE(deps.API, cfg.RKE, cfg.Hosts, deps.Pool, deps.Keys, deps.Dialer)
			} else {
				adapters[p] = NewImported(deps.API, cfg.Import, cfg.Hosts, deps.Pool, deps.Keys, deps.Runner)
			}
		case cluster.ProviderEKS:
			adapters[p] = NewEKS(deps.API, cfg.EKS)
		case cluster.ProviderGKE:
			adapters[p] = NewGKE(deps.API, cfg.GKE, deps.GKE)
		case cluster.ProviderAKS:
			adapters[p] = NewAKS(deps.API, cfg.AKS)
		default:
			return nil, fmt.Errorf("unsupported provider: %s", p)
		}
	}
	return adapters, nil
}

// detached manages clusters created by an earlier process. It can observe and
// destroy them but not create new ones, and knows nothing of their nodes.
type detached struct {
	managed
}

func (d *detached) ValidateCredentials(ctx context.Context) error {
	if _, err := d.api.ServerVersion(ctx); err != nil {
		return fmt.Errorf("failed to reach management platform: %w", err)
	}
	return nil
}

func (d *detached) Create(context.Context, cluster.Request) (cluster.Handle, error) {
	return cluster.Handle{}, fmt.Errorf("%s clusters cannot be created by a detached adapter", d.provider)
}

// NewDetachedAdapters returns adapters for providers that only destroy
// platform clusters. VMs behind custom-host and imported clusters of an
// earlier process are not deleted.
func NewDetachedAdapters(api ManagementAPI, providers []cluster.Provider) map[cluster.Provider]Adapter {
	adapters := make(map[cluster.Provider]Adapter, len(providers))
	for _, p := range providers {
		adapters[p] = &detached{managed: managed{provider: p, api: api}}
	}
	return adapters
}
