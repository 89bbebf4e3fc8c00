// Package provisioning holds the per-provider adapters that turn a cluster
// request into a cluster on the management platform.
package provisioning

import (
	"context"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/rancher"
)

// Adapter creates, observes and destroys clusters of one provider
type Adapter interface {
	Provider() cluster.Provider
	ValidateCredentials(ctx context.Context) error
	// Create submits the cluster. The returned handle carries the external id
	// whenever a remote object exists, even alongside an error.
	Create(ctx context.Context, req cluster.Request) (cluster.Handle, error)
	Poll(ctx context.Context, externalID string) (cluster.Status, error)
	Kubeconfig(ctx context.Context, externalID string) (string, error)
	Destroy(ctx context.Context, externalID string) error
}

// Preparer is implemented by adapters that need a pre-step before Create
type Preparer interface {
	Prepare(ctx context.Context, req cluster.Request) error
}

// ManagementAPI is the part of the management platform the adapters use
type ManagementAPI interface {
	ServerVersion(ctx context.Context) (string, error)
	CreateCluster(ctx context.Context, spec any) (*rancher.Cluster, error)
	GetCluster(ctx context.Context, id string) (*rancher.Cluster, error)
	DeleteCluster(ctx context.Context, id string) error
	GenerateKubeconfig(ctx context.Context, id string) (string, error)
	RegistrationToken(ctx context.Context, clusterID string) (*rancher.RegistrationToken, error)
	AKSVersions(ctx context.Context, cloudCredentialID, region string) ([]string, error)
}
