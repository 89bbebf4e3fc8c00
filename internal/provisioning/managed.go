package provisioning

import (
	"context"
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/rancher"

	"go.uber.org/zap"
)

// managed implements the lifecycle calls every provider shares: once a
// cluster object exists, the management platform reports its state.
type managed struct {
	provider cluster.Provider
	api      ManagementAPI
}

// Provider implements Adapter
func (m *managed) Provider() cluster.Provider {
	return m.provider
}

// Poll maps the platform's cluster state onto a lifecycle status. A cluster
// in the error state is Failed and the error carries the platform message.
func (m *managed) Poll(ctx context.Context, externalID string) (cluster.Status, error) {
	c, err := m.api.GetCluster(ctx, externalID)
	if err != nil {
		if rancher.IsNotFound(err) {
			return cluster.StatusFailed, fmt.Errorf("cluster %s disappeared: %w", externalID, err)
		}
		return cluster.StatusCreating, err
	}

	switch {
	case c.State == "active":
		return cluster.StatusReady, nil
	case c.State == "error" || c.Transitioning == "error":
		return cluster.StatusFailed, fmt.Errorf("cluster %s is in error state: %s", externalID, c.TransitioningMessage)
	default:
		logging.Logger().Debug("cluster not ready yet",
			zap.String("provider", string(m.provider)),
			zap.String("cluster_id", externalID),
			zap.String("state", c.State),
			zap.String("message", logging.Truncate(c.TransitioningMessage)))
		return cluster.StatusCreating, nil
	}
}

// Kubeconfig implements Adapter
func (m *managed) Kubeconfig(ctx context.Context, externalID string) (string, error) {
	return m.api.GenerateKubeconfig(ctx, externalID)
}

// Destroy implements Adapter
func (m *managed) Destroy(ctx context.Context, externalID string) error {
	return m.api.DeleteCluster(ctx, externalID)
}

// submit posts spec and classifies a rejection
func (m *managed) submit(ctx context.Context, req cluster.Request, spec any) (cluster.Handle, error) {
	created, err := m.api.CreateCluster(ctx, spec)
	if err != nil {
		return cluster.Handle{}, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(), err)
	}

	logging.Logger().Info("cluster submitted",
		zap.String("provider", string(m.provider)),
		zap.String("name", req.Name),
		zap.String("k8s_version", req.KubernetesVersion),
		zap.String("cluster_id", created.ID))

	return cluster.Handle{ExternalID: created.ID}, nil
}
