package provisioning

import (
	"context"
	"fmt"
	"sync"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/control"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/ssh"

	"github.com/alitto/pond/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// nodeProvisioner creates the VMs behind custom-host and imported clusters
// and remembers them until their cluster is destroyed.
type nodeProvisioner struct {
	pool     hosts.Pool
	hostsCfg config.HostsConfig
	keys     ssh.KeyProvider
	dialer   control.Dialer

	mu        sync.Mutex
	byRequest map[cluster.Key][]*hosts.Node
	byCluster map[string]cluster.Key
}

func newNodeProvisioner(pool hosts.Pool, cfg config.HostsConfig, keys ssh.KeyProvider, dialer control.Dialer) *nodeProvisioner {
	return &nodeProvisioner{
		pool:      pool,
		hostsCfg:  cfg,
		keys:      keys,
		dialer:    dialer,
		byRequest: make(map[cluster.Key][]*hosts.Node),
		byCluster: make(map[string]cluster.Key),
	}
}

// ensure returns the nodes of req, creating one VM per entry of topology on
// first use. Node i is a Windows node when req.IsWindowsNode(i).
func (n *nodeProvisioner) ensure(ctx context.Context, req cluster.Request, topology []cluster.RoleSet) ([]*hosts.Node, error) {
	key := req.Key()

	n.mu.Lock()
	existing, ok := n.byRequest[key]
	n.mu.Unlock()
	if ok {
		return existing, nil
	}

	keyPair, err := n.keys.GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get SSH key: %w", err)
	}

	nodes := make([]*hosts.Node, len(topology))
	var (
		errMu sync.Mutex
		errs  error
	)

	pool := pond.NewPool(len(topology))
	for i := range topology {
		spec := hosts.Spec(n.hostsCfg, fmt.Sprintf("%s-node-%d", req.Name, i), keyPair.PublicKey, req.IsWindowsNode(i))
		pool.Submit(func() {
			node, err := n.pool.Create(ctx, spec)
			if err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("failed to create node %s: %w", spec.Name, err))
				errMu.Unlock()
				return
			}
			nodes[i] = node
		})
	}
	pool.StopAndWait()

	if errs != nil {
		if delErr := n.deleteNodes(context.WithoutCancel(ctx), nodes); delErr != nil {
			errs = multierr.Append(errs, delErr)
		}
		return nil, errs
	}

	n.mu.Lock()
	n.byRequest[key] = nodes
	n.mu.Unlock()

	logging.Logger().Info("nodes ready",
		zap.String("cluster", key.String()),
		zap.Int("count", len(nodes)))
	return nodes, nil
}

// bind associates the nodes of key with the platform cluster id
func (n *nodeProvisioner) bind(key cluster.Key, clusterID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byCluster[clusterID] = key
}

// discard deletes the nodes of a request that never reached the platform
func (n *nodeProvisioner) discard(ctx context.Context, key cluster.Key) {
	n.mu.Lock()
	nodes := n.byRequest[key]
	delete(n.byRequest, key)
	n.mu.Unlock()
	if err := n.deleteNodes(ctx, nodes); err != nil {
		logging.Logger().Warn("nodes left behind", zap.String("cluster", key.String()), zap.Error(err))
	}
}

// clusterKey returns the request a platform cluster id was bound to
func (n *nodeProvisioner) clusterKey(clusterID string) (cluster.Key, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key, ok := n.byCluster[clusterID]
	return key, ok
}

// release deletes the nodes bound to clusterID
func (n *nodeProvisioner) release(ctx context.Context, clusterID string) error {
	n.mu.Lock()
	key, ok := n.byCluster[clusterID]
	nodes := n.byRequest[key]
	delete(n.byCluster, clusterID)
	delete(n.byRequest, key)
	n.mu.Unlock()

	if !ok {
		logging.Logger().Warn("no nodes tracked for cluster", zap.String("cluster_id", clusterID))
		return nil
	}
	return n.deleteNodes(ctx, nodes)
}

func (n *nodeProvisioner) deleteNodes(ctx context.Context, nodes []*hosts.Node) error {
	var errs error
	for _, node := range nodes {
		if node == nil {
			continue
		}
		if err := n.pool.Delete(ctx, node.ID); err != nil {
			logging.Logger().Error("failed to delete node",
				zap.String("node", node.Name),
				zap.String("id", node.ID),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("node %s: %w", node.Name, err))
			continue
		}
		logging.Logger().Info("node deleted", zap.String("node", node.Name))
	}
	return errs
}

// dial opens a controller for node with the run's key
func (n *nodeProvisioner) dial(ctx context.Context, node *hosts.Node) (control.Controller, error) {
	keyPair, err := n.keys.GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get SSH key: %w", err)
	}
	return n.dialer.Dial(ctx, control.Config{
		Host:         node.IP,
		User:         node.Username,
		PrivateKey:   keyPair.PrivateKey,
		SSHTimeout:   n.hostsCfg.SSHTimeout,
		InstanceName: node.Name,
	})
}
