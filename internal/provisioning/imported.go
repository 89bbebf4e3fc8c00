package provisioning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/control"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/ssh"
	"clusterswarm/internal/tools"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// rkeClusterFile is the cluster.yml consumed by the rke CLI
type rkeClusterFile struct {
	Nodes             []rkeClusterNode `yaml:"nodes"`
	KubernetesVersion string           `yaml:"kubernetes_version"`
	Network           struct {
		Plugin string `yaml:"plugin"`
	} `yaml:"network"`
}

type rkeClusterNode struct {
	Address         string         `yaml:"address"`
	InternalAddress string         `yaml:"internal_address,omitempty"`
	User            string         `yaml:"user"`
	Role            []cluster.Role `yaml:"role"`
	SSHKeyPath      string         `yaml:"ssh_key_path"`
}

type importClusterSpec struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Imported brings up a cluster with the rke CLI on fresh VMs and imports it
// into the management platform.
type Imported struct {
	managed
	nodes  *nodeProvisioner
	cfg    config.ImportConfig
	runner tools.Runner
}

// NewImported creates the imported-cluster adapter
func NewImported(api ManagementAPI, cfg config.ImportConfig, hostsCfg config.HostsConfig, pool hosts.Pool, keys ssh.KeyProvider, runner tools.Runner) *Imported {
	return &Imported{
		managed: managed{provider: cluster.ProviderRKEImport, api: api},
		nodes:   newNodeProvisioner(pool, hostsCfg, keys, control.SSHDialer{}),
		cfg:     cfg,
		runner:  runner,
	}
}

// ValidateCredentials checks that the platform answers with the configured token
func (m *Imported) ValidateCredentials(ctx context.Context) error {
	if _, err := m.api.ServerVersion(ctx); err != nil {
		return fmt.Errorf("failed to reach management platform: %w", err)
	}
	return nil
}

// Create implements Adapter
func (m *Imported) Create(ctx context.Context, req cluster.Request) (cluster.Handle, error) {
	if err := ValidateVersion(cluster.ProviderRKEImport, req.KubernetesVersion); err != nil {
		return cluster.Handle{}, err
	}

	topology := req.NodeRoles
	if len(topology) == 0 {
		topology = cluster.AllRolesTopology(m.nodeCount())
	}
	nodes, err := m.nodes.ensure(ctx, req, topology)
	if err != nil {
		return cluster.Handle{}, cluster.NewProvisionError(cluster.KindPrecheckFailed, req.Key(), err)
	}

	dir, err := m.writeClusterFile(ctx, req, nodes, topology)
	if err != nil {
		m.abandon(context.WithoutCancel(ctx), req)
		return cluster.Handle{}, cluster.NewProvisionError(cluster.KindPrecheckFailed, req.Key(), err)
	}

	if _, err := m.runner.Run(ctx, dir, m.rkeBin(), "up", "--config", "cluster.yml"); err != nil {
		m.abandon(context.WithoutCancel(ctx), req)
		return cluster.Handle{}, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(), err)
	}

	handle, err := m.submit(ctx, req, importClusterSpec{Type: "cluster", Name: req.Name})
	if err != nil {
		m.abandon(context.WithoutCancel(ctx), req)
		return handle, err
	}
	m.nodes.bind(req.Key(), handle.ExternalID)

	token, err := m.api.RegistrationToken(ctx, handle.ExternalID)
	if err != nil {
		return handle, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(), err)
	}
	if token.ManifestURL == "" {
		return handle, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(),
			fmt.Errorf("registration token of %s has no manifest URL", handle.ExternalID))
	}

	if _, err := m.runner.Run(ctx, dir, m.kubectlBin(), "--kubeconfig", "kube_config_cluster.yml", "apply", "-f", token.ManifestURL); err != nil {
		return handle, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(), err)
	}

	logging.Logger().Info("import manifest applied",
		zap.String("name", req.Name),
		zap.String("cluster_id", handle.ExternalID))
	return handle, nil
}

// Destroy removes the imported cluster, deletes its nodes and the rke
// working directory holding its key and kubeconfig.
func (m *Imported) Destroy(ctx context.Context, externalID string) error {
	if err := m.api.DeleteCluster(ctx, externalID); err != nil {
		return err
	}
	key, tracked := m.nodes.clusterKey(externalID)
	if err := m.nodes.release(ctx, externalID); err != nil {
		return err
	}
	if tracked {
		m.removeWorkDir(key.Name)
	}
	return nil
}

// abandon deletes everything a request created before it reached the platform
func (m *Imported) abandon(ctx context.Context, req cluster.Request) {
	m.nodes.discard(ctx, req.Key())
	m.removeWorkDir(req.Name)
}

func (m *Imported) workDir(name string) string {
	base := m.cfg.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, name)
}

func (m *Imported) removeWorkDir(name string) {
	if err := os.RemoveAll(m.workDir(name)); err != nil {
		logging.Logger().Warn("failed to remove rke working directory",
			zap.String("name", name),
			zap.Error(err))
	}
}

func (m *Imported) writeClusterFile(ctx context.Context, req cluster.Request, nodes []*hosts.Node, topology []cluster.RoleSet) (string, error) {
	dir := m.workDir(req.Name)

	keyPair, err := m.nodes.keys.GetOrCreate(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get SSH key: %w", err)
	}
	keyPath, err := keyPair.WriteFiles(dir)
	if err != nil {
		return "", err
	}

	file := rkeClusterFile{KubernetesVersion: req.KubernetesVersion}
	file.Network.Plugin = "canal"
	for i, node := range nodes {
		file.Nodes = append(file.Nodes, rkeClusterNode{
			Address:         node.IP,
			InternalAddress: node.PrivateIP,
			User:            node.Username,
			Role:            topology[i],
			SSHKeyPath:      keyPath,
		})
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return "", fmt.Errorf("failed to encode cluster.yml: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cluster.yml"), data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write cluster.yml: %w", err)
	}
	return dir, nil
}

func (m *Imported) nodeCount() int {
	if m.cfg.Nodes > 0 {
		return m.cfg.Nodes
	}
	return 3
}

func (m *Imported) rkeBin() string {
	if m.cfg.RKEBin != "" {
		return m.cfg.RKEBin
	}
	return "rke"
}

func (m *Imported) kubectlBin() string {
	if m.cfg.Kubectl != "" {
		return m.cfg.Kubectl
	}
	return "kubectl"
}
