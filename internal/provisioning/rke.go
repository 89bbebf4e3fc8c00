package provisioning

import (
	"context"
	"fmt"
	"strings"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/control"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/ssh"

	"go.uber.org/zap"
)

type rkeClusterSpec struct {
	Type                          string        `json:"type"`
	Name                          string        `json:"name"`
	WindowsPreferedCluster        bool          `json:"windowsPreferedCluster"`
	RancherKubernetesEngineConfig rkeConfigSpec `json:"rancherKubernetesEngineConfig"`
}

type rkeConfigSpec struct {
	KubernetesVersion string         `json:"kubernetesVersion"`
	Network           rkeNetworkSpec `json:"network"`
}

type rkeNetworkSpec struct {
	Plugin  string            `json:"plugin"`
	Options map[string]string `json:"options,omitempty"`
}

const prePullScript = `C:\clusterswarm\pre-pull.ps1`

// RKE provisions custom-host clusters: it creates the VMs, registers the
// cluster and runs the node command on every VM.
type RKE struct {
	managed
	nodes *nodeProvisioner
	cfg   config.RKEConfig
}

// NewRKE creates the custom-host adapter
func NewRKE(api ManagementAPI, cfg config.RKEConfig, hostsCfg config.HostsConfig, pool hosts.Pool, keys ssh.KeyProvider, dialer control.Dialer) *RKE {
	return &RKE{
		managed: managed{provider: cluster.ProviderRKE, api: api},
		nodes:   newNodeProvisioner(pool, hostsCfg, keys, dialer),
		cfg:     cfg,
	}
}

// ValidateCredentials checks that the platform answers with the configured token
func (r *RKE) ValidateCredentials(ctx context.Context) error {
	if _, err := r.api.ServerVersion(ctx); err != nil {
		return fmt.Errorf("failed to reach management platform: %w", err)
	}
	return nil
}

// Prepare creates the nodes of a Windows request ahead of Create, pre-pulls
// the test images on the Windows nodes and, for host-gw, disables the
// source/destination check. The nodes are deleted again if any step fails.
func (r *RKE) Prepare(ctx context.Context, req cluster.Request) error {
	if !req.Windows {
		return nil
	}
	if err := ValidateVersion(cluster.ProviderRKE, req.KubernetesVersion); err != nil {
		return err
	}
	nodes, err := r.nodes.ensure(ctx, req, req.NodeRoles)
	if err != nil {
		return err
	}
	if err := r.prepareNodes(ctx, req, nodes); err != nil {
		r.nodes.discard(context.WithoutCancel(ctx), req.Key())
		return err
	}
	return nil
}

func (r *RKE) prepareNodes(ctx context.Context, req cluster.Request, nodes []*hosts.Node) error {
	if req.FlannelBackend == cluster.FlannelHostGW {
		if err := r.disableSourceDestCheck(ctx, nodes); err != nil {
			return err
		}
	}

	if len(r.nodes.hostsCfg.PrePullImages) == 0 {
		return nil
	}
	script := prePullCommands(r.nodes.hostsCfg.PrePullImages)
	for _, node := range nodes {
		if !node.Windows {
			continue
		}
		if err := r.prePull(ctx, node, script); err != nil {
			return err
		}
	}
	return nil
}

func (r *RKE) disableSourceDestCheck(ctx context.Context, nodes []*hosts.Node) error {
	checker, ok := r.nodes.pool.(hosts.SourceDestChecker)
	if !ok {
		logging.Logger().Warn("host-gw requested but the node pool cannot disable source/destination checks",
			zap.String("hosts_type", string(r.nodes.hostsCfg.Type)))
		return nil
	}
	for _, node := range nodes {
		if err := checker.DisableSourceDestCheck(ctx, node.ID); err != nil {
			return fmt.Errorf("failed to disable source/destination check on %s: %w", node.Name, err)
		}
	}
	return nil
}

func (r *RKE) prePull(ctx context.Context, node *hosts.Node, script string) error {
	ctrl, err := r.nodes.dial(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", node.Name, err)
	}
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.WriteFile(prePullScript, script, 0o644); err != nil {
		return fmt.Errorf("failed to upload pre-pull script to %s: %w", node.Name, err)
	}
	if _, err := ctrl.Run(ctx, "powershell -NoLogo -NonInteractive -File "+prePullScript); err != nil {
		return fmt.Errorf("failed to pre-pull images on %s: %w", node.Name, err)
	}
	logging.Logger().Info("images pre-pulled", zap.String("node", node.Name))
	return nil
}

func prePullCommands(images []string) string {
	var b strings.Builder
	for _, image := range images {
		fmt.Fprintf(&b, "docker pull %s\r\n", image)
	}
	return b.String()
}

// Create implements Adapter
func (r *RKE) Create(ctx context.Context, req cluster.Request) (cluster.Handle, error) {
	if err := ValidateVersion(cluster.ProviderRKE, req.KubernetesVersion); err != nil {
		r.nodes.discard(context.WithoutCancel(ctx), req.Key())
		return cluster.Handle{}, err
	}

	nodes, err := r.nodes.ensure(ctx, req, req.NodeRoles)
	if err != nil {
		return cluster.Handle{}, cluster.NewProvisionError(cluster.KindPrecheckFailed, req.Key(), err)
	}

	handle, err := r.submit(ctx, req, r.spec(req))
	if err != nil {
		r.nodes.discard(context.WithoutCancel(ctx), req.Key())
		return handle, err
	}
	r.nodes.bind(req.Key(), handle.ExternalID)

	token, err := r.api.RegistrationToken(ctx, handle.ExternalID)
	if err != nil {
		return handle, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(), err)
	}

	for i, node := range nodes {
		command := token.NodeCommand
		if node.Windows {
			command = token.WindowsNodeCommand
		}
		command = nodeCommand(command, req.NodeRoles[i], node, node.Windows)
		if err := r.register(ctx, node, command); err != nil {
			return handle, cluster.NewProvisionError(cluster.KindRemoteRejected, req.Key(), err)
		}
	}
	return handle, nil
}

func (r *RKE) register(ctx context.Context, node *hosts.Node, command string) error {
	ctrl, err := r.nodes.dial(ctx, node)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", node.Name, err)
	}
	defer func() { _ = ctrl.Close() }()

	if _, err := ctrl.Run(ctx, command); err != nil {
		return fmt.Errorf("failed to register %s: %w", node.Name, err)
	}
	logging.Logger().Info("node registered", zap.String("node", node.Name))
	return nil
}

// Destroy removes the cluster and then deletes its nodes
func (r *RKE) Destroy(ctx context.Context, externalID string) error {
	if err := r.api.DeleteCluster(ctx, externalID); err != nil {
		return err
	}
	return r.nodes.release(ctx, externalID)
}

func (r *RKE) spec(req cluster.Request) rkeClusterSpec {
	network := rkeNetworkSpec{Plugin: r.cfg.NetworkPlugin}
	if network.Plugin == "" {
		network.Plugin = "canal"
	}
	if req.Windows {
		backend := req.FlannelBackend
		if backend == "" {
			backend = cluster.FlannelVXLAN
		}
		network = rkeNetworkSpec{
			Plugin:  "flannel",
			Options: map[string]string{"flannel_backend_type": string(backend)},
		}
	}
	return rkeClusterSpec{
		Type:                   "cluster",
		Name:                   req.Name,
		WindowsPreferedCluster: req.Windows,
		RancherKubernetesEngineConfig: rkeConfigSpec{
			KubernetesVersion: req.KubernetesVersion,
			Network:           network,
		},
	}
}

// nodeCommand appends the role and address flags to a registration command.
// Windows commands end in a pipe to iex, so the flags go before it.
func nodeCommand(base string, roles cluster.RoleSet, node *hosts.Node, windows bool) string {
	var flags []string
	for _, role := range []cluster.Role{cluster.RoleControlPlane, cluster.RoleEtcd, cluster.RoleWorker} {
		if roles.Has(role) {
			flags = append(flags, "--"+string(role))
		}
	}
	if node.IP != "" {
		flags = append(flags, "--address", node.IP)
	}
	if node.PrivateIP != "" {
		flags = append(flags, "--internal-address", node.PrivateIP)
	}
	suffix := " " + strings.Join(flags, " ")
	if len(flags) == 0 {
		suffix = ""
	}

	if windows {
		if i := strings.LastIndex(base, " | iex"); i >= 0 {
			return base[:i] + suffix + base[i:]
		}
	}
	return base + suffix
}
