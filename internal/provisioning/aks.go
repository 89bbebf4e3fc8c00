package provisioning

import (
	"context"
	"fmt"
	"strings"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
)

type aksClusterSpec struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	AKSConfig aksConfigSpec `json:"aksConfig"`
}

type aksConfigSpec struct {
	AzureCredentialSecret string            `json:"azureCredentialSecret"`
	ClusterName           string            `json:"clusterName"`
	ResourceGroup         string            `json:"resourceGroup"`
	ResourceLocation      string            `json:"resourceLocation"`
	DNSPrefix             string            `json:"dnsPrefix"`
	KubernetesVersion     string            `json:"kubernetesVersion"`
	NetworkPlugin         string            `json:"networkPlugin"`
	Imported              bool              `json:"imported"`
	NodePools             []aksNodePoolSpec `json:"nodePools"`
}

type aksNodePoolSpec struct {
	Name                string `json:"name"`
	Count               int64  `json:"count"`
	VMSize              string `json:"vmSize"`
	Mode                string `json:"mode"`
	OsType              string `json:"osType"`
	OsDiskSizeGB        int64  `json:"osDiskSizeGB"`
	OrchestratorVersion string `json:"orchestratorVersion"`
}

// AKS provisions AKS clusters through the management platform
type AKS struct {
	managed
	cfg config.AKSConfig
}

// NewAKS creates the AKS adapter
func NewAKS(api ManagementAPI, cfg config.AKSConfig) *AKS {
	return &AKS{
		managed: managed{provider: cluster.ProviderAKS, api: api},
		cfg:     cfg,
	}
}

// ValidateCredentials lists AKS versions with the cloud credential
func (a *AKS) ValidateCredentials(ctx context.Context) error {
	if _, err := a.api.AKSVersions(ctx, a.cfg.CloudCredential, a.cfg.ResourceLocation); err != nil {
		return fmt.Errorf("failed to validate Azure credentials: %w", err)
	}
	return nil
}

// Create implements Adapter
func (a *AKS) Create(ctx context.Context, req cluster.Request) (cluster.Handle, error) {
	if err := ValidateVersion(cluster.ProviderAKS, req.KubernetesVersion); err != nil {
		return cluster.Handle{}, err
	}
	return a.submit(ctx, req, a.spec(req))
}

func (a *AKS) spec(req cluster.Request) aksClusterSpec {
	return aksClusterSpec{
		Type: "cluster",
		Name: req.Name,
		AKSConfig: aksConfigSpec{
			AzureCredentialSecret: a.cfg.CloudCredential,
			ClusterName:           req.Name,
			ResourceGroup:         a.cfg.ResourceGroup,
			ResourceLocation:      a.cfg.ResourceLocation,
			DNSPrefix:             strings.ReplaceAll(req.Name, "_", "-") + "-dns",
			KubernetesVersion:     req.KubernetesVersion,
			NetworkPlugin:         "kubenet",
			NodePools: []aksNodePoolSpec{{
				Name:                "agentpool",
				Count:               a.cfg.NodeCount,
				VMSize:              a.cfg.VMSize,
				Mode:                "System",
				OsType:              "Linux",
				OsDiskSizeGB:        128,
				OrchestratorVersion: req.KubernetesVersion,
			}},
		},
	}
}
