package provisioning

import (
	"context"
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"

	"google.golang.org/api/container/v1"
)

type gkeClusterSpec struct {
	Type      string        `json:"type"`
	Name      string        `json:"name"`
	GKEConfig gkeConfigSpec `json:"gkeConfig"`
}

type gkeConfigSpec struct {
	GoogleCredentialSecret string            `json:"googleCredentialSecret"`
	ClusterName            string            `json:"clusterName"`
	ProjectID              string            `json:"projectID"`
	Zone                   string            `json:"zone"`
	KubernetesVersion      string            `json:"kubernetesVersion"`
	Imported               bool              `json:"imported"`
	NodePools              []gkeNodePoolSpec `json:"nodePools"`
}

type gkeNodePoolSpec struct {
	Name              string            `json:"name"`
	InitialNodeCount  int64             `json:"initialNodeCount"`
	Version           string            `json:"version"`
	Config            gkeNodeConfigSpec `json:"config"`
	Autoscaling       map[string]any    `json:"autoscaling"`
	Management        map[string]bool   `json:"management"`
	MaxPodsConstraint int64             `json:"maxPodsConstraint"`
}

type gkeNodeConfigSpec struct {
	MachineType string `json:"machineType"`
	DiskSizeGb  int64  `json:"diskSizeGb"`
	DiskType    string `json:"diskType"`
	ImageType   string `json:"imageType"`
}

// GKE provisions GKE clusters through the management platform
type GKE struct {
	managed
	cfg     config.GKEConfig
	service *container.Service
}

// NewGKE creates the GKE adapter. service may be nil, in which case
// credentials are not checked.
func NewGKE(api ManagementAPI, cfg config.GKEConfig, service *container.Service) *GKE {
	return &GKE{
		managed: managed{provider: cluster.ProviderGKE, api: api},
		cfg:     cfg,
		service: service,
	}
}

// ValidateCredentials fetches the GKE server config for the project zone
func (g *GKE) ValidateCredentials(ctx context.Context) error {
	if g.service == nil {
		return nil
	}
	name := fmt.Sprintf("projects/%s/locations/%s", g.cfg.ProjectID, g.cfg.Zone)
	if _, err := g.service.Projects.Locations.GetServerConfig(name).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to validate GKE credentials: %w", err)
	}
	return nil
}

// Create implements Adapter
func (g *GKE) Create(ctx context.Context, req cluster.Request) (cluster.Handle, error) {
	if err := ValidateVersion(cluster.ProviderGKE, req.KubernetesVersion); err != nil {
		return cluster.Handle{}, err
	}
	return g.submit(ctx, req, g.spec(req))
}

func (g *GKE) spec(req cluster.Request) gkeClusterSpec {
	return gkeClusterSpec{
		Type: "cluster",
		Name: req.Name,
		GKEConfig: gkeConfigSpec{
			GoogleCredentialSecret: g.cfg.CloudCredential,
			ClusterName:            req.Name,
			ProjectID:              g.cfg.ProjectID,
			Zone:                   g.cfg.Zone,
			KubernetesVersion:      req.KubernetesVersion,
			NodePools: []gkeNodePoolSpec{{
				Name:             req.Name + "-pool",
				InitialNodeCount: g.cfg.NodeCount,
				Version:          req.KubernetesVersion,
				Config: gkeNodeConfigSpec{
					MachineType: g.cfg.MachineType,
					DiskSizeGb:  g.cfg.DiskSizeGB,
					DiskType:    "pd-standard",
					ImageType:   "COS_CONTAINERD",
				},
				Autoscaling:       map[string]any{"enabled": false},
				Management:        map[string]bool{"autoRepair": true, "autoUpgrade": false},
				MaxPodsConstraint: 110,
			}},
		},
	}
}
