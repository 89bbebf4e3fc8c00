package hosts

import (
	"context"
	"fmt"

	"clusterswarm/internal/config"
)

// NewPool creates a pool based on the configured cloud type
func NewPool(ctx context.Context, cfg config.HostsConfig) (Pool, error) {
	switch cfg.Type {
	case config.ProviderYandexCloud:
		if cfg.YandexCloud == nil {
			return nil, fmt.Errorf("yandex_cloud config is nil")
		}
		return NewYcPool(ctx, cfg.YandexCloud.IAMToken, cfg.YandexCloud.FolderID)

	case config.ProviderGCP:
		if cfg.GCP == nil {
			return nil, fmt.Errorf("gcp config is nil")
		}
		return NewGCPPool(ctx, cfg.GCP.ProjectID, cfg.GCP.DefaultZone, cfg.GCP.CredentialsPath)

	case config.ProviderAWS:
		if cfg.AWS == nil {
			return nil, fmt.Errorf("aws config is nil")
		}
		return NewAWSPool(ctx, cfg.AWS.Region, cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey)

	case config.ProviderDigitalOcean:
		if cfg.DigitalOcean == nil {
			return nil, fmt.Errorf("digitalocean config is nil")
		}
		return NewDOPool(cfg.DigitalOcean.Token)

	default:
		return nil, fmt.Errorf("unsupported hosts type: %q", cfg.Type)
	}
}

// NodeDefaults contains default VM parameters extracted from config
type NodeDefaults struct {
	Zone     string
	Image    string
	Username string
	Cores    int
	Memory   int64
	DiskSize int64
}

// Defaults extracts VM defaults for the configured cloud
func Defaults(cfg config.HostsConfig) NodeDefaults {
	switch cfg.Type {
	case config.ProviderYandexCloud:
		if c := cfg.YandexCloud; c != nil {
			return NodeDefaults{c.DefaultZone, c.DefaultImage, c.DefaultUsername, c.DefaultCores, c.DefaultMemory, c.DefaultDiskSize}.withFallbacks()
		}
	case config.ProviderGCP:
		if c := cfg.GCP; c != nil {
			return NodeDefaults{c.DefaultZone, c.DefaultImage, c.DefaultUsername, c.DefaultCores, c.DefaultMemory, c.DefaultDiskSize}.withFallbacks()
		}
	case config.ProviderAWS:
		if c := cfg.AWS; c != nil {
			return NodeDefaults{c.DefaultZone, c.DefaultImage, c.DefaultUsername, c.DefaultCores, c.DefaultMemory, c.DefaultDiskSize}.withFallbacks()
		}
	case config.ProviderDigitalOcean:
		if c := cfg.DigitalOcean; c != nil {
			return NodeDefaults{c.DefaultRegion, c.DefaultImage, c.DefaultUsername, c.DefaultCores, c.DefaultMemory, c.DefaultDiskSize}.withFallbacks()
		}
	}
	return NodeDefaults{}.withFallbacks()
}

// Kubernetes nodes need more than the clouds' smallest shapes
func (d NodeDefaults) withFallbacks() NodeDefaults {
	if d.Username == "" {
		d.Username = "ubuntu"
	}
	if d.Cores == 0 {
		d.Cores = 2
	}
	if d.Memory == 0 {
		d.Memory = 8
	}
	if d.DiskSize == 0 {
		d.DiskSize = 50
	}
	return d
}

// Spec builds the node spec for a named node from the defaults. Windows
// nodes take their image and login from the hosts config.
func Spec(cfg config.HostsConfig, name, publicKey string, windows bool) NodeSpec {
	d := Defaults(cfg)
	spec := NodeSpec{
		Name:         name,
		Cores:        d.Cores,
		Memory:       d.Memory,
		DiskSize:     d.DiskSize,
		ImageID:      d.Image,
		Zone:         d.Zone,
		SSHPublicKey: publicKey,
		Username:     d.Username,
		Windows:      windows,
	}
	if windows {
		spec.ImageID = cfg.WindowsImage
		spec.Username = cfg.WindowsUsername
		if spec.Memory < 8 {
			spec.Memory = 8
		}
		if spec.DiskSize < 100 {
			spec.DiskSize = 100
		}
	}
	return spec
}
