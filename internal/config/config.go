package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/logging"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config contains application configuration
type Config struct {
	Rancher     RancherConfig     `yaml:"rancher"`
	Deploy      Enablement        `yaml:"deploy"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Versions    VersionsConfig    `yaml:"versions"`
	Hosts       HostsConfig       `yaml:"hosts"`
	RKE         RKEConfig         `yaml:"rke"`
	Import      ImportConfig      `yaml:"import"`
	EKS         EKSConfig         `yaml:"eks"`
	GKE         GKEConfig         `yaml:"gke"`
	AKS         AKSConfig         `yaml:"aks"`
	Etcd        EtcdConfig        `yaml:"etcd"`
	Report      ReportConfig      `yaml:"report"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// RancherConfig holds the management platform connection
type RancherConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Insecure bool   `yaml:"insecure"`
	// KDM refresh before provisioning
	UpdateKDM bool   `yaml:"update_kdm"`
	KDMURL    string `yaml:"kdm_url"`
}

// Enablement selects which providers a run deploys
type Enablement struct {
	RKE        bool `yaml:"rke"`
	RKEWindows bool `yaml:"rke_windows"`
	EKS        bool `yaml:"eks"`
	GKE        bool `yaml:"gke"`
	AKS        bool `yaml:"aks"`
	RKEImport  bool `yaml:"rke_import"`
}

// Enabled returns the enabled providers in report order.
func (e Enablement) Enabled() []cluster.Provider {
	var out []cluster.Provider
	for _, p := range cluster.Providers() {
		if e.IsEnabled(p) {
			out = append(out, p)
		}
	}
	return out
}

// IsEnabled reports whether provider p is enabled.
func (e Enablement) IsEnabled(p cluster.Provider) bool {
	switch p {
	case cluster.ProviderRKE:
		return e.RKE || e.RKEWindows
	case cluster.ProviderRKEImport:
		return e.RKEImport
	case cluster.ProviderEKS:
		return e.EKS
	case cluster.ProviderGKE:
		return e.GKE
	case cluster.ProviderAKS:
		return e.AKS
	}
	return false
}

// ProvisionerConfig tunes the orchestrator
type ProvisionerConfig struct {
	// 0 means unbounded
	Concurrency     int           `yaml:"concurrency"`
	ClusterTimeout  time.Duration `yaml:"cluster_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	Validate        bool          `yaml:"validate"`
}

// VersionPolicyConfig selects how versions are resolved for one provider
type VersionPolicyConfig struct {
	Policy   string   `yaml:"policy"`
	Versions []string `yaml:"versions,omitempty"`
	Command  []string `yaml:"command,omitempty"`
}

// VersionsConfig is keyed by provider name
type VersionsConfig map[string]VersionPolicyConfig

// For returns the policy configured for provider p.
func (v VersionsConfig) For(p cluster.Provider) VersionPolicyConfig {
	return v[string(p)]
}

// ProviderType selects the cloud that hosts custom-host nodes
type ProviderType string

const (
	ProviderYandexCloud  ProviderType = "yandex_cloud"
	ProviderGCP          ProviderType = "gcp"
	ProviderAWS          ProviderType = "aws"
	ProviderDigitalOcean ProviderType = "digitalocean"
)

// HostsConfig configures the node pool used by custom-host and imported clusters.
// Exactly one of the cloud sections matching Type is read.
type HostsConfig struct {
	Type         ProviderType        `yaml:"type"`
	YandexCloud  *YandexCloudConfig  `yaml:"yandex_cloud,omitempty"`
	GCP          *GCPConfig          `yaml:"gcp,omitempty"`
	AWS          *AWSConfig          `yaml:"aws,omitempty"`
	DigitalOcean *DigitalOceanConfig `yaml:"digitalocean,omitempty"`

	WindowsImage    string        `yaml:"windows_image"`
	WindowsUsername string        `yaml:"windows_username"`
	SSHTimeout      time.Duration `yaml:"ssh_timeout"`
	PrePullImages   []string      `yaml:"pre_pull_images"`
}

// YandexCloudConfig holds Yandex Cloud credentials and VM defaults
type YandexCloudConfig struct {
	IAMToken        string `yaml:"iam_token"`
	FolderID        string `yaml:"folder_id"`
	DefaultZone     string `yaml:"default_zone"`
	DefaultImage    string `yaml:"default_image"`
	DefaultUsername string `yaml:"default_username"`
	DefaultCores    int    `yaml:"default_cores"`
	DefaultMemory   int64  `yaml:"default_memory"`    // in GB
	DefaultDiskSize int64  `yaml:"default_disk_size"` // in GB
}

// GCPConfig holds Google Cloud credentials and VM defaults
type GCPConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsPath string `yaml:"credentials_path"`
	DefaultZone     string `yaml:"default_zone"`
	DefaultImage    string `yaml:"default_image"`
	DefaultUsername string `yaml:"default_username"`
	DefaultCores    int    `yaml:"default_cores"`
	DefaultMemory   int64  `yaml:"default_memory"`
	DefaultDiskSize int64  `yaml:"default_disk_size"`
}

// AWSConfig holds AWS credentials and VM defaults
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	DefaultZone     string `yaml:"default_zone"`
	DefaultImage    string `yaml:"default_image"`
	DefaultUsername string `yaml:"default_username"`
	DefaultCores    int    `yaml:"default_cores"`
	DefaultMemory   int64  `yaml:"default_memory"`
	DefaultDiskSize int64  `yaml:"default_disk_size"`
}

// DigitalOceanConfig holds DigitalOcean credentials and droplet defaults
type DigitalOceanConfig struct {
	Token           string `yaml:"token"`
	DefaultRegion   string `yaml:"default_region"`
	DefaultImage    string `yaml:"default_image"`
	DefaultUsername string `yaml:"default_username"`
	DefaultCores    int    `yaml:"default_cores"`
	DefaultMemory   int64  `yaml:"default_memory"`
	DefaultDiskSize int64  `yaml:"default_disk_size"`
}

// RKEConfig shapes custom-host clusters
type RKEConfig struct {
	NetworkPlugin  string                 `yaml:"network_plugin"`
	FlannelBackend cluster.FlannelBackend `yaml:"flannel_backend"`
}

// ImportConfig shapes imported RKE clusters
type ImportConfig struct {
	Nodes   int    `yaml:"nodes"`
	RKEBin  string `yaml:"rke_bin"`
	Kubectl string `yaml:"kubectl_bin"`
	WorkDir string `yaml:"work_dir"`
}

// EKSConfig shapes EKS clusters
type EKSConfig struct {
	Region          string `yaml:"region"`
	CloudCredential string `yaml:"cloud_credential"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	InstanceType    string `yaml:"instance_type"`
	NodeCount       int64  `yaml:"node_count"`
}

// GKEConfig shapes GKE clusters
type GKEConfig struct {
	ProjectID       string `yaml:"project_id"`
	Zone            string `yaml:"zone"`
	CloudCredential string `yaml:"cloud_credential"`
	CredentialsPath string `yaml:"credentials_path"`
	MachineType     string `yaml:"machine_type"`
	NodeCount       int64  `yaml:"node_count"`
	DiskSizeGB      int64  `yaml:"disk_size_gb"`
}

// AKSConfig shapes AKS clusters
type AKSConfig struct {
	CloudCredential  string `yaml:"cloud_credential"`
	ResourceGroup    string `yaml:"resource_group"`
	ResourceLocation string `yaml:"resource_location"`
	VMSize           string `yaml:"vm_size"`
	NodeCount        int64  `yaml:"node_count"`
}

// EtcdConfig lists etcd endpoints. Empty disables persistence.
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
}

// ReportConfig names the artifacts written after a run
type ReportConfig struct {
	EnvFile     string `yaml:"env_file"`
	DetailsFile string `yaml:"details_file"`
}

// MetricsConfig configures the Prometheus endpoint. Empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Deploy flags read from the environment
const (
	EnvDeployRKE        = "RANCHER_TEST_DEPLOY_RKE"
	EnvDeployRKEWindows = "RANCHER_TEST_DEPLOY_RKE_WINDOWS"
	EnvDeployEKS        = "RANCHER_TEST_DEPLOY_EKS"
	EnvDeployGKE        = "RANCHER_TEST_DEPLOY_GKE"
	EnvDeployAKS        = "RANCHER_TEST_DEPLOY_AKS"
	EnvDeployRKEImport  = "RANCHER_TEST_DEPLOY_RKE_IMPORT"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Provisioner: ProvisionerConfig{
			ClusterTimeout:  45 * time.Minute,
			PollInterval:    10 * time.Second,
			MaxPollInterval: 2 * time.Minute,
			TeardownTimeout: 15 * time.Minute,
			Validate:        true,
		},
		Versions: VersionsConfig{
			string(cluster.ProviderRKE):       {Policy: "all-current"},
			string(cluster.ProviderRKEImport): {Policy: "external-tool", Command: []string{"rke", "config", "--list-version", "-a"}},
			string(cluster.ProviderEKS):       {Policy: "bounds-only"},
			string(cluster.ProviderGKE):       {Policy: "bounds-only"},
			string(cluster.ProviderAKS):       {Policy: "bounds-only"},
		},
		Hosts: HostsConfig{
			WindowsUsername: "Administrator",
			SSHTimeout:      5 * time.Minute,
			PrePullImages: []string{
				"ranchertest/mytestcontainer",
				"ranchertest/nginx",
				"ranchertest/os-base",
			},
		},
		RKE: RKEConfig{
			NetworkPlugin:  "canal",
			FlannelBackend: cluster.FlannelVXLAN,
		},
		Import: ImportConfig{
			Nodes:   3,
			RKEBin:  "rke",
			Kubectl: "kubectl",
		},
		EKS: EKSConfig{
			Region:       "us-east-2",
			InstanceType: "t3.large",
			NodeCount:    3,
		},
		GKE: GKEConfig{
			Zone:        "us-central1-f",
			MachineType: "n1-standard-2",
			NodeCount:   3,
			DiskSizeGB:  100,
		},
		AKS: AKSConfig{
			ResourceLocation: "eastus",
			VMSize:           "Standard_DS2_v2",
			NodeCount:        3,
		},
		Report: ReportConfig{
			EnvFile:     "rancher_env.config",
			DetailsFile: "cluster_details.yaml",
		},
	}
}

// Load loads configuration from YAML file and environment
func Load() (*Config, error) {
	config := Default()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "clusterswarm.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.expandEnv()
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) expandEnv() {
	c.Rancher.URL = os.ExpandEnv(c.Rancher.URL)
	c.Rancher.Token = os.ExpandEnv(c.Rancher.Token)
	c.Rancher.KDMURL = os.ExpandEnv(c.Rancher.KDMURL)
	c.EKS.CloudCredential = os.ExpandEnv(c.EKS.CloudCredential)
	c.EKS.AccessKeyID = os.ExpandEnv(c.EKS.AccessKeyID)
	c.EKS.SecretAccessKey = os.ExpandEnv(c.EKS.SecretAccessKey)
	c.GKE.CloudCredential = os.ExpandEnv(c.GKE.CloudCredential)
	c.GKE.CredentialsPath = os.ExpandEnv(c.GKE.CredentialsPath)
	c.AKS.CloudCredential = os.ExpandEnv(c.AKS.CloudCredential)

	if y := c.Hosts.YandexCloud; y != nil {
		y.IAMToken = os.ExpandEnv(y.IAMToken)
		y.FolderID = os.ExpandEnv(y.FolderID)
	}
	if g := c.Hosts.GCP; g != nil {
		g.CredentialsPath = os.ExpandEnv(g.CredentialsPath)
	}
	if a := c.Hosts.AWS; a != nil {
		a.AccessKeyID = os.ExpandEnv(a.AccessKeyID)
		a.SecretAccessKey = os.ExpandEnv(a.SecretAccessKey)
	}
	if d := c.Hosts.DigitalOcean; d != nil {
		d.Token = os.ExpandEnv(d.Token)
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RANCHER_URL"); v != "" {
		c.Rancher.URL = v
	}
	if v := os.Getenv("RANCHER_TOKEN"); v != "" {
		c.Rancher.Token = v
	}
	if v := os.Getenv("KDM_URL"); v != "" {
		c.Rancher.KDMURL = v
	}
	envBool("UPDATE_KDM", &c.Rancher.UpdateKDM)

	envBool(EnvDeployRKE, &c.Deploy.RKE)
	envBool(EnvDeployRKEWindows, &c.Deploy.RKEWindows)
	envBool(EnvDeployEKS, &c.Deploy.EKS)
	envBool(EnvDeployGKE, &c.Deploy.GKE)
	envBool(EnvDeployAKS, &c.Deploy.AKS)
	envBool(EnvDeployRKEImport, &c.Deploy.RKEImport)

	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		c.Etcd.Endpoints = splitList(v)
	}
	if v := os.Getenv("RANCHER_EKS_K8S_VERSIONS"); v != "" {
		eks := c.Versions.For(cluster.ProviderEKS)
		eks.Versions = splitList(v)
		c.Versions[string(cluster.ProviderEKS)] = eks
	}

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.EKS.AccessKeyID = v
		if c.Hosts.AWS != nil {
			c.Hosts.AWS.AccessKeyID = v
		}
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.EKS.SecretAccessKey = v
		if c.Hosts.AWS != nil {
			c.Hosts.AWS.SecretAccessKey = v
		}
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.EKS.Region = v
		if c.Hosts.AWS != nil {
			c.Hosts.AWS.Region = v
		}
	}
}

// Validate checks that every enabled provider has what it needs.
func (c *Config) Validate() error {
	var errs []error

	if c.Rancher.URL == "" {
		errs = append(errs, errors.New("rancher URL is required (set rancher.url in config file or RANCHER_URL environment variable)"))
	}
	if c.Rancher.Token == "" {
		errs = append(errs, errors.New("rancher token is required (set rancher.token in config file or RANCHER_TOKEN environment variable)"))
	}
	if c.Rancher.UpdateKDM && c.Rancher.KDMURL == "" {
		errs = append(errs, errors.New("kdm_url is required when update_kdm is set"))
	}

	if c.Deploy.IsEnabled(cluster.ProviderRKE) || c.Deploy.RKEImport {
		if c.Hosts.Type == "" {
			errs = append(errs, errors.New("hosts.type is required for custom-host and imported clusters"))
		}
	}
	if c.Deploy.EKS && (c.EKS.CloudCredential == "" || c.EKS.Region == "") {
		errs = append(errs, errors.New("eks.cloud_credential and eks.region are required when EKS is enabled"))
	}
	if c.Deploy.GKE && (c.GKE.CloudCredential == "" || c.GKE.ProjectID == "" || c.GKE.Zone == "") {
		errs = append(errs, errors.New("gke.cloud_credential, gke.project_id and gke.zone are required when GKE is enabled"))
	}
	if c.Deploy.AKS && (c.AKS.CloudCredential == "" || c.AKS.ResourceGroup == "" || c.AKS.ResourceLocation == "") {
		errs = append(errs, errors.New("aks.cloud_credential, aks.resource_group and aks.resource_location are required when AKS is enabled"))
	}
	if c.Provisioner.Concurrency < 0 {
		errs = append(errs, errors.New("provisioner.concurrency must not be negative"))
	}

	return multierr.Combine(errs...)
}

// ParseBoolFlag parses a boolean literal as written by CI jobs: Go forms
// ("true", "1", "F", ...) and the Python literals "True"/"False".
// ok is false for anything else.
func ParseBoolFlag(value string) (enabled, ok bool) {
	v := strings.TrimSpace(value)
	if b, err := strconv.ParseBool(v); err == nil {
		return b, true
	}
	return false, false
}

// envBool overrides *dst when name is set. Unparsable values disable the flag.
func envBool(name string, dst *bool) {
	raw, set := os.LookupEnv(name)
	if !set {
		return
	}
	enabled, ok := ParseBoolFlag(raw)
	if !ok {
		logging.Logger().Warn("unparsable boolean flag, treating as disabled",
			zap.String("variable", name),
			zap.String("value", raw))
	}
	*dst = enabled
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
