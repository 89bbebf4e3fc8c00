package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clusterswarm/internal/cluster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clusterswarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_PATH", path)
}

func clearDeployEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"RANCHER_URL", "RANCHER_TOKEN", "UPDATE_KDM", "KDM_URL", "ETCD_ENDPOINTS",
		EnvDeployRKE, EnvDeployRKEWindows, EnvDeployEKS, EnvDeployGKE, EnvDeployAKS, EnvDeployRKEImport,
		"RANCHER_EKS_K8S_VERSIONS", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadConfigValidation(t *testing.T) {
	clearDeployEnv(t)
	writeConfig(t, `report:
  env_file: out.config
`)

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "rancher URL is required")
	assert.Contains(t, err.Error(), "rancher token is required")
}

func TestLoadFromFile(t *testing.T) {
	clearDeployEnv(t)
	t.Setenv("TEST_EKS_CRED", "cattle-global-data:cc-abc")
	writeConfig(t, `rancher:
  url: https://rancher.example.com
  token: token-xyz
deploy:
  eks: true
provisioner:
  concurrency: 4
  cluster_timeout: 20m
eks:
  cloud_credential: ${TEST_EKS_CRED}
versions:
  eks:
    policy: bounds-only
    versions: ["1.20", "1.21", "1.22"]
`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://rancher.example.com", cfg.Rancher.URL)
	assert.True(t, cfg.Deploy.EKS)
	assert.False(t, cfg.Deploy.RKE)
	assert.Equal(t, 4, cfg.Provisioner.Concurrency)
	assert.Equal(t, 20*time.Minute, cfg.Provisioner.ClusterTimeout)
	assert.Equal(t, 10*time.Second, cfg.Provisioner.PollInterval, "defaults survive partial sections")
	assert.Equal(t, "cattle-global-data:cc-abc", cfg.EKS.CloudCredential)
	assert.Equal(t, []string{"1.20", "1.21", "1.22"}, cfg.Versions.For(cluster.ProviderEKS).Versions)
	assert.Equal(t, "all-current", cfg.Versions.For(cluster.ProviderRKE).Policy)
	assert.Equal(t, "rancher_env.config", cfg.Report.EnvFile)
}

func TestDeployFlagsFromEnvironment(t *testing.T) {
	clearDeployEnv(t)
	writeConfig(t, `rancher:
  url: https://rancher.example.com
  token: token-xyz
hosts:
  type: aws
deploy:
  gke: true
`)
	t.Setenv(EnvDeployRKE, "True")
	t.Setenv(EnvDeployRKEImport, "true")
	t.Setenv(EnvDeployGKE, "False")
	t.Setenv(EnvDeployAKS, "yes")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Deploy.RKE)
	assert.True(t, cfg.Deploy.RKEImport)
	assert.False(t, cfg.Deploy.GKE, "env wins over file")
	assert.False(t, cfg.Deploy.AKS, "unparsable flag is disabled")
	assert.Equal(t, []cluster.Provider{cluster.ProviderRKE, cluster.ProviderRKEImport}, cfg.Deploy.Enabled())
}

func TestValidateEnabledProviders(t *testing.T) {
	cfg := Default()
	cfg.Rancher.URL = "https://r"
	cfg.Rancher.Token = "t"
	require.NoError(t, cfg.Validate())

	cfg.Deploy.RKE = true
	cfg.Deploy.GKE = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hosts.type")
	assert.Contains(t, err.Error(), "gke.cloud_credential")

	cfg.Hosts.Type = ProviderAWS
	cfg.GKE.CloudCredential = "cc"
	cfg.GKE.ProjectID = "p"
	assert.NoError(t, cfg.Validate())
}

func TestParseBoolFlag(t *testing.T) {
	tests := []struct {
		in          string
		enabled, ok bool
	}{
		{"True", true, true},
		{"False", false, true},
		{"true", true, true},
		{"1", true, true},
		{" TRUE ", true, true},
		{"0", false, true},
		{"", false, false},
		{"yes", false, false},
		{"Truee", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			enabled, ok := ParseBoolFlag(tt.in)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestRKEWindowsEnablesRKEProvider(t *testing.T) {
	e := Enablement{RKEWindows: true}
	assert.True(t, e.IsEnabled(cluster.ProviderRKE))
	assert.Equal(t, []cluster.Provider{cluster.ProviderRKE}, e.Enabled())
}
