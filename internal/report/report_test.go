package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func outcome(i int, p cluster.Provider, name, version string, err error) cluster.Outcome {
	return cluster.Outcome{
		Index:   i,
		Request: cluster.Request{Provider: p, Name: name, KubernetesVersion: version},
		Err:     err,
	}
}

func TestAggregateRestoresSubmissionOrder(t *testing.T) {
	timeout := cluster.NewProvisionError(cluster.KindTimeout, cluster.Key{Provider: cluster.ProviderEKS, Name: "eks-a"}, errors.New("deadline exceeded"))
	outcomes := []cluster.Outcome{
		outcome(2, cluster.ProviderRKE, "rke-a", "v1.21.3-rancher1-1", nil),
		outcome(1, cluster.ProviderEKS, "eks-b", "1.22", nil),
		outcome(0, cluster.ProviderEKS, "eks-a", "1.20", timeout),
	}

	r := Aggregate(registry.Snapshot{RunID: "run-1"}, outcomes)

	assert.False(t, r.Success)
	assert.Equal(t, []string{"eks-b", "rke-a"}, r.Names)
	assert.Equal(t, map[cluster.Provider]map[string]string{
		cluster.ProviderEKS: {"eks-b": "1.22"},
		cluster.ProviderRKE: {"rke-a": "v1.21.3-rancher1-1"},
	}, r.Details)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, cluster.KindTimeout, r.Failures[0].Kind)
	assert.Equal(t, "eks-a", r.Failures[0].Name)
}

func TestAggregateEmptyRunSucceeds(t *testing.T) {
	r := Aggregate(registry.Snapshot{}, nil)
	assert.True(t, r.Success)
	assert.Empty(t, r.Names)
	assert.Equal(t, "env.RANCHER_CLUSTER_NAMES=''\n", r.EnvFile())
}

func TestWriteEnvFileIsExact(t *testing.T) {
	r := Report{Names: []string{"test-auto-eks-1a2b3c4d", "test-auto-gke-1-abcd1234"}}
	path := filepath.Join(t.TempDir(), "rancher_env.config")

	require.NoError(t, r.WriteEnvFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "env.RANCHER_CLUSTER_NAMES='test-auto-eks-1a2b3c4d,test-auto-gke-1-abcd1234'\n", string(data))
}

func TestWriteDetails(t *testing.T) {
	r := Report{Details: map[cluster.Provider]map[string]string{
		cluster.ProviderAKS: {"aks-a": "1.22.6"},
		cluster.ProviderGKE: {"gke-a": "1.21.5-gke.1302", "gke-b": "1.22.4-gke.1501"},
	}}
	path := filepath.Join(t.TempDir(), "cluster_details.yaml")

	require.NoError(t, r.WriteDetails(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]map[string]string
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "1.22.4-gke.1501", got["gke"]["gke-b"])
	assert.Equal(t, "1.22.6", got["aks"]["aks-a"])
}

func TestFromSnapshot(t *testing.T) {
	snap := registry.Snapshot{RunID: "run-1", Records: []cluster.Record{
		{Request: cluster.Request{Provider: cluster.ProviderAKS, Name: "a", KubernetesVersion: "1.22.6"}, Status: cluster.StatusReady},
		{Request: cluster.Request{Provider: cluster.ProviderAKS, Name: "b", KubernetesVersion: "1.23.3"}, Status: cluster.StatusFailed, Error: "quota", ErrorKind: cluster.KindRemoteRejected},
		{Request: cluster.Request{Provider: cluster.ProviderEKS, Name: "c", KubernetesVersion: "1.21"}, Status: cluster.StatusDestroyed},
	}}

	r := FromSnapshot(snap)

	assert.False(t, r.Success)
	assert.Equal(t, []string{"a", "c"}, r.Names)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, cluster.KindRemoteRejected, r.Failures[0].Kind)
	assert.Contains(t, r.Failures[0].Message, "quota")
}

func TestFormatClusters(t *testing.T) {
	clusters := map[string]string{"b": "1.22", "a": "1.20"}
	assert.Equal(t, "{'a': '1.20', 'b': '1.22'}", formatClusters([]string{"a", "b"}, clusters))
}

func TestSummaryLinesNameProviderAndVersion(t *testing.T) {
	r := Aggregate(registry.Snapshot{RunID: "run-1"}, []cluster.Outcome{
		outcome(0, cluster.ProviderEKS, "test-auto-eks-b", "1.22", nil),
		outcome(1, cluster.ProviderEKS, "test-auto-eks-a", "1.20", nil),
	})

	assert.Equal(t, []string{
		"eks: {'test-auto-eks-a': '1.20', 'test-auto-eks-b': '1.22'}",
		"eks --> 1.20",
		"eks --> 1.22",
	}, r.SummaryLines())
}

func TestLogDoesNotPanic(t *testing.T) {
	r := Aggregate(registry.Snapshot{RunID: "run-1"}, []cluster.Outcome{
		outcome(0, cluster.ProviderEKS, "a", "1.21", nil),
		outcome(1, cluster.ProviderEKS, "b", "1.22", errors.New("boom")),
	})
	assert.NotPanics(t, r.Log)
}
