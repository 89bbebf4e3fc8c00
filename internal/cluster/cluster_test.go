package cluster

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCreating, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusReady, false},
		{StatusCreating, StatusReady, true},
		{StatusCreating, StatusFailed, true},
		{StatusCreating, StatusDestroyed, true},
		{StatusReady, StatusDestroyed, true},
		{StatusReady, StatusCreating, false},
		{StatusFailed, StatusReady, false},
		{StatusFailed, StatusDestroyed, true},
		{StatusDestroyed, StatusReady, false},
		{StatusReady, StatusReady, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestRequestCloneIsDeep(t *testing.T) {
	req := Request{Provider: ProviderRKE, Name: "a", NodeRoles: DefaultTopology()}
	clone := req.Clone()

	req.NodeRoles[0][0] = RoleWorker
	req.NodeRoles = append(req.NodeRoles, RoleSet{RoleEtcd})

	assert.Equal(t, RoleControlPlane, clone.NodeRoles[0][0])
	assert.Len(t, clone.NodeRoles, 5)
}

func TestIsWindowsNode(t *testing.T) {
	req := Request{Windows: true, NodeRoles: WindowsTopology()}
	for i := range req.NodeRoles {
		assert.Equal(t, i >= 3, req.IsWindowsNode(i), "node %d", i)
	}
	assert.False(t, Request{NodeRoles: WindowsTopology()}.IsWindowsNode(4))
}

func TestProvisionErrorKinds(t *testing.T) {
	key := Key{Provider: ProviderEKS, Name: "x"}
	base := errors.New("deadline")

	err := NewProvisionError(KindTimeout, key, base)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindTimeout, KindOf(wrapped))

	// an inner kind is kept when wrapped again
	again := NewProvisionError(KindRemoteRejected, key, wrapped)
	assert.Equal(t, KindTimeout, again.Kind)

	assert.Equal(t, Kind(""), KindOf(base))
}

func TestInvalidVersionErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("create: %w", &InvalidVersionError{Provider: ProviderEKS, Version: "v1.21.3-rancher1-1"})
	assert.ErrorIs(t, err, ErrInvalidVersion)
	assert.Contains(t, err.Error(), "v1.21.3-rancher1-1")
}

func TestRandomName(t *testing.T) {
	re := regexp.MustCompile(`^test-auto-rkeimport-[0-9a-f]{8}$`)
	a, b := RandomName(ProviderRKEImport), RandomName(ProviderRKEImport)
	assert.Regexp(t, re, a)
	assert.NotEqual(t, a, b)

	assert.Equal(t, "test-auto-gke-2-abcd1234", IndexedName(ProviderGKE, 2, "abcd1234"))
}

func TestRunID(t *testing.T) {
	id := NewRunID()
	require.Regexp(t, `^run-`, id)
	assert.Len(t, ShortRunID(id), 8)
	assert.Equal(t, "abc", ShortRunID("run-abc"))
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("rke_import")
	require.NoError(t, err)
	assert.Equal(t, ProviderRKEImport, p)

	_, err = ParseProvider("openstack")
	assert.Error(t, err)
}
