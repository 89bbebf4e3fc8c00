package cluster

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const namePrefix = "test-auto"

// RandomName returns a unique cluster name for provider.
func RandomName(provider Provider) string {
	return fmt.Sprintf("%s-%s-%s", namePrefix, providerSlug(provider), shortID())
}

// IndexedName returns "test-auto-<provider>-<i>-<suffix>". GKE clusters keep the
// indexed naming used by existing reporting jobs.
func IndexedName(provider Provider, i int, suffix string) string {
	return fmt.Sprintf("%s-%s-%d-%s", namePrefix, providerSlug(provider), i, suffix)
}

// NewRunID returns an identifier for one orchestration run.
func NewRunID() string {
	return "run-" + uuid.NewString()
}

// ShortRunID returns the first 8 characters of the uuid part of a run id.
func ShortRunID(runID string) string {
	id := strings.TrimPrefix(runID, "run-")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// cluster names must be DNS labels, underscores are not allowed
func providerSlug(p Provider) string {
	return strings.ReplaceAll(string(p), "_", "")
}

// DefaultTopology is the custom-host layout: one controlplane, one etcd and three workers.
func DefaultTopology() []RoleSet {
	return []RoleSet{
		{RoleControlPlane},
		{RoleEtcd},
		{RoleWorker},
		{RoleWorker},
		{RoleWorker},
	}
}

// WindowsLinuxNodes is the number of leading Linux nodes in a Windows topology.
const WindowsLinuxNodes = 3

// WindowsTopology returns the Linux node roles followed by three Windows workers.
func WindowsTopology() []RoleSet {
	return []RoleSet{
		{RoleControlPlane}, {RoleEtcd}, {RoleWorker},
		{RoleWorker}, {RoleWorker}, {RoleWorker},
	}
}

// AllRolesTopology is used for imported RKE clusters: every node carries every role.
func AllRolesTopology(nodes int) []RoleSet {
	out := make([]RoleSet, nodes)
	for i := range out {
		out[i] = RoleSet{RoleControlPlane, RoleEtcd, RoleWorker}
	}
	return out
}
