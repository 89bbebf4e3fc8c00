// Package cluster holds the data model shared by the orchestrator: requests,
// records, outcomes and the error kinds they carry.
package cluster

import (
	"fmt"
	"slices"
	"time"
)

// Provider identifies a cluster provisioning method
type Provider string

const (
	ProviderRKE       Provider = "rke"
	ProviderRKEImport Provider = "rke_import"
	ProviderEKS       Provider = "eks"
	ProviderAKS       Provider = "aks"
	ProviderGKE       Provider = "gke"
)

// Providers returns every provider in report order.
func Providers() []Provider {
	return []Provider{ProviderRKE, ProviderRKEImport, ProviderEKS, ProviderAKS, ProviderGKE}
}

// ParseProvider converts a provider name into a Provider.
func ParseProvider(s string) (Provider, error) {
	for _, p := range Providers() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider: %s", s)
}

// Role is a Kubernetes node role
type Role string

const (
	RoleControlPlane Role = "controlplane"
	RoleEtcd         Role = "etcd"
	RoleWorker       Role = "worker"
)

// RoleSet is the set of roles a single node carries
type RoleSet []Role

// Has reports whether the set contains role.
func (rs RoleSet) Has(role Role) bool {
	return slices.Contains(rs, role)
}

// FlannelBackend selects the flannel backend of Windows clusters
type FlannelBackend string

const (
	FlannelVXLAN  FlannelBackend = "vxlan"
	FlannelHostGW FlannelBackend = "host-gw"
)

// Request describes a desired cluster. The provisioner copies it on submission,
// so later changes by the caller are never observed.
type Request struct {
	Provider          Provider       `json:"provider" yaml:"provider"`
	KubernetesVersion string         `json:"k8s_version" yaml:"k8s_version"`
	NodeRoles         []RoleSet      `json:"node_roles,omitempty" yaml:"node_roles,omitempty"`
	Name              string         `json:"name" yaml:"name"`
	Windows           bool           `json:"windows,omitempty" yaml:"windows,omitempty"`
	FlannelBackend    FlannelBackend `json:"flannel_backend,omitempty" yaml:"flannel_backend,omitempty"`
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	out := r
	if r.NodeRoles != nil {
		out.NodeRoles = make([]RoleSet, len(r.NodeRoles))
		for i, rs := range r.NodeRoles {
			out.NodeRoles[i] = slices.Clone(rs)
		}
	}
	return out
}

// IsWindowsNode reports whether the i-th role-set of a Windows request runs Windows.
func (r Request) IsWindowsNode(i int) bool {
	return r.Windows && i >= WindowsLinuxNodes
}

// Key returns the registry key of the request.
func (r Request) Key() Key {
	return Key{Provider: r.Provider, Name: r.Name}
}

// Key addresses a cluster inside a run
type Key struct {
	Provider Provider
	Name     string
}

func (k Key) String() string {
	return string(k.Provider) + "/" + k.Name
}

// Status is the lifecycle state of a cluster record
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCreating  Status = "Creating"
	StatusReady     Status = "Ready"
	StatusFailed    Status = "Failed"
	StatusDestroyed Status = "Destroyed"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusCreating, StatusFailed},
	StatusCreating: {StatusReady, StatusFailed, StatusDestroyed},
	StatusReady:    {StatusDestroyed},
	StatusFailed:   {StatusDestroyed},
}

// CanTransition reports whether a record may move from s to next.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Active reports whether a cluster in this state may still hold remote resources.
func (s Status) Active() bool {
	return s == StatusCreating || s == StatusReady || s == StatusFailed
}

// Record is the registry entry of one cluster
type Record struct {
	Request    Request   `json:"request"`
	Status     Status    `json:"status"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  Kind      `json:"error_kind,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Request = r.Request.Clone()
	return out
}

// Handle is what an adapter returns after a create request was accepted
type Handle struct {
	ExternalID string
	Kubeconfig string
}

// Outcome is the final result of one submitted request
type Outcome struct {
	Index   int
	Request Request
	Record  *Record
	Err     error
}

// Succeeded reports whether the outcome carries no error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
