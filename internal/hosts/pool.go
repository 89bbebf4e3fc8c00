// Package hosts creates and deletes the cloud VMs that back custom-host and
// imported clusters.
package hosts

import (
	"context"
	"time"
)

// NodeSpec represents the specification for creating a VM
type NodeSpec struct {
	Name         string
	Cores        int
	Memory       int64 // in GB
	DiskSize     int64 // in GB
	ImageID      string
	Zone         string
	SSHPublicKey string
	Username     string
	Windows      bool
}

// Node contains information about a created VM
type Node struct {
	ID        string
	IP        string
	PrivateIP string
	Name      string
	Zone      string
	Status    string
	Username  string
	Windows   bool
}

// Pool creates and deletes VMs in one cloud
type Pool interface {
	Create(ctx context.Context, spec NodeSpec) (*Node, error)
	Delete(ctx context.Context, id string) error
}

// SourceDestChecker is implemented by pools whose network drops traffic not
// addressed to the node. host-gw routing needs the check disabled.
type SourceDestChecker interface {
	DisableSourceDestCheck(ctx context.Context, id string) error
}

// waitInterval is the delay between VM state polls
var waitInterval = 5 * time.Second

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
