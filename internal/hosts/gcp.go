package hosts

import (
	"context"
	"fmt"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// GCPPool implements Pool for Google Compute Engine. Instances are addressed
// by name inside the pool's zone.
type GCPPool struct {
	service   *compute.Service
	projectID string
	zone      string
}

// NewGCPPool creates a pool for project in zone
func NewGCPPool(ctx context.Context, projectID, zone, credentialsFile string) (*GCPPool, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, credentialsFile))
	}

	service, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute service: %w", err)
	}

	return &GCPPool{
		service:   service,
		projectID: projectID,
		zone:      zone,
	}, nil
}

// Create creates a new VM and waits for the insert operation
func (p *GCPPool) Create(ctx context.Context, spec NodeSpec) (*Node, error) {
	userData, err := generateUserData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	zone := p.zone
	if spec.Zone != "" && spec.Zone != zone {
		return nil, fmt.Errorf("zone %s differs from the pool zone %s", spec.Zone, zone)
	}

	metadataKey := "user-data"
	if spec.Windows {
		metadataKey = "windows-startup-script-ps1"
	}

	rb := &compute.Instance{
		Name:         spec.Name,
		MachineType:  fmt.Sprintf("zones/%s/machineTypes/%s", zone, p.mapResourcesToMachineType(spec.Cores, spec.Memory)),
		CanIpForward: true,
		Disks: []*compute.AttachedDisk{
			{
				AutoDelete: true,
				Boot:       true,
				Type:       "PERSISTENT",
				InitializeParams: &compute.AttachedDiskInitializeParams{
					SourceImage: spec.ImageID,
					DiskSizeGb:  spec.DiskSize,
				},
			},
		},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				AccessConfigs: []*compute.AccessConfig{
					{
						Type: "ONE_TO_ONE_NAT",
						Name: "External NAT",
					},
				},
				Network: "global/networks/default",
			},
		},
		Metadata: &compute.Metadata{
			Items: []*compute.MetadataItems{
				{
					Key:   metadataKey,
					Value: &userData,
				},
			},
		},
		Labels: map[string]string{"clusterswarm": "true"},
	}

	op, err := p.service.Instances.Insert(p.projectID, zone, rb).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert instance: %w", err)
	}

	if err := p.waitForOperation(ctx, op.Name); err != nil {
		return nil, fmt.Errorf("operation failed: %w", err)
	}

	instance, err := p.service.Instances.Get(p.projectID, zone, spec.Name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	node := &Node{
		ID:       instance.Name,
		Name:     instance.Name,
		Zone:     zone,
		Status:   instance.Status,
		Username: spec.Username,
		Windows:  spec.Windows,
	}
	if len(instance.NetworkInterfaces) > 0 {
		nic := instance.NetworkInterfaces[0]
		node.PrivateIP = nic.NetworkIP
		if len(nic.AccessConfigs) > 0 {
			node.IP = nic.AccessConfigs[0].NatIP
		}
	}
	return node, nil
}

// Delete deletes a VM by name and waits for the operation
func (p *GCPPool) Delete(ctx context.Context, id string) error {
	op, err := p.service.Instances.Delete(p.projectID, p.zone, id).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	if err := p.waitForOperation(ctx, op.Name); err != nil {
		return fmt.Errorf("delete operation failed: %w", err)
	}
	return nil
}

func (p *GCPPool) waitForOperation(ctx context.Context, opName string) error {
	for i := 0; i < 60; i++ {
		op, err := p.service.ZoneOperations.Get(p.projectID, p.zone, opName).Context(ctx).Do()
		if err != nil {
			return err
		}
		if op.Status == "DONE" {
			if op.Error != nil && len(op.Error.Errors) > 0 {
				return fmt.Errorf("operation error: %s", op.Error.Errors[0].Message)
			}
			return nil
		}
		if err := sleepCtx(ctx, waitInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("timeout waiting for operation %s", opName)
}

func (p *GCPPool) mapResourcesToMachineType(cores int, memory int64) string {
	if cores <= 2 && memory <= 4 {
		return "e2-medium"
	}
	if cores <= 2 && memory <= 8 {
		return "e2-standard-2"
	}
	if cores <= 4 {
		return "e2-standard-4"
	}
	return "e2-standard-8"
}
