package hosts

import (
	"context"
	"fmt"

	"clusterswarm/internal/logging"

	"github.com/yandex-cloud/go-genproto/yandex/cloud/compute/v1"
	"github.com/yandex-cloud/go-genproto/yandex/cloud/vpc/v1"
	ycsdk "github.com/yandex-cloud/go-sdk"
	"go.uber.org/zap"
)

const fallbackYcImage = "fd82odtq5h79jo7ffss3"

// YcPool implements Pool for Yandex Cloud
type YcPool struct {
	sdk      *ycsdk.SDK
	folderID string
}

// NewYcPool creates a pool for folderID
func NewYcPool(ctx context.Context, iamToken, folderID string) (*YcPool, error) {
	sdk, err := ycsdk.Build(ctx, ycsdk.Config{
		Credentials: ycsdk.NewIAMTokenCredentials(iamToken),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SDK: %w", err)
	}

	return &YcPool{
		sdk:      sdk,
		folderID: folderID,
	}, nil
}

// Create creates a new VM and waits for the operation
func (p *YcPool) Create(ctx context.Context, spec NodeSpec) (*Node, error) {
	subnetID, err := p.findSubnet(ctx, spec.Zone)
	if err != nil {
		return nil, err
	}

	imageID := spec.ImageID
	if imageID == "" {
		imageID = p.defaultImage(ctx, spec.Windows)
	}

	userData, err := generateUserData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	request := &compute.CreateInstanceRequest{
		FolderId:   p.folderID,
		Name:       spec.Name,
		ZoneId:     spec.Zone,
		PlatformId: "standard-v3",
		Labels:     map[string]string{"clusterswarm": "true"},
		ResourcesSpec: &compute.ResourcesSpec{
			Cores:  int64(spec.Cores),
			Memory: spec.Memory * 1024 * 1024 * 1024,
		},
		BootDiskSpec: &compute.AttachedDiskSpec{
			AutoDelete: true,
			Disk: &compute.AttachedDiskSpec_DiskSpec_{
				DiskSpec: &compute.AttachedDiskSpec_DiskSpec{
					TypeId: "network-ssd",
					Size:   spec.DiskSize * 1024 * 1024 * 1024,
					Source: &compute.AttachedDiskSpec_DiskSpec_ImageId{
						ImageId: imageID,
					},
				},
			},
		},
		NetworkInterfaceSpecs: []*compute.NetworkInterfaceSpec{
			{
				SubnetId: subnetID,
				PrimaryV4AddressSpec: &compute.PrimaryAddressSpec{
					OneToOneNatSpec: &compute.OneToOneNatSpec{
						IpVersion: compute.IpVersion_IPV4,
					},
				},
			},
		},
		Metadata: map[string]string{
			"user-data": userData,
		},
	}

	pop, err := p.sdk.Compute().Instance().Create(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM: %w", err)
	}

	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap operation: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for operation: %w", err)
	}

	resp, err := op.Response()
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	instance, ok := resp.(*compute.Instance)
	if !ok {
		return nil, fmt.Errorf("unexpected create response %T", resp)
	}

	node := &Node{
		ID:       instance.Id,
		Name:     instance.Name,
		Zone:     instance.ZoneId,
		Status:   instance.Status.String(),
		Username: spec.Username,
		Windows:  spec.Windows,
	}
	if len(instance.NetworkInterfaces) > 0 {
		if addr := instance.NetworkInterfaces[0].PrimaryV4Address; addr != nil {
			node.PrivateIP = addr.Address
			if nat := addr.OneToOneNat; nat != nil {
				node.IP = nat.Address
			}
		}
	}
	return node, nil
}

// Delete deletes a VM by ID
func (p *YcPool) Delete(ctx context.Context, id string) error {
	pop, err := p.sdk.Compute().Instance().Delete(ctx, &compute.DeleteInstanceRequest{
		InstanceId: id,
	})
	if err != nil {
		return fmt.Errorf("failed to delete VM: %w", err)
	}

	op, err := p.sdk.WrapOperation(pop, nil)
	if err != nil {
		return fmt.Errorf("failed to wrap operation: %w", err)
	}
	if err := op.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for operation: %w", err)
	}
	return nil
}

func (p *YcPool) findSubnet(ctx context.Context, zone string) (string, error) {
	resp, err := p.sdk.VPC().Subnet().List(ctx, &vpc.ListSubnetsRequest{
		FolderId: p.folderID,
		PageSize: 100,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list subnets: %w", err)
	}

	for _, subnet := range resp.Subnets {
		if subnet.ZoneId == zone {
			return subnet.Id, nil
		}
	}
	return "", fmt.Errorf("no subnet found in zone %s", zone)
}

func (p *YcPool) defaultImage(ctx context.Context, windows bool) string {
	family := "ubuntu-2204-lts"
	if windows {
		family = "windows-2019-dc-gvlk"
	}
	image, err := p.sdk.Compute().Image().GetLatestByFamily(ctx, &compute.GetImageLatestByFamilyRequest{
		FolderId: "standard-images",
		Family:   family,
	})
	if err != nil {
		logging.Logger().Warn("failed to resolve image family, using fallback image",
			zap.String("family", family),
			zap.Error(err))
		return fallbackYcImage
	}
	return image.Id
}
