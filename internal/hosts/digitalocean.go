package hosts

import (
	"context"
	"fmt"
	"strconv"

	"github.com/digitalocean/godo"
)

// DOPool implements Pool for DigitalOcean droplets
type DOPool struct {
	client *godo.Client
}

// NewDOPool creates a pool authenticated with token
func NewDOPool(token string) (*DOPool, error) {
	if token == "" {
		return nil, fmt.Errorf("digitalocean token is empty")
	}
	return &DOPool{client: godo.NewFromToken(token)}, nil
}

// Create creates a droplet and waits until it is active
func (p *DOPool) Create(ctx context.Context, spec NodeSpec) (*Node, error) {
	if spec.Windows {
		return nil, fmt.Errorf("digitalocean does not offer Windows droplets")
	}

	userData, err := generateUserData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	createRequest := &godo.DropletCreateRequest{
		Name:   spec.Name,
		Region: spec.Zone,
		Size:   p.mapResourcesToSize(spec.Cores, spec.Memory),
		Image: godo.DropletCreateImage{
			Slug: spec.ImageID,
		},
		UserData:          userData,
		PrivateNetworking: true,
		Tags:              []string{"clusterswarm"},
	}

	droplet, _, err := p.client.Droplets.Create(ctx, createRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to create droplet: %w", err)
	}

	for i := 0; i < 60; i++ {
		d, _, err := p.client.Droplets.Get(ctx, droplet.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get droplet: %w", err)
		}

		if d.Status == "active" {
			ip, _ := d.PublicIPv4()
			privateIP, _ := d.PrivateIPv4()
			node := &Node{
				ID:        strconv.Itoa(d.ID),
				IP:        ip,
				PrivateIP: privateIP,
				Name:      d.Name,
				Status:    d.Status,
				Username:  spec.Username,
			}
			if d.Region != nil {
				node.Zone = d.Region.Slug
			}
			return node, nil
		}

		if err := sleepCtx(ctx, waitInterval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("timed out waiting for droplet %d to be active", droplet.ID)
}

// Delete deletes a droplet by ID
func (p *DOPool) Delete(ctx context.Context, id string) error {
	dropletID, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("invalid droplet ID %q: %w", id, err)
	}

	if _, err := p.client.Droplets.Delete(ctx, dropletID); err != nil {
		return fmt.Errorf("failed to delete droplet: %w", err)
	}
	return nil
}

func (p *DOPool) mapResourcesToSize(cores int, memory int64) string {
	if cores <= 1 && memory <= 2 {
		return "s-1vcpu-2gb"
	}
	if cores <= 2 && memory <= 4 {
		return "s-2vcpu-4gb"
	}
	if cores <= 4 && memory <= 8 {
		return "s-4vcpu-8gb"
	}
	return "s-8vcpu-16gb"
}
