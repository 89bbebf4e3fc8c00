package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"clusterswarm/internal/tools"

	"github.com/Masterminds/semver/v3"
	"google.golang.org/api/container/v1"
)

// StaticLister reports a fixed list in the order given
type StaticLister []string

// List implements Lister
func (l StaticLister) List(context.Context) ([]string, error) {
	return append([]string(nil), l...), nil
}

// SettingsAPI reads management settings
type SettingsAPI interface {
	Setting(ctx context.Context, name string) (string, error)
}

// SettingLister reports the custom-host versions the management platform
// currently supports
type SettingLister struct {
	Settings SettingsAPI
}

// List implements Lister. Platforms of the v2.2 line publish their versions
// only as the keys of k8s-version-to-images.
func (l SettingLister) List(ctx context.Context) ([]string, error) {
	serverVersion, err := l.Settings.Setting(ctx, "server-version")
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(serverVersion, "v2.2") {
		raw, err := l.Settings.Setting(ctx, "k8s-version-to-images")
		if err != nil {
			return nil, err
		}
		var images map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &images); err != nil {
			return nil, fmt.Errorf("failed to decode k8s-version-to-images: %w", err)
		}
		versions := make([]string, 0, len(images))
		for v := range images {
			versions = append(versions, v)
		}
		SortVersions(versions)
		return versions, nil
	}

	raw, err := l.Settings.Setting(ctx, "k8s-versions-current")
	if err != nil {
		return nil, err
	}
	return strings.Split(raw, ","), nil
}

// AKSVersionsAPI lists the versions AKS offers
type AKSVersionsAPI interface {
	AKSVersions(ctx context.Context, cloudCredentialID, region string) ([]string, error)
}

// AKSLister reports AKS versions through the management platform
type AKSLister struct {
	API             AKSVersionsAPI
	CloudCredential string
	Region          string
}

// List implements Lister
func (l AKSLister) List(ctx context.Context) ([]string, error) {
	versions, err := l.API.AKSVersions(ctx, l.CloudCredential, l.Region)
	if err != nil {
		return nil, err
	}
	SortVersions(versions)
	return versions, nil
}

// GKELister reports the master versions GKE accepts in a location
type GKELister struct {
	Service   *container.Service
	ProjectID string
	Location  string
}

// List implements Lister
func (l GKELister) List(ctx context.Context) ([]string, error) {
	name := fmt.Sprintf("projects/%s/locations/%s", l.ProjectID, l.Location)
	cfg, err := l.Service.Projects.Locations.GetServerConfig(name).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get GKE server config: %w", err)
	}
	versions := append([]string(nil), cfg.ValidMasterVersions...)
	SortVersions(versions)
	return versions, nil
}

// ToolLister runs an external command that prints one version per line
type ToolLister struct {
	Runner  tools.Runner
	Command []string
}

// List implements Lister
func (l ToolLister) List(ctx context.Context) ([]string, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("no version listing command configured")
	}
	out, err := l.Runner.Run(ctx, "", l.Command[0], l.Command[1:]...)
	if err != nil {
		return nil, err
	}
	return ParseToolOutput(out), nil
}

// SortVersions sorts versions oldest first. Strings that do not parse as
// semantic versions sort lexically after those that do.
func SortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, errI := semver.NewVersion(versions[i])
		vj, errJ := semver.NewVersion(versions[j])
		switch {
		case errI == nil && errJ == nil:
			return vi.LessThan(vj)
		case errI == nil:
			return true
		case errJ == nil:
			return false
		default:
			return versions[i] < versions[j]
		}
	})
}
