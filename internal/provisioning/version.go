package provisioning

import (
	"regexp"

	"clusterswarm/internal/cluster"

	"github.com/Masterminds/semver/v3"
)

var (
	rkeVersionRE = regexp.MustCompile(`^v\d+\.\d+\.\d+-rancher\d+-\d+$`)
	eksVersionRE = regexp.MustCompile(`^\d+\.\d+$`)
)

// ValidateVersion checks that version is in the native format of provider p.
//
//	rke, rke_import  v1.21.3-rancher1-1
//	eks              1.21
//	aks              1.21.9
//	gke              1.21.5-gke.1302
func ValidateVersion(p cluster.Provider, version string) error {
	invalid := &cluster.InvalidVersionError{Provider: p, Version: version}

	switch p {
	case cluster.ProviderRKE, cluster.ProviderRKEImport:
		if !rkeVersionRE.MatchString(version) {
			return invalid
		}
	case cluster.ProviderEKS:
		if !eksVersionRE.MatchString(version) {
			return invalid
		}
		if _, err := semver.NewVersion(version); err != nil {
			return invalid
		}
	case cluster.ProviderAKS:
		v, err := semver.StrictNewVersion(version)
		if err != nil || v.Prerelease() != "" || v.Metadata() != "" {
			return invalid
		}
	case cluster.ProviderGKE:
		if _, err := semver.StrictNewVersion(version); err != nil {
			return invalid
		}
	default:
		return invalid
	}
	return nil
}
