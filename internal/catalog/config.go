package catalog

import (
	"fmt"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/tools"
)

// FromConfig builds a catalog from the per-provider version policies.
// A configured version list wins over every other source; the external-tool
// policy runs the configured command; otherwise the provider's native lister
// is used. Providers with no usable source are left unregistered.
func FromConfig(cfg config.VersionsConfig, native map[cluster.Provider]Lister, runner tools.Runner) (*Catalog, error) {
	c := New()
	for _, p := range cluster.Providers() {
		pc, ok := cfg[string(p)]
		if !ok {
			continue
		}
		policy, err := ParsePolicy(pc.Policy)
		if err != nil {
			return nil, fmt.Errorf("versions.%s: %w", p, err)
		}

		var lister Lister
		switch {
		case len(pc.Versions) > 0:
			lister = StaticLister(pc.Versions)
		case policy == PolicyExternalTool:
			lister = ToolLister{Runner: runner, Command: pc.Command}
		default:
			lister = native[p]
		}
		if lister == nil {
			continue
		}
		c.Register(p, policy, lister)
	}
	return c, nil
}
