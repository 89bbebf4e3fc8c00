// Package catalog resolves the Kubernetes versions a run deploys per provider.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/logging"

	"go.uber.org/zap"
)

// Policy selects which versions of a source list are deployed
type Policy string

const (
	// PolicyAllCurrent deploys every version the source reports
	PolicyAllCurrent Policy = "all-current"
	// PolicyBoundsOnly deploys the oldest and newest versions only
	PolicyBoundsOnly Policy = "bounds-only"
	// PolicyExternalTool deploys every version an external tool reports
	PolicyExternalTool Policy = "external-tool"
)

// ParsePolicy converts a config value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyAllCurrent, PolicyBoundsOnly, PolicyExternalTool:
		return p, nil
	case "external-tool-reported":
		return PolicyExternalTool, nil
	}
	return "", fmt.Errorf("unknown version policy: %q", s)
}

// Lister reports an ordered list of versions, oldest first
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

type source struct {
	policy Policy
	lister Lister
}

// Catalog resolves versions per provider. Each provider's source is queried
// at most once per Catalog; a Catalog lives for one run.
type Catalog struct {
	mu      sync.Mutex
	sources map[cluster.Provider]source
	cache   map[cluster.Provider][]string
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{
		sources: make(map[cluster.Provider]source),
		cache:   make(map[cluster.Provider][]string),
	}
}

// Register sets the policy and source for provider p
func (c *Catalog) Register(p cluster.Provider, policy Policy, lister Lister) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources[p] = source{policy: policy, lister: lister}
	delete(c.cache, p)
}

// Policy returns the policy registered for p
func (c *Catalog) Policy(p cluster.Provider) (Policy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.sources[p]
	return src.policy, ok
}

// Versions returns the versions to deploy for p. An empty result is
// reported as cluster.ErrNoVersionsAvailable.
func (c *Catalog) Versions(ctx context.Context, p cluster.Provider) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[p]; ok {
		return append([]string(nil), cached...), nil
	}

	src, ok := c.sources[p]
	if !ok {
		return nil, fmt.Errorf("no version source registered for %s: %w", p, cluster.ErrNoVersionsAvailable)
	}

	listed, err := src.lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s versions: %w", p, err)
	}

	versions := Select(src.policy, listed)
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s (%s): %w", p, src.policy, cluster.ErrNoVersionsAvailable)
	}

	logging.Logger().Info("resolved versions",
		zap.String("provider", string(p)),
		zap.String("policy", string(src.policy)),
		zap.Strings("versions", logging.TruncateSlice(versions, 20)))

	c.cache[p] = versions
	return append([]string(nil), versions...), nil
}

// Select applies policy to an ordered version list. Blank and repeated
// entries are dropped first.
func Select(policy Policy, versions []string) []string {
	clean := compact(versions)
	switch policy {
	case PolicyBoundsOnly:
		if len(clean) <= 1 {
			return clean
		}
		return []string{clean[0], clean[len(clean)-1]}
	default:
		return clean
	}
}

// ParseToolOutput splits newline-separated tool output into versions,
// discarding blank lines.
func ParseToolOutput(out []byte) []string {
	var versions []string
	for _, line := range strings.Split(string(out), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			versions = append(versions, v)
		}
	}
	return versions
}

func compact(versions []string) []string {
	seen := make(map[string]struct{}, len(versions))
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
