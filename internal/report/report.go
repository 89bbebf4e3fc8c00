// Package report turns the outcomes of a run into the pass/fail verdict and
// the artifacts consumed by downstream test jobs.
package report

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/registry"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Failure describes one failed request
type Failure struct {
	Provider cluster.Provider `yaml:"provider"`
	Name     string           `yaml:"name"`
	Version  string           `yaml:"version"`
	Kind     cluster.Kind     `yaml:"kind,omitempty"`
	Message  string           `yaml:"message"`
}

// Report is the aggregated result of a run
type Report struct {
	RunID   string
	Success bool
	// provider -> cluster name -> kubernetes version, successful clusters only
	Details map[cluster.Provider]map[string]string
	// successfully created clusters in submission order
	Names    []string
	Failures []Failure
}

// Aggregate builds the report from the final registry snapshot and the
// outcomes of Run. Outcomes may arrive in any order.
func Aggregate(snap registry.Snapshot, outcomes []cluster.Outcome) Report {
	ordered := make([]cluster.Outcome, len(outcomes))
	copy(ordered, outcomes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	r := Report{
		RunID:   snap.RunID,
		Success: true,
		Details: make(map[cluster.Provider]map[string]string),
		Names:   []string{},
	}

	for _, o := range ordered {
		if o.Err != nil {
			r.Success = false
			r.Failures = append(r.Failures, Failure{
				Provider: o.Request.Provider,
				Name:     o.Request.Name,
				Version:  o.Request.KubernetesVersion,
				Kind:     cluster.KindOf(o.Err),
				Message:  logging.Truncate(o.Err.Error()),
			})
			continue
		}

		version := o.Request.KubernetesVersion
		if rec, ok := snap.Get(o.Request.Key()); ok {
			version = rec.Request.KubernetesVersion
		}
		if r.Details[o.Request.Provider] == nil {
			r.Details[o.Request.Provider] = make(map[string]string)
		}
		r.Details[o.Request.Provider][o.Request.Name] = version
		r.Names = append(r.Names, o.Request.Name)
	}
	return r
}

// FromSnapshot builds a report for a persisted run whose outcomes are gone.
// Ready and Destroyed records count as created, Failed records as failures.
func FromSnapshot(snap registry.Snapshot) Report {
	outcomes := make([]cluster.Outcome, 0, len(snap.Records))
	for i, rec := range snap.Records {
		o := cluster.Outcome{Index: i, Request: rec.Request}
		switch rec.Status {
		case cluster.StatusReady, cluster.StatusDestroyed:
		case cluster.StatusFailed:
			o.Err = &cluster.ProvisionError{Kind: rec.ErrorKind, Cluster: rec.Request.Key(), Err: fmt.Errorf("%s", rec.Error)}
		default:
			o.Err = fmt.Errorf("cluster %s is still %s", rec.Request.Key(), rec.Status)
		}
		outcomes = append(outcomes, o)
	}
	return Aggregate(snap, outcomes)
}

// EnvFile renders the environment artifact
func (r Report) EnvFile() string {
	return fmt.Sprintf("env.RANCHER_CLUSTER_NAMES='%s'\n", strings.Join(r.Names, ","))
}

// WriteEnvFile writes the environment artifact to path
func (r Report) WriteEnvFile(path string) error {
	if err := os.WriteFile(path, []byte(r.EnvFile()), 0o644); err != nil {
		return fmt.Errorf("failed to write env file: %w", err)
	}
	return nil
}

// WriteDetails writes the provider -> name -> version map as YAML to path
func (r Report) WriteDetails(path string) error {
	details := make(map[string]map[string]string, len(r.Details))
	for p, clusters := range r.Details {
		details[string(p)] = clusters
	}
	data, err := yaml.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode cluster details: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cluster details: %w", err)
	}
	return nil
}

// SummaryLines returns one line per provider with its clusters, then one
// line per cluster naming the provider and version.
func (r Report) SummaryLines() []string {
	var lines []string
	for _, p := range cluster.Providers() {
		clusters, ok := r.Details[p]
		if !ok {
			continue
		}
		names := make([]string, 0, len(clusters))
		for name := range clusters {
			names = append(names, name)
		}
		sort.Strings(names)

		lines = append(lines, fmt.Sprintf("%s: %s", p, formatClusters(names, clusters)))
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("%s --> %s", p, clusters[name]))
		}
	}
	return lines
}

// Log writes the summary lines, the failures and the run result
func (r Report) Log() {
	log := logging.Logger()
	for _, line := range r.SummaryLines() {
		log.Info(line)
	}

	for _, f := range r.Failures {
		log.Error("cluster failed",
			zap.String("provider", string(f.Provider)),
			zap.String("name", f.Name),
			zap.String("k8s_version", f.Version),
			zap.String("kind", string(f.Kind)),
			zap.String("error", f.Message))
	}

	log.Info("run finished",
		zap.String("run_id", r.RunID),
		zap.Bool("success", r.Success),
		zap.Int("created", len(r.Names)),
		zap.Int("failed", len(r.Failures)),
		zap.Strings("names", logging.TruncateSlice(r.Names, 20)))
}

func formatClusters(names []string, clusters map[string]string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("'%s': '%s'", name, clusters[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
