// Package provisioner fans cluster requests out to the provider adapters,
// tracks every cluster in the run registry and tears clusters down.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/logging"
	"clusterswarm/internal/provisioning"
	"clusterswarm/internal/registry"

	"github.com/alitto/pond/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Validator checks a ready cluster through its kubeconfig
type Validator interface {
	Validate(ctx context.Context, req cluster.Request, kubeconfig string) error
}

// Provisioner runs cluster requests concurrently
type Provisioner struct {
	adapters  map[cluster.Provider]provisioning.Adapter
	registry  *registry.Registry
	cfg       config.ProvisionerConfig
	validator Validator
	metrics   *Metrics
}

// Option customizes a Provisioner
type Option func(*Provisioner)

// WithValidator validates every cluster after it became ready.
func WithValidator(v Validator) Option {
	return func(p *Provisioner) {
		p.validator = v
	}
}

// WithMetrics records outcomes and teardowns in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Provisioner) {
		p.metrics = m
	}
}

// New creates a provisioner. Zero durations in cfg fall back to defaults.
func New(adapters map[cluster.Provider]provisioning.Adapter, reg *registry.Registry, cfg config.ProvisionerConfig, opts ...Option) *Provisioner {
	defaults := config.Default().Provisioner
	if cfg.ClusterTimeout <= 0 {
		cfg.ClusterTimeout = defaults.ClusterTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaults.TeardownTimeout
	}

	p := &Provisioner{
		adapters: adapters,
		registry: reg,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the registry the provisioner records into
func (p *Provisioner) Registry() *registry.Registry {
	return p.registry
}

// Run provisions every request and returns one outcome per request, in
// submission order. Errors never escape Run: they are carried by the
// outcomes. When ctx is cancelled, every cluster that reached the platform
// is destroyed on a detached context before Run returns.
func (p *Provisioner) Run(ctx context.Context, requests []cluster.Request) []cluster.Outcome {
	outcomes := make([]cluster.Outcome, len(requests))
	if len(requests) == 0 {
		return outcomes
	}

	logging.Logger().Info("provisioning started",
		zap.String("run_id", p.registry.RunID()),
		zap.Int("requests", len(requests)),
		zap.Int("concurrency", p.cfg.Concurrency))

	workers := p.cfg.Concurrency
	if workers <= 0 || workers > len(requests) {
		workers = len(requests)
	}
	pool := pond.NewPool(workers)

	seen := make(map[cluster.Key]int, len(requests))
	for i := range requests {
		req := requests[i].Clone()
		key := req.Key()

		if first, dup := seen[key]; dup {
			err := cluster.NewProvisionError(cluster.KindPrecheckFailed, key,
				fmt.Errorf("duplicate cluster name, first submitted at position %d", first))
			outcomes[i] = cluster.Outcome{Index: i, Request: req, Err: err}
			p.logOutcome(outcomes[i])
			continue
		}
		seen[key] = i

		pool.Submit(func() {
			outcomes[i] = p.provision(ctx, i, req)
		})
	}
	pool.StopAndWait()

	if ctx.Err() != nil {
		logging.Logger().Warn("run cancelled, destroying created clusters",
			zap.String("run_id", p.registry.RunID()),
			zap.Error(ctx.Err()))
		p.Teardown(context.WithoutCancel(ctx))
	}
	return outcomes
}

func (p *Provisioner) provision(ctx context.Context, index int, req cluster.Request) cluster.Outcome {
	start := time.Now()
	p.metrics.started()
	defer p.metrics.finished()

	outcome := p.provisionOne(ctx, index, req)

	result := "success"
	if outcome.Err != nil {
		result = string(cluster.KindOf(outcome.Err))
	}
	p.metrics.recordOutcome(string(req.Provider), result, time.Since(start).Seconds())
	p.logOutcome(outcome)
	return outcome
}

func (p *Provisioner) provisionOne(ctx context.Context, index int, req cluster.Request) cluster.Outcome {
	key := req.Key()
	log := logging.Logger().With(
		zap.String("provider", string(req.Provider)),
		zap.String("name", req.Name),
		zap.String("k8s_version", req.KubernetesVersion))

	if err := p.registry.Record(context.WithoutCancel(ctx), cluster.Record{Request: req, Status: cluster.StatusPending}); err != nil {
		return p.fail(ctx, index, req, cluster.NewProvisionError(cluster.KindPrecheckFailed, key, err))
	}

	adapter, ok := p.adapters[req.Provider]
	if !ok {
		return p.fail(ctx, index, req, cluster.NewProvisionError(cluster.KindPrecheckFailed, key,
			fmt.Errorf("no adapter for provider %s", req.Provider)))
	}

	clusterCtx, cancel := context.WithTimeout(ctx, p.cfg.ClusterTimeout)
	defer cancel()

	if preparer, ok := adapter.(provisioning.Preparer); ok && req.Windows {
		log.Info("preparing windows hosts")
		if err := preparer.Prepare(clusterCtx, req); err != nil {
			return p.fail(ctx, index, req, p.classify(ctx, clusterCtx, key, cluster.KindPrecheckFailed, err))
		}
	}

	handle, err := adapter.Create(clusterCtx, req)
	if handle.ExternalID != "" {
		if trErr := p.registry.Transition(context.WithoutCancel(ctx), key, cluster.StatusCreating, func(r *cluster.Record) {
			r.ExternalID = handle.ExternalID
		}); trErr != nil {
			log.Error("failed to record creating cluster", zap.Error(trErr))
		}
	}
	if err != nil {
		kind := cluster.KindRemoteRejected
		if errors.Is(err, cluster.ErrInvalidVersion) {
			kind = cluster.KindPrecheckFailed
		}
		return p.fail(ctx, index, req, p.classify(ctx, clusterCtx, key, kind, err))
	}
	if handle.ExternalID == "" {
		return p.fail(ctx, index, req, cluster.NewProvisionError(cluster.KindRemoteRejected, key,
			errors.New("adapter returned no cluster id")))
	}

	log = log.With(zap.String("cluster_id", handle.ExternalID))
	log.Info("cluster creating")

	if err := p.waitReady(clusterCtx, adapter, handle.ExternalID); err != nil {
		return p.fail(ctx, index, req, p.classify(ctx, clusterCtx, key, cluster.KindRemoteRejected, err))
	}

	if p.validator != nil {
		kubeconfig := handle.Kubeconfig
		if kubeconfig == "" {
			if kubeconfig, err = adapter.Kubeconfig(clusterCtx, handle.ExternalID); err != nil {
				return p.fail(ctx, index, req, p.classify(ctx, clusterCtx, key, cluster.KindRemoteRejected, err))
			}
		}
		if err := p.validator.Validate(clusterCtx, req, kubeconfig); err != nil {
			return p.fail(ctx, index, req, p.classify(ctx, clusterCtx, key, cluster.KindRemoteRejected, err))
		}
	}

	if err := p.registry.Transition(context.WithoutCancel(ctx), key, cluster.StatusReady, nil); err != nil {
		log.Error("failed to record ready cluster", zap.Error(err))
	}
	rec, _ := p.registry.Get(key)
	return cluster.Outcome{Index: index, Request: req, Record: &rec}
}

// waitReady polls with exponential backoff until the cluster is ready,
// failed, or ctx is done.
func (p *Provisioner) waitReady(ctx context.Context, adapter provisioning.Adapter, externalID string) error {
	interval := p.cfg.PollInterval
	for {
		status, err := adapter.Poll(ctx, externalID)
		switch {
		case status == cluster.StatusReady:
			return nil
		case status == cluster.StatusFailed:
			if err == nil {
				err = fmt.Errorf("cluster %s failed", externalID)
			}
			return err
		case err != nil:
			if ctx.Err() != nil {
				return err
			}
			logging.Logger().Warn("poll failed, retrying",
				zap.String("cluster_id", externalID),
				zap.Duration("retry_in", interval),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > p.cfg.MaxPollInterval {
			interval = p.cfg.MaxPollInterval
		}
	}
}

// classify turns err into a ProvisionError. An expired cluster context is a
// Timeout and a cancelled run is Canceled, whatever the adapter returned.
func (p *Provisioner) classify(runCtx, clusterCtx context.Context, key cluster.Key, kind cluster.Kind, err error) error {
	switch {
	case runCtx.Err() != nil:
		return &cluster.ProvisionError{Kind: cluster.KindCanceled, Cluster: key, Err: err}
	case errors.Is(clusterCtx.Err(), context.DeadlineExceeded):
		return &cluster.ProvisionError{Kind: cluster.KindTimeout, Cluster: key,
			Err: fmt.Errorf("not ready after %s: %w", p.cfg.ClusterTimeout, err)}
	default:
		return cluster.NewProvisionError(kind, key, err)
	}
}

func (p *Provisioner) fail(ctx context.Context, index int, req cluster.Request, err error) cluster.Outcome {
	key := req.Key()
	trErr := p.registry.Transition(context.WithoutCancel(ctx), key, cluster.StatusFailed, func(r *cluster.Record) {
		r.Error = logging.Truncate(err.Error())
		r.ErrorKind = cluster.KindOf(err)
	})
	if trErr != nil {
		logging.Logger().Debug("failure not recorded",
			zap.String("cluster", key.String()),
			zap.Error(trErr))
		return cluster.Outcome{Index: index, Request: req, Err: err}
	}
	rec, _ := p.registry.Get(key)
	return cluster.Outcome{Index: index, Request: req, Record: &rec, Err: err}
}

func (p *Provisioner) logOutcome(o cluster.Outcome) {
	fields := []zap.Field{
		zap.Int("index", o.Index),
		zap.String("provider", string(o.Request.Provider)),
		zap.String("name", o.Request.Name),
		zap.String("k8s_version", o.Request.KubernetesVersion),
	}
	if o.Err != nil {
		logging.Logger().Error("cluster failed", append(fields,
			zap.String("kind", string(cluster.KindOf(o.Err))),
			zap.Error(o.Err))...)
		return
	}
	logging.Logger().Info("cluster ready", fields...)
}

// TeardownResult summarizes a teardown pass
type TeardownResult struct {
	Attempted int
	Destroyed int
	Failures  []*cluster.TeardownError
}

// Teardown destroys every active cluster of the registry, one attempt per
// cluster, each bounded by the teardown timeout. Failures are logged and
// returned in the summary, never as an error.
func (p *Provisioner) Teardown(ctx context.Context) TeardownResult {
	active := p.registry.Snapshot().Active()
	result := TeardownResult{Attempted: len(active)}
	if len(active) == 0 {
		return result
	}

	var (
		mu   sync.Mutex
		errs error
	)
	pool := pond.NewPool(len(active))
	for _, rec := range active {
		pool.Submit(func() {
			err := p.destroy(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, err)
				errs = multierr.Append(errs, err)
				return
			}
			result.Destroyed++
		})
	}
	pool.StopAndWait()

	if errs != nil {
		logging.Logger().Error("teardown incomplete",
			zap.String("run_id", p.registry.RunID()),
			zap.Int("attempted", result.Attempted),
			zap.Int("failed", len(result.Failures)),
			zap.Error(errs))
	} else {
		logging.Logger().Info("teardown complete",
			zap.String("run_id", p.registry.RunID()),
			zap.Int("destroyed", result.Destroyed))
	}
	return result
}

func (p *Provisioner) destroy(ctx context.Context, rec cluster.Record) *cluster.TeardownError {
	key := rec.Request.Key()
	fail := func(err error) *cluster.TeardownError {
		p.metrics.recordTeardown(string(key.Provider), "failure")
		te := &cluster.TeardownError{Cluster: key, ExternalID: rec.ExternalID, Err: err}
		logging.Logger().Warn("teardown failed",
			zap.String("cluster", key.String()),
			zap.String("cluster_id", rec.ExternalID),
			zap.Error(err))
		return te
	}

	adapter, ok := p.adapters[key.Provider]
	if !ok {
		return fail(fmt.Errorf("no adapter for provider %s", key.Provider))
	}

	teardownCtx, cancel := context.WithTimeout(ctx, p.cfg.TeardownTimeout)
	defer cancel()

	if err := adapter.Destroy(teardownCtx, rec.ExternalID); err != nil {
		return fail(err)
	}
	if err := p.registry.Transition(context.WithoutCancel(ctx), key, cluster.StatusDestroyed, nil); err != nil {
		logging.Logger().Warn("failed to record destroyed cluster",
			zap.String("cluster", key.String()),
			zap.Error(err))
	}
	p.metrics.recordTeardown(string(key.Provider), "success")
	logging.Logger().Info("cluster destroyed",
		zap.String("cluster", key.String()),
		zap.String("cluster_id", rec.ExternalID))
	return nil
}
