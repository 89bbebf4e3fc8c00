// Package registry tracks every cluster of a run and its lifecycle state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/logging"

	"go.uber.org/zap"
)

// ErrIllegalTransition is returned when a record would move backwards or
// re-enter its current status
var ErrIllegalTransition = errors.New("illegal status transition")

// Registry is the run-scoped map of (provider, name) to cluster record.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runID   string
	order   []cluster.Key
	records map[cluster.Key]cluster.Record
	store   Store
	now     func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithStore persists every recorded state to s
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry for runID
func New(runID string, opts ...Option) *Registry {
	r := &Registry{
		runID:   runID,
		records: make(map[cluster.Key]cluster.Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the run the registry belongs to
func (r *Registry) RunID() string {
	return r.runID
}

// Record inserts a new record or moves an existing one forward. An existing
// record may only change through a legal status transition.
func (r *Registry) Record(ctx context.Context, rec cluster.Record) error {
	rec = rec.Clone()
	key := rec.Request.Key()

	r.mu.Lock()
	prev, exists := r.records[key]
	if exists && !prev.Status.CanTransition(rec.Status) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, key, prev.Status, rec.Status)
	}

	now := r.now()
	rec.UpdatedAt = now
	if exists {
		rec.CreatedAt = prev.CreatedAt
		if rec.ExternalID == "" {
			rec.ExternalID = prev.ExternalID
		}
	} else {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		r.order = append(r.order, key)
	}
	r.records[key] = rec
	r.mu.Unlock()

	logging.Logger().Debug("cluster recorded",
		zap.String("run_id", r.runID),
		zap.String("cluster", key.String()),
		zap.String("status", string(rec.Status)),
		zap.String("external_id", rec.ExternalID))

	r.persist(ctx, rec)
	return nil
}

// Transition moves the record at key to next, applying mutate to the copy
// before it is stored. mutate may be nil.
func (r *Registry) Transition(ctx context.Context, key cluster.Key, next cluster.Status, mutate func(*cluster.Record)) error {
	prev, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("cluster %s is not registered", key)
	}
	prev.Status = next
	if mutate != nil {
		mutate(&prev)
	}
	return r.Record(ctx, prev)
}

// Get returns a copy of the record at key
func (r *Registry) Get(key cluster.Key) (cluster.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[key]
	if !ok {
		return cluster.Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a deep copy of every record in insertion order
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]cluster.Record, 0, len(r.order))
	for _, key := range r.order {
		records = append(records, r.records[key].Clone())
	}
	return Snapshot{RunID: r.runID, Records: records}
}

// restore inserts a persisted record without transition checks
func (r *Registry) restore(rec cluster.Record) {
	key := rec.Request.Key()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[key]; !exists {
		r.order = append(r.order, key)
	}
	r.records[key] = rec.Clone()
}

func (r *Registry) persist(ctx context.Context, rec cluster.Record) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(ctx, r.runID, rec); err != nil {
		logging.Logger().Warn("failed to persist cluster record",
			zap.String("run_id", r.runID),
			zap.String("cluster", rec.Request.Key().String()),
			zap.Error(err))
	}
}

// Snapshot is an immutable view of a registry
type Snapshot struct {
	RunID   string
	Records []cluster.Record
}

// Get returns the record at key
func (s Snapshot) Get(key cluster.Key) (cluster.Record, bool) {
	for _, rec := range s.Records {
		if rec.Request.Key() == key {
			return rec.Clone(), true
		}
	}
	return cluster.Record{}, false
}

// Active returns the records that may still own remote resources
func (s Snapshot) Active() []cluster.Record {
	var out []cluster.Record
	for _, rec := range s.Records {
		if rec.Status.Active() && rec.ExternalID != "" {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Load rebuilds a registry for runID from store. The returned registry
// keeps persisting to store.
func Load(ctx context.Context, store Store, runID string) (*Registry, error) {
	records, err := store.List(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	r := New(runID, WithStore(store))
	for _, rec := range records {
		r.restore(rec)
	}
	return r, nil
}
