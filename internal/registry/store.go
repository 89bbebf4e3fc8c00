package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"

	"clusterswarm/internal/cluster"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const runsPrefix = "/clusterswarm/runs"

// Store persists cluster records
type Store interface {
	Save(ctx context.Context, runID string, rec cluster.Record) error
	List(ctx context.Context, runID string) ([]cluster.Record, error)
}

// RecordKey returns the etcd key of a record
func RecordKey(runID string, key cluster.Key) string {
	return path.Join(runsPrefix, runID, string(key.Provider), key.Name)
}

// EtcdStore handles record persistence using etcd
type EtcdStore struct {
	kv clientv3.KV
}

// NewEtcdStore persists records through kv. The caller owns the client.
func NewEtcdStore(kv clientv3.KV) *EtcdStore {
	return &EtcdStore{kv: kv}
}

// Save writes rec as JSON under its run key
func (s *EtcdStore) Save(ctx context.Context, runID string, rec cluster.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster record: %w", err)
	}
	if _, err := s.kv.Put(ctx, RecordKey(runID, rec.Request.Key()), string(data)); err != nil {
		return fmt.Errorf("failed to save cluster record to etcd: %w", err)
	}
	return nil
}

// List returns every record of runID ordered by creation time
func (s *EtcdStore) List(ctx context.Context, runID string) ([]cluster.Record, error) {
	resp, err := s.kv.Get(ctx, path.Join(runsPrefix, runID)+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster records from etcd: %w", err)
	}

	records := make([]cluster.Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec cluster.Record
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cluster record %s: %w", kv.Key, err)
		}
		records = append(records, rec)
	}
	sortByCreation(records)
	return records, nil
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]map[cluster.Key]cluster.Record
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]map[cluster.Key]cluster.Record)}
}

// Save implements Store
func (s *MemoryStore) Save(_ context.Context, runID string, rec cluster.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		run = make(map[cluster.Key]cluster.Record)
		s.runs[runID] = run
	}
	run[rec.Request.Key()] = rec.Clone()
	return nil
}

// List implements Store
func (s *MemoryStore) List(_ context.Context, runID string) ([]cluster.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]cluster.Record, 0, len(s.runs[runID]))
	for _, rec := range s.runs[runID] {
		records = append(records, rec.Clone())
	}
	sortByCreation(records)
	return records, nil
}


func sortByCreation(records []cluster.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].Request.Key().String() < records[j].Request.Key().String()
	})
}
