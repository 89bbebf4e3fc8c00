package ssh

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"clusterswarm/internal/logging"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keysPrefix = "/clusterswarm/ssh_keys"

// KeyPath returns the etcd key holding the node key pair of a run
func KeyPath(runID string) string {
	return path.Join(keysPrefix, runID)
}

// KeyProvider supplies the key pair installed on the nodes of one run. Every
// caller gets the same pair for the lifetime of the run.
type KeyProvider interface {
	GetOrCreate(ctx context.Context) (*KeyPair, error)
	// Delete forgets the pair once no node of the run is left
	Delete(ctx context.Context) error
}

// EtcdKeyProvider keeps the key pair of a run in etcd so nodes of a failed
// run stay reachable after the process exits.
type EtcdKeyProvider struct {
	kv    clientv3.KV
	runID string

	mu      sync.Mutex
	keyPair *KeyPair
}

// NewEtcdKeyProvider stores the pair of runID through kv. The caller owns the
// underlying client.
func NewEtcdKeyProvider(kv clientv3.KV, runID string) *EtcdKeyProvider {
	return &EtcdKeyProvider{kv: kv, runID: runID}
}

// GetOrCreate loads the run's pair from etcd, generating and storing one on
// first use.
func (p *EtcdKeyProvider) GetOrCreate(ctx context.Context) (*KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keyPair != nil {
		return p.keyPair, nil
	}

	key := KeyPath(p.runID)
	resp, err := p.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get SSH keys from etcd: %w", err)
	}
	if len(resp.Kvs) > 0 {
		var stored storedKeyPair
		if err := json.Unmarshal(resp.Kvs[0].Value, &stored); err != nil {
			return nil, fmt.Errorf("failed to unmarshal SSH keys: %w", err)
		}
		logging.Logger().Info("using node SSH keys of run from etcd", zap.String("run_id", p.runID))
		p.keyPair = &KeyPair{PrivateKey: stored.PrivateKey, PublicKey: stored.PublicKey}
		return p.keyPair, nil
	}

	keyPair, err := GenerateKeyPairInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SSH key pair: %w", err)
	}
	data, err := json.Marshal(storedKeyPair{PrivateKey: keyPair.PrivateKey, PublicKey: keyPair.PublicKey})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal SSH keys: %w", err)
	}
	if _, err := p.kv.Put(ctx, key, string(data)); err != nil {
		return nil, fmt.Errorf("failed to save SSH keys to etcd: %w", err)
	}

	logging.Logger().Info("node SSH keys stored in etcd",
		zap.String("run_id", p.runID),
		zap.String("key", key))
	p.keyPair = keyPair
	return keyPair, nil
}

// Delete removes the run's pair from etcd
func (p *EtcdKeyProvider) Delete(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.kv.Delete(ctx, KeyPath(p.runID)); err != nil {
		return fmt.Errorf("failed to delete SSH keys from etcd: %w", err)
	}
	p.keyPair = nil
	return nil
}

type storedKeyPair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// InMemoryKeyProvider generates keys in memory (no persistence)
type InMemoryKeyProvider struct {
	mu      sync.Mutex
	keyPair *KeyPair
}

// NewInMemoryKeyProvider creates a new in-memory key provider
func NewInMemoryKeyProvider() *InMemoryKeyProvider {
	return &InMemoryKeyProvider{}
}

// GetOrCreate generates the pair on first use
func (p *InMemoryKeyProvider) GetOrCreate(context.Context) (*KeyPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keyPair != nil {
		return p.keyPair, nil
	}
	keyPair, err := GenerateKeyPairInMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to generate SSH key pair: %w", err)
	}
	p.keyPair = keyPair
	return keyPair, nil
}

// Delete clears the in-memory key pair
func (p *InMemoryKeyProvider) Delete(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keyPair = nil
	return nil
}

// NewKeyProvider keeps the pair of runID in etcd when a client is given,
// otherwise in memory.
func NewKeyProvider(cli *clientv3.Client, runID string) KeyProvider {
	if cli == nil {
		logging.Logger().Info("no etcd client, node SSH keys are kept in memory")
		return NewInMemoryKeyProvider()
	}
	return NewEtcdKeyProvider(cli, runID)
}
