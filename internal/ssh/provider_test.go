package ssh

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// fakeKV serves single-key Get, Put and Delete from a map
type fakeKV struct {
	clientv3.KV

	mu   sync.Mutex
	data map[string]string
	puts int
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}}
}

func (f *fakeKV) Get(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &clientv3.GetResponse{}
	if v, ok := f.data[key]; ok {
		resp.Kvs = []*mvccpb.KeyValue{{Key: []byte(key), Value: []byte(v)}}
	}
	return resp, nil
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	f.puts++
	return &clientv3.PutResponse{}, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return &clientv3.DeleteResponse{}, nil
}

func TestEtcdKeyProviderIsScopedToRun(t *testing.T) {
	kv := newFakeKV()

	first, err := NewEtcdKeyProvider(kv, "run-a").GetOrCreate(t.Context())
	require.NoError(t, err)
	assert.Contains(t, kv.data, "/clusterswarm/ssh_keys/run-a")

	// a second process working on the same run reads the stored pair
	again, err := NewEtcdKeyProvider(kv, "run-a").GetOrCreate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first.PrivateKey, again.PrivateKey)

	other, err := NewEtcdKeyProvider(kv, "run-b").GetOrCreate(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, first.PublicKey, other.PublicKey)
}

func TestEtcdKeyProviderGeneratesOncePerRun(t *testing.T) {
	kv := newFakeKV()
	p := NewEtcdKeyProvider(kv, "run-a")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys = map[string]bool{}
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kp, err := p.GetOrCreate(context.Background())
			assert.NoError(t, err)
			if kp != nil {
				mu.Lock()
				keys[kp.PublicKey] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, keys, 1, "every node of a run gets the same key")
	assert.Equal(t, 1, kv.puts)
}

func TestEtcdKeyProviderDelete(t *testing.T) {
	kv := newFakeKV()
	p := NewEtcdKeyProvider(kv, "run-a")

	_, err := p.GetOrCreate(t.Context())
	require.NoError(t, err)
	require.NoError(t, p.Delete(t.Context()))
	assert.Empty(t, kv.data)
}
