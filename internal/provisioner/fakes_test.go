package provisioner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/provisioning"
	"clusterswarm/internal/rancher"
)

// behaviour scripts a fake cluster, keyed by version
type behaviour struct {
	createErr  error
	createWait time.Duration
	readyAfter int // polls before Ready, negative for never
	pollErrs   int // transient poll errors before the first real answer
	failOnPoll bool
	onCreate   func() // runs before Create returns
}

type fakeAdapter struct {
	provider cluster.Provider

	mu          sync.Mutex
	behaviours  map[string]behaviour
	polls       map[string]int
	creates     int
	inFlight    int
	maxInFlight int
	prepared    []string
	prepareErr  error
	destroyed   []string
	destroyErr  map[string]error
	destroyHang map[string]bool
}

func newFakeAdapter(p cluster.Provider) *fakeAdapter {
	return &fakeAdapter{
		provider:    p,
		behaviours:  map[string]behaviour{},
		polls:       map[string]int{},
		destroyErr:  map[string]error{},
		destroyHang: map[string]bool{},
	}
}

func (f *fakeAdapter) on(version string, b behaviour) *fakeAdapter {
	f.behaviours[version] = b
	return f
}

func (f *fakeAdapter) Provider() cluster.Provider { return f.provider }

func (f *fakeAdapter) ValidateCredentials(context.Context) error { return nil }

func (f *fakeAdapter) Create(ctx context.Context, req cluster.Request) (cluster.Handle, error) {
	if err := provisioning.ValidateVersion(f.provider, req.KubernetesVersion); err != nil {
		return cluster.Handle{}, err
	}

	f.mu.Lock()
	f.creates++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	b := f.behaviours[req.KubernetesVersion]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if b.createWait > 0 {
		select {
		case <-ctx.Done():
			return cluster.Handle{}, ctx.Err()
		case <-time.After(b.createWait):
		}
	}
	if b.onCreate != nil {
		b.onCreate()
	}
	if b.createErr != nil {
		return cluster.Handle{}, b.createErr
	}
	return cluster.Handle{ExternalID: "c-" + req.Name}, nil
}

func (f *fakeAdapter) Poll(_ context.Context, externalID string) (cluster.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls[externalID]++
	n := f.polls[externalID]
	b := f.behaviourFor(externalID)

	switch {
	case n <= b.pollErrs:
		return cluster.StatusCreating, errors.New("connection reset by peer")
	case b.failOnPoll:
		return cluster.StatusFailed, fmt.Errorf("cluster %s is in error state: nodegroup failed", externalID)
	case b.readyAfter < 0 || n-b.pollErrs <= b.readyAfter:
		return cluster.StatusCreating, nil
	default:
		return cluster.StatusReady, nil
	}
}

// behaviourFor finds the behaviour of a created cluster through its name
func (f *fakeAdapter) behaviourFor(externalID string) behaviour {
	for version, b := range f.behaviours {
		if externalID == "c-"+nameFor(f.provider, version) {
			return b
		}
	}
	return behaviour{}
}

func (f *fakeAdapter) Kubeconfig(_ context.Context, externalID string) (string, error) {
	return "kubeconfig-" + externalID, nil
}

func (f *fakeAdapter) Destroy(ctx context.Context, externalID string) error {
	f.mu.Lock()
	f.destroyed = append(f.destroyed, externalID)
	hang := f.destroyHang[externalID]
	err := f.destroyErr[externalID]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeAdapter) Prepare(_ context.Context, req cluster.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, req.Name)
	return f.prepareErr
}

func (f *fakeAdapter) destroyCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyed...)
}

// nameFor derives a deterministic cluster name from a version
func nameFor(p cluster.Provider, version string) string {
	return fmt.Sprintf("test-auto-%s-%s", p, version)
}

func request(p cluster.Provider, version string) cluster.Request {
	return cluster.Request{Provider: p, KubernetesVersion: version, Name: nameFor(p, version)}
}

type fakeValidator struct {
	mu          sync.Mutex
	kubeconfigs []string
	err         error
}

func (v *fakeValidator) Validate(_ context.Context, _ cluster.Request, kubeconfig string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.kubeconfigs = append(v.kubeconfigs, kubeconfig)
	return v.err
}

// vmPool hands out VMs and remembers which ones are still running
type vmPool struct {
	mu       sync.Mutex
	running  map[string]bool
	created  int
	checkErr error
}

func newVMPool() *vmPool {
	return &vmPool{running: map[string]bool{}}
}

func (p *vmPool) Create(_ context.Context, spec hosts.NodeSpec) (*hosts.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	id := "vm-" + spec.Name
	p.running[id] = true
	return &hosts.Node{ID: id, Name: spec.Name, IP: "192.0.2.1", Username: spec.Username, Windows: spec.Windows}, nil
}

func (p *vmPool) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, id)
	return nil
}

func (p *vmPool) DisableSourceDestCheck(context.Context, string) error {
	return p.checkErr
}

func (p *vmPool) counts() (created, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, len(p.running)
}

// platformAPI answers as a management platform that accepts nothing
type platformAPI struct{}

func (platformAPI) ServerVersion(context.Context) (string, error) { return "v2.6.3", nil }

func (platformAPI) CreateCluster(context.Context, any) (*rancher.Cluster, error) {
	return nil, &rancher.APIError{StatusCode: 422, Code: "InvalidBodyContent", Message: "rejected"}
}

func (platformAPI) GetCluster(_ context.Context, id string) (*rancher.Cluster, error) {
	return nil, &rancher.APIError{StatusCode: 404, Code: "NotFound", Message: id}
}

func (platformAPI) DeleteCluster(context.Context, string) error { return nil }

func (platformAPI) GenerateKubeconfig(context.Context, string) (string, error) { return "", nil }

func (platformAPI) RegistrationToken(context.Context, string) (*rancher.RegistrationToken, error) {
	return nil, errors.New("no registration tokens")
}

func (platformAPI) AKSVersions(context.Context, string, string) ([]string, error) { return nil, nil }

// strictStore drops writes whose context is already done, like an etcd
// client would, and remembers every status it accepted per cluster id.
type strictStore struct {
	mu    sync.Mutex
	saved map[string][]cluster.Status
}

func newStrictStore() *strictStore {
	return &strictStore{saved: map[string][]cluster.Status{}}
}

func (s *strictStore) Save(ctx context.Context, _ string, rec cluster.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ExternalID != "" {
		s.saved[rec.ExternalID] = append(s.saved[rec.ExternalID], rec.Status)
	}
	return nil
}

func (s *strictStore) List(context.Context, string) ([]cluster.Record, error) { return nil, nil }

func (s *strictStore) statuses(externalID string) []cluster.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cluster.Status(nil), s.saved[externalID]...)
}
