package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"clusterswarm/internal/control"
	"clusterswarm/internal/hosts"
	"clusterswarm/internal/rancher"
)

type fakeAPI struct {
	mu        sync.Mutex
	specs     []map[string]any
	createErr error
	clusters  map[string]*rancher.Cluster
	getErr    error
	deleted   []string
	token     *rancher.RegistrationToken
	versions  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		clusters: map[string]*rancher.Cluster{},
		token: &rancher.RegistrationToken{
			NodeCommand:        "sudo docker run rancher/rancher-agent --server https://r --token t",
			WindowsNodeCommand: `PowerShell -NoLogo -NonInteractive -Command "& {docker run rancher/rancher-agent bootstrap --server https://r --token t | iex}"`,
			ManifestURL:        "https://r/v3/import/abc.yaml",
		},
	}
}

func (f *fakeAPI) ServerVersion(context.Context) (string, error) { return "v2.6.3", nil }

func (f *fakeAPI) CreateCluster(_ context.Context, spec any) (*rancher.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	f.specs = append(f.specs, m)
	id := fmt.Sprintf("c-%d", len(f.specs))
	f.clusters[id] = &rancher.Cluster{ID: id, Name: fmt.Sprint(m["name"]), State: "provisioning"}
	return f.clusters[id], nil
}

func (f *fakeAPI) GetCluster(_ context.Context, id string) (*rancher.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.clusters[id]
	if !ok {
		return nil, &rancher.APIError{StatusCode: 404, Code: "NotFound"}
	}
	return c, nil
}

func (f *fakeAPI) DeleteCluster(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.clusters, id)
	return nil
}

func (f *fakeAPI) GenerateKubeconfig(_ context.Context, id string) (string, error) {
	return "kubeconfig-" + id, nil
}

func (f *fakeAPI) RegistrationToken(context.Context, string) (*rancher.RegistrationToken, error) {
	return f.token, nil
}

func (f *fakeAPI) AKSVersions(context.Context, string, string) ([]string, error) {
	return f.versions, nil
}

type fakePool struct {
	mu         sync.Mutex
	created    []hosts.NodeSpec
	deleted    []string
	failOn     string
	sdDisabled []string
}

func (p *fakePool) Create(_ context.Context, spec hosts.NodeSpec) (*hosts.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != "" && strings.HasSuffix(spec.Name, p.failOn) {
		return nil, fmt.Errorf("quota exceeded")
	}
	p.created = append(p.created, spec)
	index := spec.Name[strings.LastIndex(spec.Name, "-")+1:]
	return &hosts.Node{
		ID:        "vm-" + spec.Name,
		Name:      spec.Name,
		IP:        "3.0.0." + index,
		PrivateIP: "10.0.0." + index,
		Username:  spec.Username,
		Windows:   spec.Windows,
	}, nil
}

func (p *fakePool) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, id)
	return nil
}

// checkerPool also disables source/destination checks
type checkerPool struct {
	fakePool
	checkErr error
}

func (p *checkerPool) DisableSourceDestCheck(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkErr != nil {
		return p.checkErr
	}
	p.sdDisabled = append(p.sdDisabled, id)
	return nil
}

type fakeDialer struct {
	mu       sync.Mutex
	commands map[string][]string
	files    map[string]string
	// commands containing failOn exit non-zero
	failOn string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{commands: map[string][]string{}, files: map[string]string{}}
}

func (d *fakeDialer) Dial(_ context.Context, cfg control.Config) (control.Controller, error) {
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key must be provided")
	}
	return &fakeController{dialer: d, name: cfg.InstanceName}, nil
}

func (d *fakeDialer) ran(node string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commands[node]
}

type fakeController struct {
	dialer *fakeDialer
	name   string
}

func (c *fakeController) Close() error { return nil }

func (c *fakeController) Run(_ context.Context, command string) (string, error) {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	c.dialer.commands[c.name] = append(c.dialer.commands[c.name], command)
	if c.dialer.failOn != "" && strings.Contains(command, c.dialer.failOn) {
		return "", fmt.Errorf("process exited with status 1")
	}
	return "", nil
}

func (c *fakeController) WriteFile(remotePath, content string, _ os.FileMode) error {
	c.dialer.mu.Lock()
	defer c.dialer.mu.Unlock()
	c.dialer.files[c.name+":"+remotePath] = content
	return nil
}

func (c *fakeController) InstanceName() string { return c.name }

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  string
}

func (r *fakeRunner) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{dir, name}, args...))
	if name == r.fail {
		return nil, fmt.Errorf("%s failed: exit status 1", name)
	}
	return nil, nil
}
