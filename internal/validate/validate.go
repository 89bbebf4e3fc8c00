// Package validate checks that a provisioned cluster is usable.
package validate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/logging"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// ClientFactory builds a Kubernetes client from kubeconfig contents
type ClientFactory func(kubeconfig string) (kubernetes.Interface, error)

// NodeValidator checks that every node of a cluster is Ready and, for
// clusters with an explicit topology, that the node count matches.
type NodeValidator struct {
	clientFor ClientFactory
	timeout   time.Duration
	interval  time.Duration
}

// Option configures a NodeValidator
type Option func(*NodeValidator)

// WithClientFactory overrides how clients are built
func WithClientFactory(f ClientFactory) Option {
	return func(v *NodeValidator) { v.clientFor = f }
}

// WithRetry sets how long validation keeps retrying a not-yet-ready cluster
func WithRetry(timeout, interval time.Duration) Option {
	return func(v *NodeValidator) {
		v.timeout = timeout
		v.interval = interval
	}
}

// NewNodeValidator creates a validator
func NewNodeValidator(opts ...Option) *NodeValidator {
	v := &NodeValidator{
		clientFor: clientFromKubeconfig,
		timeout:   5 * time.Minute,
		interval:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func clientFromKubeconfig(kubeconfig string) (kubernetes.Interface, error) {
	restConfig, err := clientcmd.RESTConfigFromKubeConfig([]byte(kubeconfig))
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return cs, nil
}

// Validate retries until the cluster passes or the retry window closes.
func (v *NodeValidator) Validate(ctx context.Context, req cluster.Request, kubeconfig string) error {
	if kubeconfig == "" {
		return fmt.Errorf("empty kubeconfig for %s", req.Key())
	}
	cs, err := v.clientFor(kubeconfig)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(v.timeout)
	for {
		err = checkNodes(ctx, cs, req)
		if err == nil {
			logging.Logger().Info("cluster validated",
				zap.String("cluster", req.Key().String()))
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("cluster %s failed validation: %w", req.Key(), err)
		}

		logging.Logger().Debug("cluster not valid yet",
			zap.String("cluster", req.Key().String()),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.interval):
		}
	}
}

func checkNodes(ctx context.Context, cs kubernetes.Interface, req cluster.Request) error {
	nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes.Items) == 0 {
		return fmt.Errorf("cluster has no nodes")
	}
	if want := len(req.NodeRoles); want > 0 && len(nodes.Items) != want {
		return fmt.Errorf("expected %d nodes, found %d", want, len(nodes.Items))
	}

	var notReady []string
	windows := 0
	for _, node := range nodes.Items {
		if !nodeReady(node) {
			notReady = append(notReady, node.Name)
		}
		if node.Labels[corev1.LabelOSStable] == "windows" {
			windows++
		}
	}
	if len(notReady) > 0 {
		sort.Strings(notReady)
		return fmt.Errorf("nodes not ready: %s", strings.Join(notReady, ", "))
	}

	if req.Windows {
		want := 0
		for i := range req.NodeRoles {
			if req.IsWindowsNode(i) {
				want++
			}
		}
		if windows != want {
			return fmt.Errorf("expected %d windows nodes, found %d", want, windows)
		}
	}
	return nil
}

func nodeReady(node corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
