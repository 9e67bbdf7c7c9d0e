// Package k8s is the Kubernetes Executor (spec.md §4.4): talks to the
// cluster via its native API, in-cluster credentials when available,
// otherwise a configured credentials file. Client construction grounded
// on kubilitics-backend/internal/k8s/client.go's in-cluster-first,
// kubeconfig-fallback pattern plus a client-side rate limiter.
package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
)

// Client wraps the typed Kubernetes clientset plus the metrics clientset,
// with a client-side rate limiter guarding the underlying REST config.
type Client struct {
	Clientset        kubernetes.Interface
	Metrics          metricsv.Interface
	DefaultNamespace string
	RequestTimeout   time.Duration

	limiter *rate.Limiter
}

// Options configures NewClient.
type Options struct {
	KubeconfigPath   string
	DefaultNamespace string
	RequestTimeout   time.Duration
	QPS              float32
	Burst            int
}

// NewClient builds a Client, preferring in-cluster credentials and
// falling back to a kubeconfig file (explicit path, then KUBECONFIG env,
// then ~/.kube/config), mirroring the teacher's client.go fallback order.
func NewClient(opts Options) (*Client, error) {
	cfg, err := buildRestConfig(opts.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("k8s: building config: %w", err)
	}
	if opts.QPS <= 0 {
		opts.QPS = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 40
	}
	cfg.QPS = opts.QPS
	cfg.Burst = opts.Burst

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s: building clientset: %w", err)
	}
	metricsClient, err := metricsv.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s: building metrics clientset: %w", err)
	}

	ns := opts.DefaultNamespace
	if ns == "" {
		ns = "default"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		Clientset:        clientset,
		Metrics:          metricsClient,
		DefaultNamespace: ns,
		RequestTimeout:   timeout,
		limiter:          rate.NewLimiter(rate.Limit(opts.QPS), opts.Burst),
	}, nil
}

func buildRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	path := kubeconfigPath
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".kube", "config")
		}
	}
	return clientcmd.BuildConfigFromFlags("", path)
}

// wait blocks until the client's rate limiter admits one more request.
func (c *Client) wait(ctx context.Context) {
	if c.limiter != nil {
		_ = c.limiter.Wait(ctx)
	}
}

// namespaceOrDefault returns ns if non-empty, otherwise the client's
// configured default namespace (spec.md §6: "namespace defaults to the
// configured default when omitted").
func (c *Client) namespaceOrDefault(ns string) string {
	if ns == "" {
		return c.DefaultNamespace
	}
	return ns
}
