package cluster

import (
	"fmt"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Clients - kubernetes clients used by the fetcher
type Clients struct {
	Dynamic dynamic.Interface
	Core    kubernetes.Interface
}

// RestConfig resolves API server config: explicit kubeconfig first, then
// in-cluster service account, then default loading rules (KUBECONFIG, ~/.kube/config)
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("clientcmd.BuildConfigFromFlags: %w", err)
		}
		return cfg, nil
	}

	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("ClientConfig: %w", err)
	}

	return cfg, nil
}

// NewClients builds dynamic and typed clients
func NewClients(kubeconfig string) (*Clients, error) {
	cfg, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("RestConfig: %w", err)
	}

	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("dynamic.NewForConfig: %w", err)
	}

	core, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("kubernetes.NewForConfig: %w", err)
	}

	return &Clients{Dynamic: dyn, Core: core}, nil
}
