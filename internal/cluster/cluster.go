// Package cluster fetches egress resources from the Kubernetes API.
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/r-heap47/eipmon/internal/instrument"
	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// Operation names reported to the recorder
const (
	OpEgressIPs = "eip_get"
	OpCPICs     = "cpic_get"
	OpNodes     = "nodes_get"
)

// DefaultNodeSelector selects nodes allowed to host egress addresses
const DefaultNodeSelector = "k8s.ovn.org/egress-assignable"

var (
	// EgressIPResource - OVN-Kubernetes EgressIP, cluster scoped
	EgressIPResource = schema.GroupVersionResource{Group: "k8s.ovn.org", Version: "v1", Resource: "egressips"}
	// CPICResource - OpenShift CloudPrivateIPConfig, cluster scoped
	CPICResource = schema.GroupVersionResource{Group: "cloud.network.openshift.io", Version: "v1", Resource: "cloudprivateipconfigs"}
)

// Fetcher - source of cluster resources
type Fetcher interface {
	Fetch(ctx context.Context) (models.Resources, error)
}

// Config - KubeFetcher config
type Config struct {
	Dynamic dynamic.Interface
	Core    kubernetes.Interface

	Recorder     instrument.Recorder
	Clock        utils.Provider[time.Time]
	NodeSelector utils.Provider[string]

	Logger zerolog.Logger
}

// KubeFetcher - Fetcher backed by the Kubernetes API
type KubeFetcher struct {
	dyn  dynamic.Interface
	core kubernetes.Interface

	rec          instrument.Recorder
	clock        utils.Provider[time.Time]
	nodeSelector utils.Provider[string]

	log zerolog.Logger
}

// NewKubeFetcher returns new KubeFetcher
func NewKubeFetcher(cfg Config) (*KubeFetcher, error) {
	if cfg.Dynamic == nil || cfg.Core == nil {
		return nil, fmt.Errorf("%w: kubernetes clients are required", pkgerrors.ErrConfig)
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("%w: recorder is required", pkgerrors.ErrConfig)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = utils.WallClock
	}
	selector := cfg.NodeSelector
	if selector == nil {
		selector = utils.Const(DefaultNodeSelector)
	}

	return &KubeFetcher{
		dyn:          cfg.Dynamic,
		core:         cfg.Core,
		rec:          cfg.Recorder,
		clock:        clock,
		nodeSelector: selector,
		log:          cfg.Logger,
	}, nil
}

// Fetch lists EgressIPs, CloudPrivateIPConfigs and egress-assignable nodes concurrently.
// Any failed list or malformed record fails the whole fetch. A failed list does not
// cancel the others, so every call is recorded with its own outcome.
func (f *KubeFetcher) Fetch(ctx context.Context) (models.Resources, error) {
	var (
		eips  *unstructured.UnstructuredList
		cpics *unstructured.UnstructuredList
		nodes *corev1.NodeList
	)

	var eg errgroup.Group

	eg.Go(func() error {
		var err error
		eips, err = instrument.Call(ctx, f.rec, f.clock, OpEgressIPs, func(ctx context.Context) (*unstructured.UnstructuredList, error) {
			return f.dyn.Resource(EgressIPResource).List(ctx, metav1.ListOptions{})
		})
		if err != nil {
			return fmt.Errorf("egressips List: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		var err error
		cpics, err = instrument.Call(ctx, f.rec, f.clock, OpCPICs, func(ctx context.Context) (*unstructured.UnstructuredList, error) {
			return f.dyn.Resource(CPICResource).List(ctx, metav1.ListOptions{})
		})
		if err != nil {
			return fmt.Errorf("cloudprivateipconfigs List: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		var err error
		nodes, err = instrument.Call(ctx, f.rec, f.clock, OpNodes, func(ctx context.Context) (*corev1.NodeList, error) {
			return f.core.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: f.nodeSelector(ctx)})
		})
		if err != nil {
			return fmt.Errorf("nodes List: %w", err)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return models.Resources{}, fmt.Errorf("%w: %w", pkgerrors.ErrFetch, err)
	}

	res, err := convert(eips, cpics, nodes)
	if err != nil {
		return models.Resources{}, fmt.Errorf("%w: %w", pkgerrors.ErrFetch, err)
	}

	f.log.Debug().
		Int("egressips", len(res.EgressIPs)).
		Int("cpics", len(res.CPICs)).
		Int("nodes", len(res.Nodes)).
		Msg("fetched cluster resources")

	return res, nil
}

func convert(eips, cpics *unstructured.UnstructuredList, nodes *corev1.NodeList) (models.Resources, error) {
	res := models.Resources{
		EgressIPs: make([]models.EgressIP, 0, len(eips.Items)),
		CPICs:     make([]models.CloudPrivateIPConfig, 0, len(cpics.Items)),
		Nodes:     make([]models.Node, 0, len(nodes.Items)),
	}

	for i := range eips.Items {
		eip, err := EgressIPFromUnstructured(&eips.Items[i])
		if err != nil {
			return models.Resources{}, fmt.Errorf("EgressIPFromUnstructured: %w", err)
		}
		res.EgressIPs = append(res.EgressIPs, eip)
	}

	for i := range cpics.Items {
		cpic, err := CPICFromUnstructured(&cpics.Items[i])
		if err != nil {
			return models.Resources{}, fmt.Errorf("CPICFromUnstructured: %w", err)
		}
		res.CPICs = append(res.CPICs, cpic)
	}

	for i := range nodes.Items {
		res.Nodes = append(res.Nodes, NodeFromCore(&nodes.Items[i]))
	}

	return res, nil
}
