package resources

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
)

// Manager builds list/watch services for one cluster. REST clients are
// created lazily per group version and share one HTTP client.
type Manager struct {
	config     *rest.Config
	httpClient *http.Client
	dyn        dynamic.Interface
	log        logr.Logger

	mu      sync.Mutex
	clients map[schema.GroupVersion]rest.Interface
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	log        logr.Logger
	httpClient *http.Client
}

// WithManagerLogger sets the logger passed to the services.
func WithManagerLogger(l logr.Logger) ManagerOption {
	return func(o *managerOptions) { o.log = l }
}

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(o *managerOptions) { o.httpClient = c }
}

// NewManager creates a manager for the cluster described by config.
func NewManager(config *rest.Config, opts ...ManagerOption) (*Manager, error) {
	o := &managerOptions{log: ctrl.Log.WithName("resources")}
	for _, fn := range opts {
		fn(o)
	}
	if config == nil {
		return nil, fmt.Errorf("resources: rest config must not be nil")
	}
	httpClient := o.httpClient
	if httpClient == nil {
		var err error
		httpClient, err = rest.HTTPClientFor(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create http client: %w", err)
		}
	}
	dyn, err := dynamic.NewForConfigAndClient(config, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	return &Manager{
		config:     rest.CopyConfig(config),
		httpClient: httpClient,
		dyn:        dyn,
		log:        o.log,
		clients:    make(map[schema.GroupVersion]rest.Interface),
	}, nil
}

// Service returns the list/watch service for kind.
func (m *Manager) Service(kind Kind) (*RESTService, error) {
	gvr, ok := kind.GVR()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	rc, err := m.restClientForGV(gvr.GroupVersion())
	if err != nil {
		return nil, fmt.Errorf("rest client for %s: %w", gvr.GroupVersion(), err)
	}
	return NewRESTService(kind, m.dyn, rc, m.log)
}

// Services returns services for kinds, or for every known kind when none
// are given.
func (m *Manager) Services(kinds ...Kind) (map[Kind]Service, error) {
	if len(kinds) == 0 {
		kinds = Kinds()
	}
	out := make(map[Kind]Service, len(kinds))
	for _, k := range kinds {
		svc, err := m.Service(k)
		if err != nil {
			return nil, err
		}
		out[k] = svc
	}
	return out, nil
}

func (m *Manager) restClientForGV(gv schema.GroupVersion) (rest.Interface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[gv]; ok {
		return c, nil
	}
	cfg := rest.CopyConfig(m.config)
	cfg.GroupVersion = &gv
	if gv.Group == "" {
		cfg.APIPath = "/api"
	} else {
		cfg.APIPath = "/apis"
	}
	cfg.NegotiatedSerializer = scheme.Codecs.WithoutConversion()
	if cfg.UserAgent == "" {
		cfg.UserAgent = rest.DefaultKubernetesUserAgent()
	}
	c, err := rest.RESTClientForConfigAndClient(cfg, m.httpClient)
	if err != nil {
		return nil, err
	}
	m.clients[gv] = c
	return c, nil
}
