package resources

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
)

// RESTService implements Service against the API server. Lists go through
// the dynamic client; watches read the raw JSON stream so that each message
// reaches the merge engine undecoded.
type RESTService struct {
	kind Kind
	gvr  schema.GroupVersionResource
	dyn  dynamic.Interface
	rc   rest.Interface
	log  logr.Logger

	backoff wait.Backoff
}

// NewRESTService creates a service for kind. rc must be a client for the
// group version of the kind.
func NewRESTService(kind Kind, dyn dynamic.Interface, rc rest.Interface, log logr.Logger) (*RESTService, error) {
	gvr, ok := kind.GVR()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if dyn == nil || rc == nil {
		return nil, fmt.Errorf("resources: clients for %s must not be nil", kind)
	}
	return &RESTService{
		kind:    kind,
		gvr:     gvr,
		dyn:     dyn,
		rc:      rc,
		log:     log.WithValues("kind", kind),
		backoff: defaultResumeBackoff,
	}, nil
}

// Kind returns the kind served.
func (s *RESTService) Kind() Kind { return s.kind }

func (s *RESTService) List(ctx context.Context, namespace string) ([]*unstructured.Unstructured, error) {
	lst, err := s.dyn.Resource(s.gvr).Namespace(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list %s in namespace %q: %w", s.gvr.Resource, namespace, err)
	}
	items := make([]*unstructured.Unstructured, 0, len(lst.Items))
	for i := range lst.Items {
		items = append(items, &lst.Items[i])
	}
	s.log.V(2).Info("Listed resources", "namespace", namespace, "count", len(items))
	return items, nil
}

// WatchNamespace opens a raw watch stream. When the server ends the stream
// it is re-opened from the last seen resourceVersion.
func (s *RESTService) WatchNamespace(ctx context.Context, namespace string) (Watcher, error) {
	log := s.log.WithValues("namespace", namespace)
	open := func(ctx context.Context, resourceVersion string) (*streamWatcher, error) {
		req := s.rc.Get().Resource(s.gvr.Resource).Param("watch", "true")
		if namespace != "" {
			req = req.Namespace(namespace)
		}
		if resourceVersion != "" {
			req = req.Param("resourceVersion", resourceVersion)
		}
		req.SetHeader("Accept", "application/json")
		body, err := req.Stream(ctx)
		if err != nil {
			return nil, fmt.Errorf("watch %s in namespace %q: %w", s.gvr.Resource, namespace, err)
		}
		return newStreamWatcher(body, log), nil
	}

	first, err := open(ctx, "")
	if err != nil {
		return nil, err
	}
	log.V(1).Info("Opened watch")
	return newResumingWatcher(ctx, first, open, s.backoff, log), nil
}
