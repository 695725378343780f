package views

import (
	"context"
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/sttts/kconsole/internal/watchcache"
	"github.com/sttts/kconsole/pkg/resources"
)

// Source provides live collections.
type Source interface {
	LiveCollection(ctx context.Context, key resources.Key) (*watchcache.Observable[resources.List], error)
}

// ServiceView is a service with the route exposing it, if any.
type ServiceView struct {
	Service *resources.ServiceResource
	// Route is nil when no route targets the service.
	Route *resources.Route
}

// Name returns the service name.
func (v ServiceView) Name() string { return v.Service.Name() }

// URL returns the external URL of the route, or "".
func (v ServiceView) URL() string {
	if v.Route == nil {
		return ""
	}
	return v.Route.URL()
}

// EnrichServices pairs every service with the first route that targets it
// or carries the same name.
func EnrichServices(services, routes resources.List) []ServiceView {
	byTarget := map[string]*resources.Route{}
	byName := map[string]*resources.Route{}
	for _, r := range routes {
		route, ok := r.(*resources.Route)
		if !ok {
			continue
		}
		if t := route.TargetService(); t != "" {
			if _, ok := byTarget[t]; !ok {
				byTarget[t] = route
			}
		}
		if n := route.Name(); n != "" {
			if _, ok := byName[n]; !ok {
				byName[n] = route
			}
		}
	}

	out := make([]ServiceView, 0, len(services))
	for _, r := range services {
		svc, ok := r.(*resources.ServiceResource)
		if !ok {
			continue
		}
		view := ServiceView{Service: svc}
		if name := svc.Name(); name != "" {
			if route, ok := byTarget[name]; ok {
				view.Route = route
			} else if route, ok := byName[name]; ok {
				view.Route = route
			}
		}
		out = append(out, view)
	}
	return out
}

// Services joins services with routes in namespace.
func Services(ctx context.Context, src Source, namespace string) (*watchcache.Observable[[]ServiceView], error) {
	services, err := src.LiveCollection(ctx, resources.Key{Namespace: namespace, Kind: resources.KindService})
	if err != nil {
		return nil, err
	}
	routes, err := optional(ctx, src, resources.Key{Namespace: namespace, Kind: resources.KindRoute})
	if err != nil {
		return nil, err
	}
	return CombineLatest2(ctx, Stream[resources.List](services), routes, EnrichServices), nil
}

// optional returns the live collection for key, or an empty one when the
// source does not serve the kind or the cluster does not know the resource.
// Route, DeploymentConfig and ReplicationController only exist on some
// clusters.
func optional(ctx context.Context, src Source, key resources.Key) (Stream[resources.List], error) {
	obs, err := src.LiveCollection(ctx, key)
	if errors.Is(err, resources.ErrUnknownKind) || apierrors.IsNotFound(err) {
		return Just(resources.List{}), nil
	}
	if err != nil {
		return nil, err
	}
	return obs, nil
}
