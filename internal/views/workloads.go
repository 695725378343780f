package views

import (
	"context"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/sttts/kconsole/internal/watchcache"
	"github.com/sttts/kconsole/pkg/resources"
)

// WorkloadView is a workload with the services selecting its pods.
type WorkloadView struct {
	Workload resources.Workload
	Services []ServiceView
}

// DeploymentView is a deployment or deployment config with its services.
type DeploymentView = WorkloadView

// ReplicaSetView is a replica set or replication controller with its
// services.
type ReplicaSetView = WorkloadView

// Name returns the workload name.
func (v WorkloadView) Name() string { return v.Workload.Name() }

// URL returns the first external URL among the services, or "".
func (v WorkloadView) URL() string {
	for _, s := range v.Services {
		if u := s.URL(); u != "" {
			return u
		}
	}
	return ""
}

// CombineDeployments unifies deployments and deployment configs, deployments
// first.
func CombineDeployments(deployments, configs resources.List) []resources.Workload {
	return workloads(deployments, configs)
}

// CombineReplicaSets unifies replica sets and replication controllers,
// replica sets first.
func CombineReplicaSets(replicaSets, controllers resources.List) []resources.Workload {
	return workloads(replicaSets, controllers)
}

func workloads(lists ...resources.List) []resources.Workload {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]resources.Workload, 0, n)
	for _, l := range lists {
		for _, r := range l {
			if w, ok := r.(resources.Workload); ok {
				out = append(out, w)
			}
		}
	}
	return out
}

// CreateDeploymentViews attaches to every deployment the services whose
// selector matches its pod labels or whose name equals its name.
func CreateDeploymentViews(deployments []resources.Workload, services []ServiceView) []DeploymentView {
	return workloadViews(deployments, services)
}

// CreateReplicaSetViews is CreateDeploymentViews for replica sets.
func CreateReplicaSetViews(replicaSets []resources.Workload, services []ServiceView) []ReplicaSetView {
	return workloadViews(replicaSets, services)
}

func workloadViews(ws []resources.Workload, services []ServiceView) []WorkloadView {
	out := make([]WorkloadView, 0, len(ws))
	for _, w := range ws {
		view := WorkloadView{Workload: w}
		podLabels := labels.Set(w.PodLabels())
		for _, s := range services {
			if selects(s.Service, w.Name(), podLabels) {
				view.Services = append(view.Services, s)
			}
		}
		out = append(out, view)
	}
	return out
}

func selects(svc *resources.ServiceResource, name string, podLabels labels.Set) bool {
	if name != "" && svc.Name() == name {
		return true
	}
	sel := svc.Selector()
	if len(sel) == 0 || len(podLabels) == 0 {
		return false
	}
	return labels.SelectorFromSet(sel).Matches(podLabels)
}

// Deployments joins deployments and deployment configs with the services
// view of namespace.
func Deployments(ctx context.Context, src Source, namespace string) (*watchcache.Observable[[]DeploymentView], error) {
	return runtimeViews(ctx, src, namespace, resources.KindDeployment, resources.KindDeploymentConfig, CombineDeployments, CreateDeploymentViews)
}

// ReplicaSets joins replica sets and replication controllers with the
// services view of namespace.
func ReplicaSets(ctx context.Context, src Source, namespace string) (*watchcache.Observable[[]ReplicaSetView], error) {
	return runtimeViews(ctx, src, namespace, resources.KindReplicaSet, resources.KindReplicationController, CombineReplicaSets, CreateReplicaSetViews)
}

func runtimeViews(
	ctx context.Context, src Source, namespace string,
	primary, secondary resources.Kind,
	combine func(a, b resources.List) []resources.Workload,
	create func([]resources.Workload, []ServiceView) []WorkloadView,
) (*watchcache.Observable[[]WorkloadView], error) {
	first, err := src.LiveCollection(ctx, resources.Key{Namespace: namespace, Kind: primary})
	if err != nil {
		return nil, err
	}
	second, err := optional(ctx, src, resources.Key{Namespace: namespace, Kind: secondary})
	if err != nil {
		return nil, err
	}
	services, err := Services(ctx, src, namespace)
	if err != nil {
		return nil, err
	}
	ws := CombineLatest2(ctx, Stream[resources.List](first), second, combine)
	return CombineLatest2(ctx, Stream[[]resources.Workload](ws), Stream[[]ServiceView](services), create), nil
}
