package resources

import (
	"fmt"
	"sync/atomic"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// Resource is one element of a live collection. Each kind has its own
// variant; all of them wrap the raw decoded object. The wrapper instance is
// stable for the lifetime of the element while its payload is replaced as a
// whole by SetObject.
type Resource interface {
	Kind() Kind
	Name() string
	Namespace() string
	Labels() map[string]string
	Object() *unstructured.Unstructured
	SetObject(obj *unstructured.Unstructured)
}

// Workload is implemented by the kinds that manage a set of pods.
type Workload interface {
	Resource
	DesiredReplicas() int32
	ReadyReplicas() int32
	PodLabels() map[string]string
}

// New wraps obj into the variant for kind.
func New(kind Kind, obj *unstructured.Unstructured) (Resource, error) {
	var r Resource
	switch kind {
	case KindPod:
		r = &Pod{}
	case KindService:
		r = &ServiceResource{}
	case KindRoute:
		r = &Route{}
	case KindDeployment:
		r = &Deployment{}
	case KindDeploymentConfig:
		r = &DeploymentConfig{}
	case KindReplicaSet:
		r = &ReplicaSet{}
	case KindReplicationController:
		r = &ReplicationController{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r.SetObject(obj)
	return r, nil
}

// List is the value of a live collection: resources of one kind in one
// namespace, in insertion order, unique by name.
type List []Resource

// Index returns the position of the element named name, or -1.
func (l List) Index(name string) int {
	if name == "" {
		return -1
	}
	for i, r := range l {
		if r.Name() == name {
			return i
		}
	}
	return -1
}

// Names returns the element names in order.
func (l List) Names() []string {
	out := make([]string, 0, len(l))
	for _, r := range l {
		out = append(out, r.Name())
	}
	return out
}

type object struct {
	obj atomic.Pointer[unstructured.Unstructured]
}

func (o *object) Object() *unstructured.Unstructured { return o.obj.Load() }

func (o *object) SetObject(obj *unstructured.Unstructured) { o.obj.Store(obj) }

func (o *object) Name() string {
	u := o.Object()
	if u == nil {
		return ""
	}
	return NameOf(u.Object)
}

func (o *object) Namespace() string {
	u := o.Object()
	if u == nil {
		return ""
	}
	return u.GetNamespace()
}

func (o *object) Labels() map[string]string {
	u := o.Object()
	if u == nil {
		return nil
	}
	return u.GetLabels()
}

func (o *object) nestedString(fields ...string) string {
	u := o.Object()
	if u == nil {
		return ""
	}
	s, _, _ := unstructured.NestedString(u.Object, fields...)
	return s
}

func (o *object) nestedInt32(def int32, fields ...string) int32 {
	u := o.Object()
	if u == nil {
		return def
	}
	v, found, err := unstructured.NestedInt64(u.Object, fields...)
	if !found || err != nil {
		return def
	}
	return int32(v)
}

func (o *object) nestedStringMap(fields ...string) map[string]string {
	u := o.Object()
	if u == nil {
		return nil
	}
	m, _, _ := unstructured.NestedStringMap(u.Object, fields...)
	return m
}

// convert decodes the current payload into a typed API object.
func (o *object) convert(into interface{}) error {
	u := o.Object()
	if u == nil {
		return fmt.Errorf("no object")
	}
	return runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, into)
}

// Pod is a core/v1 pod.
type Pod struct{ object }

func (*Pod) Kind() Kind { return KindPod }

// Typed decodes the pod into its API type.
func (p *Pod) Typed() (*corev1.Pod, error) {
	out := &corev1.Pod{}
	if err := p.convert(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Phase returns status.phase, empty when unknown.
func (p *Pod) Phase() string {
	pod, err := p.Typed()
	if err != nil {
		return ""
	}
	return string(pod.Status.Phase)
}

// ServiceResource is a core/v1 service.
type ServiceResource struct{ object }

func (*ServiceResource) Kind() Kind { return KindService }

// Typed decodes the service into its API type.
func (s *ServiceResource) Typed() (*corev1.Service, error) {
	out := &corev1.Service{}
	if err := s.convert(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Selector returns spec.selector.
func (s *ServiceResource) Selector() map[string]string {
	svc, err := s.Typed()
	if err != nil {
		return nil
	}
	return svc.Spec.Selector
}

// Route is an OpenShift route exposing a service outside the cluster.
type Route struct{ object }

func (*Route) Kind() Kind { return KindRoute }

// Host returns spec.host.
func (r *Route) Host() string { return r.nestedString("spec", "host") }

// TargetService returns the service named by spec.to, or "" when the route
// targets something else.
func (r *Route) TargetService() string {
	if k := r.nestedString("spec", "to", "kind"); k != "" && k != string(KindService) {
		return ""
	}
	return r.nestedString("spec", "to", "name")
}

// TLS reports whether the route terminates TLS.
func (r *Route) TLS() bool {
	u := r.Object()
	if u == nil {
		return false
	}
	_, found, _ := unstructured.NestedMap(u.Object, "spec", "tls")
	return found
}

// URL returns the external URL of the route, empty without a host.
func (r *Route) URL() string {
	host := r.Host()
	if host == "" {
		return ""
	}
	if r.TLS() {
		return "https://" + host
	}
	return "http://" + host
}

// Deployment is an apps/v1 deployment.
type Deployment struct{ object }

func (*Deployment) Kind() Kind { return KindDeployment }

// Typed decodes the deployment into its API type.
func (d *Deployment) Typed() (*appsv1.Deployment, error) {
	out := &appsv1.Deployment{}
	if err := d.convert(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Deployment) DesiredReplicas() int32 {
	dep, err := d.Typed()
	if err != nil || dep.Spec.Replicas == nil {
		return 1
	}
	return *dep.Spec.Replicas
}

func (d *Deployment) ReadyReplicas() int32 {
	dep, err := d.Typed()
	if err != nil {
		return 0
	}
	return dep.Status.ReadyReplicas
}

func (d *Deployment) PodLabels() map[string]string {
	dep, err := d.Typed()
	if err != nil {
		return nil
	}
	return dep.Spec.Template.Labels
}

// DeploymentConfig is the OpenShift counterpart of a deployment.
type DeploymentConfig struct{ object }

func (*DeploymentConfig) Kind() Kind { return KindDeploymentConfig }

func (d *DeploymentConfig) DesiredReplicas() int32 { return d.nestedInt32(1, "spec", "replicas") }

func (d *DeploymentConfig) ReadyReplicas() int32 { return d.nestedInt32(0, "status", "readyReplicas") }

func (d *DeploymentConfig) PodLabels() map[string]string {
	if l := d.nestedStringMap("spec", "template", "metadata", "labels"); len(l) > 0 {
		return l
	}
	return d.nestedStringMap("spec", "selector")
}

// ReplicaSet is an apps/v1 replica set.
type ReplicaSet struct{ object }

func (*ReplicaSet) Kind() Kind { return KindReplicaSet }

// Typed decodes the replica set into its API type.
func (r *ReplicaSet) Typed() (*appsv1.ReplicaSet, error) {
	out := &appsv1.ReplicaSet{}
	if err := r.convert(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReplicaSet) DesiredReplicas() int32 {
	rs, err := r.Typed()
	if err != nil || rs.Spec.Replicas == nil {
		return 1
	}
	return *rs.Spec.Replicas
}

func (r *ReplicaSet) ReadyReplicas() int32 {
	rs, err := r.Typed()
	if err != nil {
		return 0
	}
	return rs.Status.ReadyReplicas
}

func (r *ReplicaSet) PodLabels() map[string]string {
	rs, err := r.Typed()
	if err != nil {
		return nil
	}
	return rs.Spec.Template.Labels
}

// ReplicationController is the core/v1 predecessor of a replica set.
type ReplicationController struct{ object }

func (*ReplicationController) Kind() Kind { return KindReplicationController }

// Typed decodes the controller into its API type.
func (r *ReplicationController) Typed() (*corev1.ReplicationController, error) {
	out := &corev1.ReplicationController{}
	if err := r.convert(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReplicationController) DesiredReplicas() int32 {
	rc, err := r.Typed()
	if err != nil || rc.Spec.Replicas == nil {
		return 1
	}
	return *rc.Spec.Replicas
}

func (r *ReplicationController) ReadyReplicas() int32 {
	rc, err := r.Typed()
	if err != nil {
		return 0
	}
	return rc.Status.ReadyReplicas
}

func (r *ReplicationController) PodLabels() map[string]string {
	rc, err := r.Typed()
	if err != nil {
		return nil
	}
	if rc.Spec.Template != nil && len(rc.Spec.Template.Labels) > 0 {
		return rc.Spec.Template.Labels
	}
	return rc.Spec.Selector
}
