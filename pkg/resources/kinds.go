package resources

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Kind names a resource collection the console knows how to list and watch.
type Kind string

const (
	KindPod                   Kind = "Pod"
	KindService               Kind = "Service"
	KindRoute                 Kind = "Route"
	KindDeployment            Kind = "Deployment"
	KindDeploymentConfig      Kind = "DeploymentConfig"
	KindReplicaSet            Kind = "ReplicaSet"
	KindReplicationController Kind = "ReplicationController"
)

// ErrUnknownKind is returned for kinds without a registered variant.
var ErrUnknownKind = errors.New("unknown resource kind")

type kindInfo struct {
	gvr     schema.GroupVersionResource
	aliases []string
}

var kinds = map[Kind]kindInfo{
	KindPod: {
		gvr:     schema.GroupVersionResource{Version: "v1", Resource: "pods"},
		aliases: []string{"pod", "po"},
	},
	KindService: {
		gvr:     schema.GroupVersionResource{Version: "v1", Resource: "services"},
		aliases: []string{"service", "svc"},
	},
	KindRoute: {
		gvr:     schema.GroupVersionResource{Group: "route.openshift.io", Version: "v1", Resource: "routes"},
		aliases: []string{"route"},
	},
	KindDeployment: {
		gvr:     schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"},
		aliases: []string{"deployment", "deploy"},
	},
	KindDeploymentConfig: {
		gvr:     schema.GroupVersionResource{Group: "apps.openshift.io", Version: "v1", Resource: "deploymentconfigs"},
		aliases: []string{"deploymentconfig", "dc"},
	},
	KindReplicaSet: {
		gvr:     schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "replicasets"},
		aliases: []string{"replicaset", "rs"},
	},
	KindReplicationController: {
		gvr:     schema.GroupVersionResource{Version: "v1", Resource: "replicationcontrollers"},
		aliases: []string{"replicationcontroller", "rc"},
	},
}

// GVR returns the API resource backing the kind.
func (k Kind) GVR() (schema.GroupVersionResource, bool) {
	info, ok := kinds[k]
	return info.gvr, ok
}

// Known reports whether the kind has a registered variant.
func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok
}

// Kinds returns all registered kinds in a stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseKind resolves a kind name, plural resource name or short name,
// case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, info := range kinds {
		if strings.ToLower(string(k)) == s || info.gvr.Resource == s {
			return k, nil
		}
		for _, a := range info.aliases {
			if a == s {
				return k, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
