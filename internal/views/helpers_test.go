package views

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sttts/kconsole/internal/watchcache"
	"github.com/sttts/kconsole/pkg/resources"
	"github.com/sttts/kconsole/pkg/resources/fake"
)

const timeout = 5 * time.Second

type fakeSource struct {
	lists map[resources.Key]*watchcache.Observable[resources.List]
	errs  map[resources.Key]error
	err   error
}

func newFakeSource(kinds ...resources.Kind) *fakeSource {
	s := &fakeSource{lists: map[resources.Key]*watchcache.Observable[resources.List]{}}
	for _, k := range kinds {
		s.lists[resources.Key{Namespace: "ns", Kind: k}] = watchcache.NewObservable[resources.List]()
	}
	return s
}

func (s *fakeSource) LiveCollection(ctx context.Context, key resources.Key) (*watchcache.Observable[resources.List], error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := s.errs[key]; err != nil {
		return nil, err
	}
	obs, ok := s.lists[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", resources.ErrUnknownKind, key.Kind)
	}
	return obs, nil
}

func (s *fakeSource) publish(kind resources.Kind, l resources.List) {
	s.lists[resources.Key{Namespace: "ns", Kind: kind}].Publish(l)
}

func (s *fakeSource) close() {
	for _, o := range s.lists {
		o.Close()
	}
}

func res(t *testing.T, kind resources.Kind, name string, fields map[string]interface{}) resources.Resource {
	t.Helper()
	r, err := resources.New(kind, fake.Object("ns", name, fields))
	require.NoError(t, err)
	return r
}

func service(t *testing.T, name string, selector map[string]interface{}) resources.Resource {
	t.Helper()
	var fields map[string]interface{}
	if selector != nil {
		fields = map[string]interface{}{"spec": map[string]interface{}{"selector": selector}}
	}
	return res(t, resources.KindService, name, fields)
}

func route(t *testing.T, name, target, host string) resources.Resource {
	t.Helper()
	spec := map[string]interface{}{"host": host}
	if target != "" {
		spec["to"] = map[string]interface{}{"kind": "Service", "name": target}
	}
	return res(t, resources.KindRoute, name, map[string]interface{}{"spec": spec})
}

func workload(t *testing.T, kind resources.Kind, name string, podLabels map[string]interface{}) resources.Resource {
	t.Helper()
	return res(t, kind, name, map[string]interface{}{
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"metadata": map[string]interface{}{"labels": podLabels},
			},
		},
	})
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return v
	case <-time.After(timeout):
		t.Fatalf("nothing received within %s", timeout)
	}
	var zero T
	return zero
}

func serviceNames(vs []ServiceView) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Name())
	}
	return out
}
