package watchcache

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	kctesting "github.com/sttts/kconsole/internal/testing"
	"github.com/sttts/kconsole/pkg/resources"
	"github.com/sttts/kconsole/pkg/resources/fake"
)

func TestLiveCollectionScenario(t *testing.T) {
	svc := fake.NewService(fake.Named("a"), fake.Named("b"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

	obs, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	ch := obs.Subscribe(t.Context())
	initial := kctesting.Receive(t, ch, timeout)
	if diff := cmp.Diff([]string{"a", "b"}, initial.Names()); diff != "" {
		t.Fatalf("unexpected initial list (-want +got):\n%s", diff)
	}
	w := svc.LastWatcher()

	w.Emit(resources.Added, fake.Named("c"))
	added := kctesting.Receive(t, ch, timeout)
	if diff := cmp.Diff([]string{"a", "b", "c"}, added.Names()); diff != "" {
		t.Fatalf("unexpected list after Added (-want +got):\n%s", diff)
	}
	if sameBacking(initial, added) || len(initial) != 2 {
		t.Fatalf("expected a new list instance after Added")
	}

	b := added[1]
	w.Emit(resources.Modified, withPayload("b", "X"))
	modified := kctesting.Receive(t, ch, timeout)
	if !sameBacking(added, modified) {
		t.Fatalf("expected the same list instance after Modified")
	}
	if modified[1] != b || payloads(modified)["b"] != "X" {
		t.Fatalf("expected b to be updated in place, got %v", payloads(modified))
	}

	w.Emit(resources.Deleted, fake.Named("a"))
	deleted := kctesting.Receive(t, ch, timeout)
	if diff := cmp.Diff([]string{"b", "c"}, deleted.Names()); diff != "" {
		t.Fatalf("unexpected list after Deleted (-want +got):\n%s", diff)
	}
	if len(modified) != 3 {
		t.Fatalf("expected the previous list to stay intact")
	}

	late := obs.Subscribe(t.Context())
	if got := kctesting.Receive(t, late, timeout); !sameBacking(got, deleted) {
		t.Fatalf("expected a late subscriber to get the latest list, got %v", got.Names())
	}
}

func TestLiveCollectionIsMemoized(t *testing.T) {
	svc := fake.NewService(fake.Named("a"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

	first, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	second, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same live collection")
	}
	if svc.WatchCalls() != 1 || svc.ListCalls() != 1 {
		t.Fatalf("expected one watch and one list, got %d and %d", svc.WatchCalls(), svc.ListCalls())
	}
}

func TestLiveCollectionUnknownEventType(t *testing.T) {
	var rec kctesting.LogRecorder
	svc := fake.NewService(withPayload("a", "1"), withPayload("b", "1"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc}, WithLogger(rec.Logger()))

	obs, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	ch := obs.Subscribe(t.Context())
	before := kctesting.Receive(t, ch, timeout)
	snapshot := make([]map[string]interface{}, 0, len(before))
	for _, r := range before {
		snapshot = append(snapshot, r.Object().DeepCopy().Object)
	}

	w := svc.LastWatcher()
	w.Emit("RENAMED", withPayload("a", "2"))
	// a following event proves the unknown one was consumed
	w.Emit(resources.Added, withPayload("z", "1"))
	after := kctesting.Receive(t, ch, timeout)

	if diff := cmp.Diff([]string{"a", "b", "z"}, after.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	for i, want := range snapshot {
		if diff := cmp.Diff(want, after[i].Object().Object); diff != "" {
			t.Fatalf("element %d changed (-want +got):\n%s", i, diff)
		}
	}
	lines := rec.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %q", lines)
	}
	for _, want := range []string{"Unknown watch event type", `"RENAMED"`, `"namespace"="ns"`, `"kind"="Pod"`} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("expected diagnostic to contain %s, got %q", want, lines[0])
		}
	}
}

func TestLiveCollectionDropsBadFrames(t *testing.T) {
	var rec kctesting.LogRecorder
	svc := fake.NewService(fake.Named("a"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc}, WithLogger(rec.Logger()))

	obs, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	ch := obs.Subscribe(t.Context())
	kctesting.Receive(t, ch, timeout)

	w := svc.LastWatcher()
	w.Send([]byte(`{not json`))
	w.Send([]byte(`{"type":"ADDED"}`))
	w.Send([]byte(`{"object":{"metadata":{"name":"x"}}}`))
	w.Emit(resources.Added, fake.Named("b"))

	got := kctesting.Receive(t, ch, timeout)
	if diff := cmp.Diff([]string{"a", "b"}, got.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	if n := rec.Count("Dropping malformed watch event"); n != 1 || len(rec.Lines()) != 1 {
		t.Fatalf("expected one diagnostic for the malformed frame only, got %q", rec.Lines())
	}
}

func TestLiveCollectionSurvivesPanicInFold(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	// the sink panics on the malformed frame diagnostic
	log := funcr.New(func(prefix, args string) {
		if strings.Contains(args, "Dropping malformed watch event") {
			panic("sink failure")
		}
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, args)
	}, funcr.Options{})

	svc := fake.NewService(fake.Named("a"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc}, WithLogger(log))

	obs, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	ch := obs.Subscribe(t.Context())
	kctesting.Receive(t, ch, timeout)

	w := svc.LastWatcher()
	w.Send([]byte(`{not json`))
	w.Emit(resources.Added, fake.Named("b"))

	got := kctesting.Receive(t, ch, timeout)
	if diff := cmp.Diff([]string{"a", "b"}, got.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || !strings.Contains(lines[0], "Recovered from panic") || !strings.Contains(lines[0], "sink failure") {
		t.Fatalf("expected one recovered panic, got %q", lines)
	}
}

func TestLiveCollectionSurvivesWatchFailure(t *testing.T) {
	for name, fail := range map[string]func(w *fake.Watcher){
		"transport error": func(w *fake.Watcher) { w.Fail(errors.New("connection reset by peer")) },
		"stream end":      func(w *fake.Watcher) { w.End() },
	} {
		t.Run(name, func(t *testing.T) {
			svc := fake.NewService(fake.Named("a"), fake.Named("b"))
			c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

			obs, err := c.LiveCollection(t.Context(), podKey)
			if err != nil {
				t.Fatalf("LiveCollection: %v", err)
			}
			ch := obs.Subscribe(t.Context())
			initial := kctesting.Receive(t, ch, timeout)
			h, err := c.Watch(t.Context(), podKey)
			if err != nil {
				t.Fatalf("Watch: %v", err)
			}

			fail(svc.LastWatcher())
			republished := kctesting.Receive(t, ch, timeout)
			if !sameBacking(initial, republished) {
				t.Fatalf("expected the last list to be republished, got %v", republished.Names())
			}
			kctesting.Eventually(t, timeout, 10*time.Millisecond, func() bool { return h.State() == StateErrored },
				"expected handle to become Errored")

			latest, ok := obs.Latest()
			if !ok || !cmp.Equal([]string{"a", "b"}, latest.Names()) {
				t.Fatalf("expected [a b] to survive, got %v", latest.Names())
			}
			select {
			case <-obs.Done():
				t.Fatalf("live collection must stay open after a watch failure")
			case <-time.After(20 * time.Millisecond):
			}

			if err := c.CloseAll(); err != nil {
				t.Fatalf("CloseAll: %v", err)
			}
			kctesting.Closed(t, ch, timeout)
			if h.State() != StateClosed {
				t.Fatalf("expected Closed after CloseAll, got %s", h.State())
			}
		})
	}
}

func TestLiveCollectionEndsOnHandleClose(t *testing.T) {
	svc := fake.NewService(fake.Named("a"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

	obs, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	h, err := c.Watch(t.Context(), podKey)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-obs.Done():
	case <-time.After(timeout):
		t.Fatalf("expected live collection to end after Close")
	}
	if svc.LastWatcher().Emit(resources.Added, fake.Named("b")) {
		t.Fatalf("expected no delivery after Close")
	}
}

func TestLiveCollectionListFailure(t *testing.T) {
	svc := fake.NewService(fake.Named("a"))
	boom := errors.New("boom")
	svc.SetListErr(boom)
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

	if _, err := c.LiveCollection(t.Context(), podKey); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	svc.SetListErr(nil)
	obs, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	latest, _ := obs.Latest()
	if diff := cmp.Diff([]string{"a"}, latest.Names()); diff != "" {
		t.Fatalf("unexpected list (-want +got):\n%s", diff)
	}
	if svc.ListCalls() != 2 || svc.WatchCalls() != 1 {
		t.Fatalf("expected the list retried on the cached watch, got %d lists and %d watches", svc.ListCalls(), svc.WatchCalls())
	}
}

func TestLiveCollectionWatchFailure(t *testing.T) {
	svc := fake.NewService(fake.Named("a"))
	boom := errors.New("forbidden")
	svc.SetWatchErr(boom)
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

	if _, err := c.LiveCollection(t.Context(), podKey); !errors.Is(err, boom) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if svc.ListCalls() != 0 {
		t.Fatalf("expected no list before the watch is open")
	}
	svc.SetWatchErr(nil)
	if _, err := c.LiveCollection(t.Context(), podKey); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
}

func TestLiveCollectionKeysAreIndependent(t *testing.T) {
	svc := fake.NewService(fake.Named("a"))
	c := newTestCache(t, map[resources.Kind]resources.Service{resources.KindPod: svc})

	ns1, err := c.LiveCollection(t.Context(), podKey)
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	ns2, err := c.LiveCollection(t.Context(), resources.Key{Namespace: "other", Kind: resources.KindPod})
	if err != nil {
		t.Fatalf("LiveCollection: %v", err)
	}
	if ns1 == ns2 || len(svc.Watchers()) != 2 {
		t.Fatalf("expected separate collections and watches per namespace")
	}

	ch := ns2.Subscribe(t.Context())
	kctesting.Receive(t, ch, timeout)
	svc.Watchers()[1].Emit(resources.Added, &unstructured.Unstructured{Object: map[string]interface{}{"name": "top-level"}})
	got := kctesting.Receive(t, ch, timeout)
	if diff := cmp.Diff([]string{"a", "top-level"}, got.Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
	if l, _ := ns1.Latest(); len(l) != 1 {
		t.Fatalf("expected the first namespace to be unaffected, got %v", l.Names())
	}
}
