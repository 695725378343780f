// Package fake provides an in-memory resources.Service for tests.
package fake

import (
	"context"
	"encoding/json"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/sttts/kconsole/pkg/resources"
)

// Named returns an object carrying only metadata.name.
func Named(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": name},
	}}
}

// Object returns an object with metadata and the given top-level fields.
func Object(namespace, name string, fields map[string]interface{}) *unstructured.Unstructured {
	obj := map[string]interface{}{
		"metadata": map[string]interface{}{"name": name, "namespace": namespace},
	}
	for k, v := range fields {
		obj[k] = v
	}
	return &unstructured.Unstructured{Object: obj}
}

// EventJSON encodes a raw watch message.
func EventJSON(t resources.EventType, obj *unstructured.Unstructured) []byte {
	var o interface{}
	if obj != nil {
		o = obj.Object
	}
	data, err := json.Marshal(map[string]interface{}{"type": string(t), "object": o})
	if err != nil {
		panic(err)
	}
	return data
}

// Service is a resources.Service backed by a static list. Every
// WatchNamespace call returns a new Watcher driven by the test.
type Service struct {
	mu         sync.Mutex
	items      []*unstructured.Unstructured
	listErr    error
	watchErr   error
	listCalls  int
	watchCalls int
	watchers   []*Watcher
}

var _ resources.Service = &Service{}

// NewService returns a service whose list yields items.
func NewService(items ...*unstructured.Unstructured) *Service {
	return &Service{items: items}
}

// SetItems replaces the list result.
func (s *Service) SetItems(items ...*unstructured.Unstructured) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

// SetListErr makes subsequent List calls fail with err; nil clears it.
func (s *Service) SetListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// SetWatchErr makes subsequent WatchNamespace calls fail with err.
func (s *Service) SetWatchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr = err
}

func (s *Service) List(ctx context.Context, namespace string) ([]*unstructured.Unstructured, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*unstructured.Unstructured, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.DeepCopy())
	}
	return out, nil
}

func (s *Service) WatchNamespace(ctx context.Context, namespace string) (resources.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCalls++
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	w := NewWatcher()
	s.watchers = append(s.watchers, w)
	return w, nil
}

// ListCalls returns the number of List invocations.
func (s *Service) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// WatchCalls returns the number of WatchNamespace invocations.
func (s *Service) WatchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCalls
}

// Watchers returns the watchers opened so far.
func (s *Service) Watchers() []*Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Watcher(nil), s.watchers...)
}

// LastWatcher returns the most recently opened watcher, or nil.
func (s *Service) LastWatcher() *Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.watchers) == 0 {
		return nil
	}
	return s.watchers[len(s.watchers)-1]
}

// Watcher is a resources.Watcher fed by the test.
type Watcher struct {
	mu      sync.Mutex
	ch      chan resources.Message
	ended   bool
	stopped chan struct{}
	once    sync.Once
}

var _ resources.Watcher = &Watcher{}

// NewWatcher returns an open watcher with a small delivery buffer.
func NewWatcher() *Watcher {
	return &Watcher{ch: make(chan resources.Message, 64), stopped: make(chan struct{})}
}

func (w *Watcher) ResultChan() <-chan resources.Message { return w.ch }

func (w *Watcher) Stop() { w.once.Do(func() { close(w.stopped) }) }

// Stopped reports whether Stop was called.
func (w *Watcher) Stopped() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

// Send delivers a raw frame. It returns false once the watcher has been
// stopped or ended.
func (w *Watcher) Send(data []byte) bool {
	return w.deliver(resources.Message{Data: data})
}

// Emit delivers an encoded change event.
func (w *Watcher) Emit(t resources.EventType, obj *unstructured.Unstructured) bool {
	return w.Send(EventJSON(t, obj))
}

// Fail delivers a transport failure.
func (w *Watcher) Fail(err error) bool {
	return w.deliver(resources.Message{Err: err})
}

// End closes the result channel as a server disconnect would.
func (w *Watcher) End() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.ended {
		w.ended = true
		close(w.ch)
	}
}

func (w *Watcher) deliver(m resources.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended || w.Stopped() {
		return false
	}
	select {
	case w.ch <- m:
		return true
	case <-w.stopped:
		return false
	}
}
