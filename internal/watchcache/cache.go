// Package watchcache maintains live resource collections per namespace and
// kind by merging a list snapshot with a watch stream. Lists, watches and
// live collections are shared per key until CloseAll tears them down.
package watchcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/sttts/kconsole/internal/lifecycle"
	"github.com/sttts/kconsole/internal/metrics"
	"github.com/sttts/kconsole/pkg/resources"
)

// ErrClosed is returned by requests that raced with CloseAll.
var ErrClosed = errors.New("watch cache closed")

// Cache is the per-consumer collection cache.
type Cache struct {
	services map[resources.Kind]resources.Service
	log      logr.Logger
	metrics  *metrics.Metrics
	tracker  *lifecycle.Tracker

	flights singleflight.Group

	mu      sync.Mutex
	gen     uint64
	lists   map[resources.Key][]*unstructured.Unstructured
	watches map[resources.Key]*WatchHandle
	lives   map[resources.Key]*live
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	log     logr.Logger
	metrics *metrics.Metrics
	tracker *lifecycle.Tracker
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracker registers opened watches with t instead of a private tracker.
func WithTracker(t *lifecycle.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// NewCache creates a cache over one service per kind.
func NewCache(services map[resources.Kind]resources.Service, opts ...Option) (*Cache, error) {
	o := &options{log: ctrl.Log.WithName("watchcache")}
	for _, fn := range opts {
		fn(o)
	}
	for kind, svc := range services {
		if !kind.Known() {
			return nil, fmt.Errorf("%w: %q", resources.ErrUnknownKind, kind)
		}
		if svc == nil {
			return nil, fmt.Errorf("service for %s must not be nil", kind)
		}
	}
	if o.tracker == nil {
		o.tracker = lifecycle.NewTracker(o.log)
	}
	svcs := make(map[resources.Kind]resources.Service, len(services))
	for k, v := range services {
		svcs[k] = v
	}
	return &Cache{
		services: svcs,
		log:      o.log,
		metrics:  o.metrics,
		tracker:  o.tracker,
		lists:    make(map[resources.Key][]*unstructured.Unstructured),
		watches:  make(map[resources.Key]*WatchHandle),
		lives:    make(map[resources.Key]*live),
	}, nil
}

func (c *Cache) service(kind resources.Kind) (resources.Service, error) {
	svc, ok := c.services[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", resources.ErrUnknownKind, kind)
	}
	return svc, nil
}

// List returns the list snapshot for key. The service is asked at most once
// per key; concurrent first callers share the call. A failed call is not
// cached.
func (c *Cache) List(ctx context.Context, key resources.Key) ([]*unstructured.Unstructured, error) {
	svc, err := c.service(key.Kind)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if items, ok := c.lists[key]; ok {
		c.mu.Unlock()
		return items, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err := c.do(ctx, flightKey("list", gen, key), func() (interface{}, error) {
		c.mu.Lock()
		if items, ok := c.lists[key]; ok {
			c.mu.Unlock()
			return items, nil
		}
		c.mu.Unlock()

		items, err := svc.List(context.WithoutCancel(ctx), key.Namespace)
		c.metrics.ListRequest(string(key.Kind), err)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", key, err)
		}
		c.log.V(2).Info("Listed", "namespace", key.Namespace, "kind", key.Kind, "count", len(items))

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return nil, ErrClosed
		}
		c.lists[key] = items
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*unstructured.Unstructured), nil
}

// Watch returns the shared watch handle for key, opening it on first use.
// The connection outlives ctx; it is released by CloseAll.
func (c *Cache) Watch(ctx context.Context, key resources.Key) (*WatchHandle, error) {
	svc, err := c.service(key.Kind)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if h, ok := c.watches[key]; ok {
		c.mu.Unlock()
		return h, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err := c.do(ctx, flightKey("watch", gen, key), func() (interface{}, error) {
		c.mu.Lock()
		if h, ok := c.watches[key]; ok {
			c.mu.Unlock()
			return h, nil
		}
		c.mu.Unlock()

		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w, err := svc.WatchNamespace(wctx, key.Namespace)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("watch %s: %w", key, err)
		}
		h := newWatchHandle(key, w, cancel, c.metrics)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			h.Close()
			return nil, ErrClosed
		}
		c.watches[key] = h
		c.tracker.Track("watch "+key.String(), h)
		c.log.V(1).Info("Opened watch", "namespace", key.Namespace, "kind", key.Kind)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*WatchHandle), nil
}

// Len returns the number of open watches.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watches)
}

// CloseAll drops every cached entry, ends every live collection and closes
// every watch opened through the cache. Close failures are returned for
// information; all handles are attempted. The cache stays usable and later
// requests open fresh connections.
func (c *Cache) CloseAll() error {
	c.mu.Lock()
	c.gen++
	lives := c.lives
	c.lists = make(map[resources.Key][]*unstructured.Unstructured)
	c.watches = make(map[resources.Key]*WatchHandle)
	c.lives = make(map[resources.Key]*live)
	c.mu.Unlock()

	for _, l := range lives {
		l.stop()
	}
	err := c.tracker.CloseAll()
	for _, l := range lives {
		<-l.done
	}
	return err
}

func (c *Cache) do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	ch := c.flights.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func flightKey(op string, gen uint64, key resources.Key) string {
	return fmt.Sprintf("%s/%d/%s", op, gen, key)
}
