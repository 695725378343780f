// Package session is the entry point for consumers: one Session owns the
// cache, the live collections and the composite views of one consuming unit
// and releases them all on Close.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/sttts/kconsole/internal/lifecycle"
	"github.com/sttts/kconsole/internal/metrics"
	"github.com/sttts/kconsole/internal/views"
	"github.com/sttts/kconsole/internal/watchcache"
	"github.com/sttts/kconsole/pkg/resources"
)

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("session closed")

// Session owns the subscriptions of one consumer.
type Session struct {
	cache   *watchcache.Cache
	tracker *lifecycle.Tracker
	log     logr.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// Option configures a Session.
type Option func(*options)

type options struct {
	log     logr.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the session logger.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the metrics sink passed to the cache.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a session over one service per kind.
func New(services map[resources.Kind]resources.Service, opts ...Option) (*Session, error) {
	o := &options{log: ctrl.Log.WithName("session")}
	for _, fn := range opts {
		fn(o)
	}
	tracker := lifecycle.NewTracker(o.log)
	cache, err := watchcache.NewCache(services,
		watchcache.WithLogger(o.log.WithName("watchcache")),
		watchcache.WithMetrics(o.metrics),
		watchcache.WithTracker(tracker),
	)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cache:   cache,
		tracker: tracker,
		log:     o.log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// scope returns a context that ends with ctx or with the session.
func (s *Session) scope(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.isClosed() {
		return nil, nil, ErrClosed
	}
	scoped, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	context.AfterFunc(scoped, func() { stop() })
	return scoped, cancel, nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// settle releases whatever a request opened while Close was running.
func settle[T any](s *Session, v T, err error) (T, error) {
	if err == nil && s.isClosed() {
		if cerr := s.cache.CloseAll(); cerr != nil {
			s.log.Error(cerr, "Failed to close some watches")
		}
		var zero T
		return zero, ErrClosed
	}
	return v, err
}

// LiveCollection returns the live collection of kind in namespace.
func (s *Session) LiveCollection(ctx context.Context, namespace string, kind resources.Kind) (*watchcache.Observable[resources.List], error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	obs, err := s.cache.LiveCollection(ctx, resources.Key{Namespace: namespace, Kind: kind})
	return settle(s, obs, err)
}

// Services returns the services of namespace joined with their routes. The
// view is updated until ctx is done or the session is closed.
func (s *Session) Services(ctx context.Context, namespace string) (*watchcache.Observable[[]views.ServiceView], error) {
	return compose(ctx, s, namespace, views.Services)
}

// Deployments returns the deployment view of namespace.
func (s *Session) Deployments(ctx context.Context, namespace string) (*watchcache.Observable[[]views.DeploymentView], error) {
	return compose(ctx, s, namespace, views.Deployments)
}

// ReplicaSets returns the replica set view of namespace.
func (s *Session) ReplicaSets(ctx context.Context, namespace string) (*watchcache.Observable[[]views.ReplicaSetView], error) {
	return compose(ctx, s, namespace, views.ReplicaSets)
}

func compose[T any](
	ctx context.Context, s *Session, namespace string,
	build func(context.Context, views.Source, string) (*watchcache.Observable[T], error),
) (*watchcache.Observable[T], error) {
	scoped, cancel, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}
	obs, err := build(scoped, s.cache, namespace)
	if err != nil {
		cancel()
		return nil, err
	}
	return settle(s, obs, nil)
}

// OpenWatches returns the number of watches currently held.
func (s *Session) OpenWatches() int {
	return s.tracker.Len()
}

// Close ends every view and closes every watch of the session. Failures are
// logged. Calling Close again is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	if err := s.cache.CloseAll(); err != nil {
		s.log.Error(err, "Failed to close some watches")
	}
}
