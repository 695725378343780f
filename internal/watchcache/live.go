package watchcache

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"github.com/sttts/kconsole/internal/lifecycle"
	"github.com/sttts/kconsole/internal/metrics"
	"github.com/sttts/kconsole/pkg/resources"
)

// live is the fold state of one live collection. The fold goroutine is the
// only writer of the list and the only reader of the watch handle.
type live struct {
	key    resources.Key
	handle *WatchHandle
	obs    *Observable[resources.List]

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (l *live) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// LiveCollection returns the live collection for key. The first call opens
// the watch, fetches the list, publishes it and starts folding watch events
// into it; later calls return the same observable. Failures to open the
// watch or fetch the list are returned and nothing is memoized.
//
// The observable keeps its last value when the watch fails and is closed
// by CloseAll.
func (c *Cache) LiveCollection(ctx context.Context, key resources.Key) (*Observable[resources.List], error) {
	if _, err := c.service(key.Kind); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if l, ok := c.lives[key]; ok {
		c.mu.Unlock()
		return l.obs, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err := c.do(ctx, flightKey("live", gen, key), func() (interface{}, error) {
		c.mu.Lock()
		if l, ok := c.lives[key]; ok {
			c.mu.Unlock()
			return l.obs, nil
		}
		c.mu.Unlock()

		// The watch is opened before listing; events overlapping the
		// snapshot fold idempotently.
		fctx := context.WithoutCancel(ctx)
		h, err := c.Watch(fctx, key)
		if err != nil {
			return nil, err
		}
		items, err := c.List(fctx, key)
		if err != nil {
			return nil, err
		}

		l := &live{
			key:    key,
			handle: h,
			obs:    NewObservable[resources.List](),
			stopCh: make(chan struct{}),
			done:   make(chan struct{}),
		}
		list := FromObjects(key.Kind, items)
		l.obs.Publish(list)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			l.obs.Close()
			return nil, ErrClosed
		}
		c.lives[key] = l
		go c.fold(l, list)
		return l.obs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Observable[resources.List]), nil
}

func (c *Cache) fold(l *live, list resources.List) {
	kind := string(l.key.Kind)
	log := c.log.WithValues("namespace", l.key.Namespace, "kind", l.key.Kind)

	defer lifecycle.HandleCrash(log)
	defer close(l.done)
	defer l.obs.Close()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.handle.Closed():
			return
		case msg, ok := <-l.handle.Events():
			if !ok {
				msg.Err = resources.ErrStreamEnded
			}
			if msg.Err != nil {
				if l.handle.State() == StateClosed {
					return
				}
				l.handle.markErrored()
				log.V(1).Info("Watch failed, keeping last list", "error", msg.Err.Error())
				// a failed stream counts as a null event
				l.obs.Publish(list)
				select {
				case <-l.stopCh:
				case <-l.handle.Closed():
				}
				return
			}
			list = c.applyMessage(log, kind, list, msg.Data, l.obs)
		}
	}
}

// applyMessage folds one frame into list. A panic while doing so drops the
// frame and keeps list.
func (c *Cache) applyMessage(log logr.Logger, kind string, list resources.List, data []byte, obs *Observable[resources.List]) (next resources.List) {
	next = list
	defer lifecycle.HandleCrash(log, "frame", string(data))
	return c.foldMessage(log, kind, list, data, obs)
}

func (c *Cache) foldMessage(log logr.Logger, kind string, list resources.List, data []byte, obs *Observable[resources.List]) resources.List {
	ev, err := resources.ParseEvent(data)
	switch {
	case errors.Is(err, resources.ErrIncompleteEvent):
		c.metrics.Dropped(kind, metrics.ReasonIncomplete)
		return list
	case err != nil:
		log.Info("Dropping malformed watch event", "error", err.Error())
		c.metrics.Dropped(kind, metrics.ReasonMalformed)
		return list
	}
	c.metrics.Event(kind, string(ev.Type))

	next, outcome := Apply(resources.Kind(kind), list, ev)
	switch outcome {
	case Unknown:
		log.Info("Unknown watch event type", "type", string(ev.Type))
		c.metrics.Dropped(kind, metrics.ReasonUnknownType)
	case Unchanged:
		log.V(3).Info("Ignored watch event", "type", string(ev.Type), "name", resources.NameOf(ev.Object.Object))
	default:
		log.V(4).Info("Applied watch event", "type", string(ev.Type), "outcome", outcome.String(), "len", len(next))
		obs.Publish(next)
	}
	return next
}
