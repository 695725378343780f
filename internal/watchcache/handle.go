package watchcache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sttts/kconsole/internal/metrics"
	"github.com/sttts/kconsole/pkg/resources"
)

// State is the lifecycle state of a watch handle.
type State int32

const (
	// StateOpen means events are being delivered.
	StateOpen State = iota
	// StateErrored means the stream failed. No more events arrive, but the
	// live collection built on it keeps its last value.
	StateErrored
	// StateClosed means the handle was released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateErrored:
		return "Errored"
	case StateClosed:
		return "Closed"
	}
	return "Unknown"
}

// WatchHandle is a shared, open watch for one key.
type WatchHandle struct {
	key     resources.Key
	watcher resources.Watcher
	cancel  context.CancelFunc
	metrics *metrics.Metrics

	state     atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func newWatchHandle(key resources.Key, w resources.Watcher, cancel context.CancelFunc, m *metrics.Metrics) *WatchHandle {
	m.WatchOpened(string(key.Kind))
	return &WatchHandle{
		key:     key,
		watcher: w,
		cancel:  cancel,
		metrics: m,
		closed:  make(chan struct{}),
	}
}

// Key returns the namespace and kind watched.
func (h *WatchHandle) Key() resources.Key { return h.key }

// State returns the current state.
func (h *WatchHandle) State() State { return State(h.state.Load()) }

// Events returns the raw message stream. The live collection of the key is
// its only reader.
func (h *WatchHandle) Events() <-chan resources.Message { return h.watcher.ResultChan() }

// Closed is closed once Close has been called.
func (h *WatchHandle) Closed() <-chan struct{} { return h.closed }

// Close stops the watch. Further calls are no-ops.
func (h *WatchHandle) Close() error {
	h.closeOnce.Do(func() {
		h.state.Store(int32(StateClosed))
		close(h.closed)
		h.watcher.Stop()
		h.cancel()
		h.metrics.WatchClosed(string(h.key.Kind))
	})
	return nil
}

// markErrored moves an open handle to StateErrored.
func (h *WatchHandle) markErrored() bool {
	return h.state.CompareAndSwap(int32(StateOpen), int32(StateErrored))
}
