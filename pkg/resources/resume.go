package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/json"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sttts/kconsole/internal/lifecycle"
)

// defaultResumeBackoff paces attempts to re-open a watch the server closed.
var defaultResumeBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
	Steps:    5,
	Cap:      10 * time.Second,
}

// minStreamLifetime separates routine server timeouts from a server that
// closes every stream right away.
const minStreamLifetime = time.Second

// openFunc opens a watch stream starting after resourceVersion; an empty
// resourceVersion starts at the current state.
type openFunc func(ctx context.Context, resourceVersion string) (*streamWatcher, error)

// resumingWatcher re-opens a watch stream when the server ends it, which the
// API server does routinely after its request timeout. It resumes from the
// last resourceVersion seen. Transport failures, ERROR frames and exhausted
// retries end the watch with an error message.
type resumingWatcher struct {
	open    openFunc
	backoff wait.Backoff
	log     logr.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	result  chan Message

	mu      sync.Mutex
	current *streamWatcher

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newResumingWatcher(ctx context.Context, first *streamWatcher, open openFunc, backoff wait.Backoff, log logr.Logger) *resumingWatcher {
	ctx, cancel := context.WithCancel(ctx)
	rw := &resumingWatcher{
		open:    open,
		backoff: backoff,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		result:  make(chan Message),
		current: first,
		stopCh:  make(chan struct{}),
	}
	go rw.run(first)
	return rw
}

func (rw *resumingWatcher) ResultChan() <-chan Message { return rw.result }

func (rw *resumingWatcher) Stop() {
	rw.stopOnce.Do(func() {
		close(rw.stopCh)
		rw.cancel()
		rw.mu.Lock()
		defer rw.mu.Unlock()
		rw.current.Stop()
	})
}

func (rw *resumingWatcher) stopping() bool {
	select {
	case <-rw.stopCh:
		return true
	default:
		return false
	}
}

func (rw *resumingWatcher) run(sw *streamWatcher) {
	defer lifecycle.HandleCrash(rw.log)
	defer close(rw.result)

	var (
		resourceVersion string
		rapid           int
	)
	for {
		opened := time.Now()
		resumable, err := rw.pump(sw, &resourceVersion)
		sw.Stop()
		if err == nil || rw.stopping() {
			return
		}
		if !resumable || !errors.Is(err, ErrStreamEnded) {
			rw.forward(Message{Err: err})
			return
		}
		if time.Since(opened) < minStreamLifetime {
			rapid++
		} else {
			rapid = 0
		}
		if rapid > rw.backoff.Steps {
			rw.forward(Message{Err: fmt.Errorf("%w: closed %d times in a row right after opening", err, rapid)})
			return
		}

		rw.log.V(1).Info("Resuming watch", "resourceVersion", resourceVersion)
		if sw, err = rw.reopen(resourceVersion); err != nil {
			if !rw.stopping() {
				rw.forward(Message{Err: err})
			}
			return
		}
	}
}

// pump forwards the frames of sw. It returns a nil error when the watcher
// was stopped, otherwise the error that ended the stream and whether the
// stream may be resumed.
func (rw *resumingWatcher) pump(sw *streamWatcher, resourceVersion *string) (bool, error) {
	resumable := true
	for {
		select {
		case <-rw.stopCh:
			return false, nil
		case m, ok := <-sw.ResultChan():
			if !ok {
				return resumable, ErrStreamEnded
			}
			if m.Err != nil {
				return resumable, m.Err
			}
			typ, rv := peekFrame(m.Data)
			if typ == "ERROR" {
				// typically 410 Gone; the server closes the stream next
				resumable = false
			} else if rv != "" {
				*resourceVersion = rv
			}
			if !rw.forward(m) {
				return false, nil
			}
		}
	}
}

func (rw *resumingWatcher) reopen(resourceVersion string) (*streamWatcher, error) {
	var (
		sw      *streamWatcher
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(rw.ctx, rw.backoff, func(ctx context.Context) (bool, error) {
		var err error
		sw, err = rw.open(ctx, resourceVersion)
		if err != nil {
			lastErr = err
			rw.log.V(1).Info("Failed to resume watch", "error", err.Error())
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("resume watch: %w", lastErr)
		}
		return nil, fmt.Errorf("resume watch: %w", err)
	}

	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.stopping() {
		sw.Stop()
		return nil, context.Canceled
	}
	rw.current = sw
	return sw, nil
}

func (rw *resumingWatcher) forward(m Message) bool {
	select {
	case <-rw.stopCh:
		return false
	case rw.result <- m:
		return true
	}
}

// peekFrame extracts the event type and object resourceVersion of a frame.
// Frames that do not decode yield empty strings and are left to the consumer.
func peekFrame(data []byte) (string, string) {
	var frame struct {
		Type   string `json:"type"`
		Object struct {
			Metadata struct {
				ResourceVersion string `json:"resourceVersion"`
			} `json:"metadata"`
		} `json:"object"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", ""
	}
	return frame.Type, frame.Object.Metadata.ResourceVersion
}
