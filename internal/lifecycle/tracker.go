// Package lifecycle keeps track of open resources so they can be released
// together.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Closer is anything that can be released.
type Closer interface {
	Close() error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

type entry struct {
	name   string
	closer Closer
}

// Tracker records closers in registration order.
type Tracker struct {
	log logr.Logger

	mu      sync.Mutex
	entries []entry
}

// NewTracker returns an empty tracker.
func NewTracker(log logr.Logger) *Tracker {
	return &Tracker{log: log}
}

// Track registers c under name. Nil closers are ignored.
func (t *Tracker) Track(name string, c Closer) {
	if c == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{name: name, closer: c})
}

// Len returns the number of tracked closers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// CloseAll closes every tracked closer and forgets them. A failing or
// panicking closer does not prevent the others from being closed; their
// errors are returned as an aggregate.
func (t *Tracker) CloseAll() error {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := closeOne(e); err != nil {
			t.log.Error(err, "Failed to close", "name", e.name)
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func closeOne(e entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close %s: panic: %v", e.name, r)
		}
	}()
	if err := e.closer.Close(); err != nil {
		return fmt.Errorf("close %s: %w", e.name, err)
	}
	return nil
}
