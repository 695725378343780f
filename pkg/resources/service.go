package resources

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Key identifies one live collection: a kind within a namespace.
type Key struct {
	Namespace string
	Kind      Kind
}

func (k Key) String() string { return k.Namespace + "/" + string(k.Kind) }

// Message is one raw frame of a watch stream, or an out-of-band transport
// failure when Err is set.
type Message struct {
	Data []byte
	Err  error
}

// Watcher is an open watch connection for one namespace and kind.
type Watcher interface {
	// ResultChan delivers raw messages in the order received. The channel is
	// closed when the stream ends.
	ResultChan() <-chan Message
	// Stop releases the connection. It must be safe to call more than once.
	Stop()
}

// Service lists and watches one resource kind.
type Service interface {
	// List returns the current objects in namespace.
	List(ctx context.Context, namespace string) ([]*unstructured.Unstructured, error)
	// WatchNamespace opens a change stream for namespace. The stream lives
	// until ctx is cancelled or the watcher is stopped.
	WatchNamespace(ctx context.Context, namespace string) (Watcher, error)
}
