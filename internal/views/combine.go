// Package views joins live collections into composite, continuously updated
// view models.
package views

import (
	"context"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/sttts/kconsole/internal/lifecycle"
	"github.com/sttts/kconsole/internal/watchcache"
)

// Stream is a multi-subscriber source of values.
type Stream[T any] interface {
	Subscribe(ctx context.Context) <-chan T
}

// CombineLatest2 emits fn(a, b) each time either input emits, once both
// have emitted at least once, using the latest value of the other input.
// The result is closed when both inputs are closed or ctx is done.
func CombineLatest2[A, B, R any](ctx context.Context, a Stream[A], b Stream[B], fn func(A, B) R) *watchcache.Observable[R] {
	out := watchcache.NewObservable[R]()
	ctx, cancel := context.WithCancel(ctx)
	ca, cb := a.Subscribe(ctx), b.Subscribe(ctx)

	go func() {
		defer lifecycle.HandleCrash(ctrl.Log.WithName("views"))
		defer out.Close()
		defer cancel()

		var (
			va         A
			vb         B
			hasA, hasB bool
		)
		for ca != nil || cb != nil {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ca:
				if !ok {
					ca = nil
					continue
				}
				va, hasA = v, true
			case v, ok := <-cb:
				if !ok {
					cb = nil
					continue
				}
				vb, hasB = v, true
			}
			if hasA && hasB {
				out.Publish(fn(va, vb))
			}
		}
	}()
	return out
}

// Just returns a closed stream holding v.
func Just[T any](v T) *watchcache.Observable[T] {
	o := watchcache.NewObservable[T]()
	o.Publish(v)
	o.Close()
	return o
}
