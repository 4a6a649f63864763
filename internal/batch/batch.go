// Package batch groups record streams into bounded chunks.
package batch

import (
	"context"
	"iter"
	"time"
)

// Chunk lazily groups seq into slices of size elements. Order is preserved,
// nothing is dropped, and the last group may be shorter. A size below 1 is
// treated as 1.
//
// Each yielded slice is freshly allocated and may be retained by the caller.
func Chunk[T any](seq iter.Seq[T], size int) iter.Seq[[]T] {
	if size < 1 {
		size = 1
	}
	return func(yield func([]T) bool) {
		group := make([]T, 0, size)
		for v := range seq {
			group = append(group, v)
			if len(group) == size {
				if !yield(group) {
					return
				}
				group = make([]T, 0, size)
			}
		}
		if len(group) > 0 {
			yield(group)
		}
	}
}

// ChunkTimed groups values received from in. A group is emitted when it
// reaches size elements or when maxWait has passed since its first element,
// whichever comes first. A maxWait of zero disables the time bound.
//
// The pending group is flushed when in is closed. The returned channel is
// closed after the final flush or as soon as ctx is done.
func ChunkTimed[T any](ctx context.Context, in <-chan T, size int, maxWait time.Duration) <-chan []T {
	if size < 1 {
		size = 1
	}
	out := make(chan []T)

	go func() {
		defer close(out)

		var (
			pending []T
			timer   *time.Timer
			timeout <-chan time.Time
		)

		stopTimer := func() {
			if timer != nil {
				timer.Stop()
				timer = nil
				timeout = nil
			}
		}
		defer stopTimer()

		flush := func() bool {
			stopTimer()
			if len(pending) == 0 {
				return true
			}
			group := pending
			pending = nil
			select {
			case out <- group:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case v, ok := <-in:
				if !ok {
					flush()
					return
				}
				pending = append(pending, v)
				if len(pending) == 1 && maxWait > 0 {
					timer = time.NewTimer(maxWait)
					timeout = timer.C
				}
				if len(pending) >= size && !flush() {
					return
				}
			case <-timeout:
				timer = nil
				timeout = nil
				if !flush() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
