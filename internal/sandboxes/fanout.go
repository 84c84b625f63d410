package sandboxes

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// mapConcurrent applies fn to every item with at most workers calls in
// flight. Workers pull the next index from a shared cursor, and results keep
// the input order. fn must handle its own failures.
func mapConcurrent[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}

	// Workers never fail; the group only waits for them. The cursor, not
	// the group, bounds concurrency.
	var (
		cursor atomic.Int64
		g      errgroup.Group
	)
	for n := min(workers, len(items)); n > 0; n-- {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				results[i] = fn(ctx, items[i])
			}
		})
	}
	g.Wait()
	return results
}
