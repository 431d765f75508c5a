// Package batch runs keyed units of work with bounded concurrency and
// collects a result or an error per key.
package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one keyed unit of work.
type Outcome[V any] struct {
	Value V
	Err   error
}

// Run calls fn once per key with at most limit calls in flight. A failing key
// does not cancel the others. Keys are processed in order of submission but
// may complete in any order. limit <= 0 means unbounded.
func Run[K comparable, V any](ctx context.Context, keys []K, limit int, fn func(ctx context.Context, key K) (V, error)) map[K]Outcome[V] {
	out := make(map[K]Outcome[V], len(keys))
	if len(keys) == 0 {
		return out
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			mu.Lock()
			out[key] = Outcome[V]{Err: ctx.Err()}
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			v, err := fn(ctx, key)
			mu.Lock()
			out[key] = Outcome[V]{Value: v, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
