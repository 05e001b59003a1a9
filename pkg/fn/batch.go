package fn

import (
	"context"
	"time"
)

// Paced runs f over consecutive chunks of size n and waits delay between
// chunks. It returns ctx.Err() if the context ends between chunks; a chunk
// that has started always finishes.
func Paced[T any](ctx context.Context, items []T, n int, delay time.Duration, f func(ctx context.Context, index int, chunk []T)) error {
	chunks := Chunk(items, n)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		f(ctx, i, c)
		if i == len(chunks)-1 || delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
