package concurrent

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelMap applies mapFn to each element of in on at most workers
// goroutines, preserving order. workers <= 0 means GOMAXPROCS.
// It waits for every call and returns the first error encountered.
func ParallelMap[T any, R any](in []T, workers int, mapFn func(T) (R, error)) ([]R, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]R, len(in))
	var g errgroup.Group
	g.SetLimit(workers)
	for idx, val := range in {
		g.Go(func() error {
			r, err := mapFn(val)
			out[idx] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Concurrent runs action for each element of in in its own goroutine and
// returns the first error encountered.
func Concurrent[T any](in []T, action func(T) error) error {
	var g errgroup.Group
	for _, val := range in {
		g.Go(func() error {
			return action(val)
		})
	}
	return g.Wait()
}
