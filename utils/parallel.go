package utils

import (
	"context"
	"image"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachPixel calls f for every [x, y] position of an image of the given size.
// Rows are split into ParallelFactor horizontal bands, each handled by its own goroutine.
// f must only write state owned by its pixel.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	if size.X <= 0 || size.Y <= 0 {
		return
	}
	bands := ParallelFactor
	if bands > size.Y {
		bands = size.Y
	}
	rowsPerBand := size.Y / bands

	var waitGroup sync.WaitGroup
	waitGroup.Add(bands)
	for band := 0; band < bands; band++ {
		startY := band * rowsPerBand
		endY := startY + rowsPerBand
		if band == bands-1 {
			endY = size.Y
		}
		utils.PanicCapturingGo(func() {
			defer waitGroup.Done()
			for y := startY; y < endY; y++ {
				for x := 0; x < size.X; x++ {
					f(x, y)
				}
			}
		})
	}
	waitGroup.Wait()
}

// IndexedFunc is one unit of work for RunOrdered.
type IndexedFunc func(ctx context.Context, index int) error

// RunOrdered calls work for every index in [0, count) on at most workers goroutines
// (ParallelFactor when workers <= 0). The first error cancels the context handed to the
// remaining work and is returned. A panicking worker is reported as an error.
func RunOrdered(ctx context.Context, count, workers int, work IndexedFunc) error {
	if workers <= 0 {
		workers = ParallelFactor
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for index := 0; index < count; index++ {
		if groupCtx.Err() != nil {
			break
		}
		index := index
		group.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = errors.Errorf("got panic processing item %d: %v", index, thePanic)
				}
			}()
			return work(groupCtx, index)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// MapOrdered is RunOrdered collecting one result per index. results[i] always belongs to
// index i regardless of completion order.
func MapOrdered[T any](
	ctx context.Context,
	count, workers int,
	work func(ctx context.Context, index int) (T, error),
) ([]T, error) {
	results := make([]T, count)
	err := RunOrdered(ctx, count, workers, func(ctx context.Context, index int) error {
		res, err := work(ctx, index)
		if err != nil {
			return err
		}
		results[index] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
