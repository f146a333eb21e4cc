package async

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/paywall/pkg/observability"
)

// SafeGo runs fn in a goroutine with a timeout, panic recovery, and
// error logging. Use it instead of a bare `go func()` for fire-and-
// forget work.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch processes items concurrently with a bounded number of workers
// and returns all errors encountered. A worker panic is converted into
// an error for its item rather than crashing the process.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}
	if len(items) == 0 {
		return nil
	}

	work := make(chan T)
	errCh := make(chan error, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				runOne(ctx, timeout, item, fn, errCh)
			}
		}()
	}

	for _, item := range items {
		work <- item
	}
	close(work)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func runOne[T any](parentCtx context.Context, timeout time.Duration, item T, fn func(context.Context, T) error, errCh chan<- error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	defer func() {
		if err := observability.MustRecover(recover()); err != nil {
			errCh <- err
		}
	}()

	if err := fn(ctx, item); err != nil {
		errCh <- err
	}
}
