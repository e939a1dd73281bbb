package taskq

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Processor performs the work of a task. ctx is cancelled when the task is
// cancelled, times out or the queue closes. Returning an error records a
// failure; a panic is recovered and recorded the same way.
type Processor func(ctx context.Context, tc *TaskContext) error

// ItemFunc handles one item of a task enqueued with EnqueueItems.
// Unless the handler calls ic.Succeed or ic.Fail itself, a nil error marks
// the item succeeded and a non-nil error marks it failed with err.Error().
type ItemFunc[T any] func(ctx context.Context, ic *ItemContext, item T) error

type itemHandler func(ctx context.Context, ic *ItemContext, item any) error

// runProcessor invokes p and converts a panic into an error.
func runProcessor(ctx context.Context, p Processor, tc *TaskContext, log Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("processor panicked: id=%s panic=%v\n%s", tc.TaskID(), r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p(ctx, tc)
}

// itemProcessor turns a per-item handler into a Processor. Items start in
// order with at most conc handlers in flight; no item starts once the
// context reports Cancelled.
func itemProcessor(fn itemHandler, conc int, idOf func(any) string, limiter *rate.Limiter, log Logger) Processor {
	if conc < 1 {
		conc = 1
	}
	return func(ctx context.Context, tc *TaskContext) error {
		g := new(errgroup.Group)
		g.SetLimit(conc)
		for _, item := range tc.Items() {
			if tc.Cancelled() {
				break
			}
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					break
				}
			}
			g.Go(func() error {
				if tc.Cancelled() {
					return nil
				}
				ic := &ItemContext{TaskContext: tc, id: idOf(item), item: item}
				err := runItem(ctx, fn, ic, item, log)
				if ic.reported.Load() {
					return nil
				}
				switch {
				case err == nil:
					ic.Succeed()
				case tc.cancelled.Load() && isContextErr(err):
					// interrupted by cancellation; the item stays unprocessed
				default:
					ic.Fail(err.Error())
				}
				return nil
			})
		}
		return g.Wait()
	}
}

func runItem(ctx context.Context, fn itemHandler, ic *ItemContext, item any, log Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("item handler panicked: id=%s item=%s panic=%v\n%s", ic.TaskID(), ic.id, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, ic, item)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
