package taskq

import (
	"context"
	"time"
)

// Middleware wraps a Processor to provide cross-cutting concerns.
type Middleware func(Processor) Processor

// chain applies mws so that the first one is the outermost.
func chain(p Processor, mws []Middleware) Processor {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			p = mws[i](p)
		}
	}
	return p
}

// LogRuns logs the start and end of every run at debug level.
func LogRuns(l Logger) Middleware {
	return func(next Processor) Processor {
		return func(ctx context.Context, tc *TaskContext) error {
			start := time.Now()
			l.Debugf("run start: id=%s items=%d", tc.TaskID(), len(tc.items))
			err := next(ctx, tc)
			completed, failed, total := tc.Progress()
			l.Debugf("run end: id=%s completed=%d failed=%d total=%d took=%s err=%v",
				tc.TaskID(), completed, failed, total, time.Since(start), err)
			return err
		}
	}
}
