package taskq

import (
	"time"

	"golang.org/x/time/rate"
)

type options struct {
	id                  string
	items               []any
	itemConcurrency     int
	itemID              func(any) string
	strategy            ErrorStrategy
	notCancelable       bool
	notRetryable        bool
	confirmBeforeUnload bool
	timeout             time.Duration
	onComplete          []func(Outcome)
	itemLimit           rate.Limit
	itemBurst           int
}

// Option is a function that configures task behavior during Enqueue or EnqueueItems.
type Option func(*options)

// TaskID sets a custom ID for the task. If not provided, a random UUID will be generated.
func TaskID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// Items attaches the list a full-control processor iterates via TaskContext.Items.
// Setting items turns the task into a batch task. EnqueueItems sets this itself.
func Items(items ...any) Option {
	return func(o *options) {
		o.items = items
	}
}

// ItemConcurrency bounds the number of item handlers in flight for EnqueueItems.
// Values below 1 mean 1.
func ItemConcurrency(n int) Option {
	return func(o *options) {
		o.itemConcurrency = n
	}
}

// ItemID sets the function used to identify items in SucceededItems/FailedItems
// and when resolving which items a retry resubmits.
func ItemID(fn func(item any) string) Option {
	return func(o *options) {
		o.itemID = fn
	}
}

// StopOnFailure makes a batch stop starting new items after the first failure.
// Items already in flight are allowed to finish.
func StopOnFailure() Option {
	return func(o *options) {
		o.strategy = StopOnFirstFailure
	}
}

// NotCancelable makes Cancel a no-op for the task.
func NotCancelable() Option {
	return func(o *options) {
		o.notCancelable = true
	}
}

// NotRetryable makes Retry reject the task.
func NotRetryable() Option {
	return func(o *options) {
		o.notRetryable = true
	}
}

// ConfirmBeforeUnload flags the task so HasBlockingTasks reports it while active.
func ConfirmBeforeUnload() Option {
	return func(o *options) {
		o.confirmBeforeUnload = true
	}
}

// Timeout overrides the queue timeout for this task. Non-positive values are ignored.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// OnComplete registers a callback invoked with the outcome of every run of
// the task, including runs started by Retry.
func OnComplete(fn func(Outcome)) Option {
	return func(o *options) {
		if fn != nil {
			o.onComplete = append(o.onComplete, fn)
		}
	}
}

// ItemRate throttles item starts in EnqueueItems to limit per second with the given burst.
func ItemRate(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.itemLimit = limit
		o.itemBurst = burst
	}
}
