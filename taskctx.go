package taskq

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// TaskContext is handed to a Processor. It exposes the run's items and
// cancellation state, and the mutators that report progress. Every mutation
// is published to the queue immediately, so subscribers see progress while
// the processor is still running.
//
// All methods are safe for concurrent use.
type TaskContext struct {
	mu        sync.Mutex
	task      *Task
	items     []any
	cleanups  []func()
	cleanedUp bool
	finalized bool
	push      func(*Task)
	log       Logger

	cancelled atomic.Bool
	stopped   atomic.Bool
}

func newTaskContext(t *Task, items []any, push func(*Task), log Logger) *TaskContext {
	if push == nil {
		push = func(*Task) {}
	}
	if log == nil {
		log = noopLogger{}
	}
	return &TaskContext{task: t, items: items, push: push, log: log}
}

// TaskID returns the id of the task being processed.
func (tc *TaskContext) TaskID() string {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.task.ID
}

// Items returns the items of this run. After a retry it holds only the items
// being resubmitted.
func (tc *TaskContext) Items() []any {
	return append([]any(nil), tc.items...)
}

// Cancelled reports whether the processor should stop: the task was
// cancelled or timed out, or a failure was recorded under StopOnFailure.
// Processors should check it between steps.
func (tc *TaskContext) Cancelled() bool {
	return tc.cancelled.Load() || tc.stopped.Load()
}

// FailedItems returns the failures recorded so far.
func (tc *TaskContext) FailedItems() []FailedItem {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]FailedItem(nil), tc.task.FailedItems...)
}

// Progress returns the current counters.
func (tc *TaskContext) Progress() (completed, failed, total int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.task.Completed, tc.task.Failed, tc.task.Total
}

// Succeed counts one successful unit. A non-empty itemID is added to SucceededItems.
func (tc *TaskContext) Succeed(itemID string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.task.Completed++
	if itemID != "" {
		tc.task.SucceededItems = append(tc.task.SucceededItems, itemID)
	}
	tc.push(tc.task.Clone())
}

// Fail counts one failed unit. A failure entry is recorded when either
// itemID or message is set.
func (tc *TaskContext) Fail(itemID, message string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.task.Failed++
	if itemID != "" || message != "" {
		tc.task.FailedItems = append(tc.task.FailedItems, FailedItem{ID: itemID, Message: message})
	}
	if tc.task.ErrorStrategy == StopOnFirstFailure {
		tc.stopped.Store(true)
	}
	tc.push(tc.task.Clone())
}

// SetTitle replaces the task title.
func (tc *TaskContext) SetTitle(title string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.task.Title = title
	tc.push(tc.task.Clone())
}

// SetResult encodes v as the task result. Last call wins.
func (tc *TaskContext) SetResult(v any) error {
	b, err := defaultEncoder.Encode(v)
	if err != nil {
		return err
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.task.Result = json.RawMessage(b)
	tc.push(tc.task.Clone())
	return nil
}

// OnCancel registers fn to run when the task is cancelled or times out.
// Callbacks run once, synchronously, at the moment cancellation is requested;
// if that already happened fn runs immediately.
func (tc *TaskContext) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	if tc.cleanedUp {
		tc.mu.Unlock()
		tc.runCleanup(fn)
		return
	}
	tc.cleanups = append(tc.cleanups, fn)
	tc.mu.Unlock()
}

// requestCancel flips the cancellation flag and runs the cleanups.
// It returns false when cancellation was already requested or the run has
// already been finalized.
func (tc *TaskContext) requestCancel() bool {
	tc.mu.Lock()
	if tc.finalized || tc.cancelled.Swap(true) {
		tc.mu.Unlock()
		return false
	}
	fns := tc.cleanups
	tc.cleanups = nil
	tc.cleanedUp = true
	tc.mu.Unlock()
	for _, fn := range fns {
		tc.runCleanup(fn)
	}
	return true
}

func (tc *TaskContext) runCleanup(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			tc.log.Errorf("cancel cleanup panicked: id=%s panic=%v\n%s", tc.TaskID(), r, debug.Stack())
		}
	}()
	fn()
}

// finalize records a processor error, classifies the run and returns the terminal snapshot.
func (tc *TaskContext) finalize(procErr error) *Task {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.finalized = true
	errored := procErr != nil && !(tc.cancelled.Load() && isContextErr(procErr))
	if errored {
		recordFailure(tc.task, procErr.Error())
	}
	switch {
	case tc.cancelled.Load():
		tc.task.Status = StatusCancelled
	case errored || tc.stopped.Load() || tc.task.Failed > 0:
		tc.task.Status = StatusFailed
	default:
		tc.task.Status = StatusCompleted
	}
	tc.task.CompletedAt = time.Now().UnixMilli()
	return tc.task.Clone()
}

// recordFailure appends a failure entry not tied to an item. The counter is
// only bumped while it keeps Completed+Failed within Total.
func recordFailure(t *Task, message string) {
	t.FailedItems = append(t.FailedItems, FailedItem{Message: message})
	if t.Total == 0 || t.Completed+t.Failed < t.Total {
		t.Failed++
	}
}

// ItemContext is the TaskContext view handed to an ItemFunc. Succeed and Fail
// are bound to the current item and count at most once; when the handler
// reports neither, the returned error decides the item's outcome.
type ItemContext struct {
	*TaskContext

	id       string
	item     any
	reported atomic.Bool
}

// ItemID returns the identity of the current item.
func (ic *ItemContext) ItemID() string { return ic.id }

// Item returns the current item.
func (ic *ItemContext) Item() any { return ic.item }

// Succeed marks the current item as succeeded.
func (ic *ItemContext) Succeed() {
	if ic.reported.Swap(true) {
		return
	}
	ic.TaskContext.Succeed(ic.id)
}

// Fail marks the current item as failed with message.
func (ic *ItemContext) Fail(message string) {
	if ic.reported.Swap(true) {
		return
	}
	ic.TaskContext.Fail(ic.id, message)
}

type taskCtxKey struct{}

func withTaskContext(parent context.Context, tc *TaskContext) context.Context {
	return context.WithValue(parent, taskCtxKey{}, tc)
}

// FromContext extracts the TaskContext of the running task from ctx.
func FromContext(ctx context.Context) (*TaskContext, bool) {
	v := ctx.Value(taskCtxKey{})
	if v == nil {
		return nil, false
	}
	tc, ok := v.(*TaskContext)
	return tc, ok && tc != nil
}

// SetTitle updates the title of the task running under ctx.
// It is a no-op if ctx does not belong to a task run.
func SetTitle(ctx context.Context, title string) {
	if tc, ok := FromContext(ctx); ok {
		tc.SetTitle(title)
	}
}

// SetResult attaches v as the result of the task running under ctx.
// It is a no-op if ctx does not belong to a task run.
func SetResult(ctx context.Context, v any) error {
	tc, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return tc.SetResult(v)
}
