package taskq

import (
	"context"
	"encoding/json"
	"sync"
)

// FailedItem records one failure reported during a run.
// ID is empty for failures not tied to a specific item (processor errors, timeouts).
type FailedItem struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Task represents a unit of work tracked by the queue.
// It is serialized to JSON by the file and Redis storage backends; the
// processor that performs the work is held separately, in memory only.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`
	// Title is a human readable label; processors may update it while running.
	Title string `json:"title"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Items is the opaque list processed by a batch task. Empty for single-process tasks.
	Items []any `json:"items,omitempty"`
	// Total is len(Items) for batch tasks and zero otherwise.
	Total int `json:"total,omitempty"`
	// Completed is the number of successful units reported so far.
	Completed int `json:"completed"`
	// Failed is the number of failed units reported so far.
	Failed int `json:"failed"`
	// SucceededItems lists the ids of items reported as succeeded.
	SucceededItems []string `json:"succeeded_items,omitempty"`
	// FailedItems lists failure entries reported during the run.
	FailedItems []FailedItem `json:"failed_items,omitempty"`
	// ErrorStrategy decides whether a batch keeps going after a failure.
	ErrorStrategy ErrorStrategy `json:"error_strategy"`
	// Cancelable allows Cancel to interrupt the task.
	Cancelable bool `json:"cancelable"`
	// Retryable allows Retry once the task failed or was cancelled.
	Retryable bool `json:"retryable"`
	// ConfirmBeforeUnload asks front-ends to confirm before shutting down while the task is active.
	ConfirmBeforeUnload bool `json:"confirm_before_unload,omitempty"`
	// Result is the processor-provided result stored as JSON.
	Result json.RawMessage `json:"result,omitempty"`
	// RetryCount is the number of times the task was retried.
	RetryCount int `json:"retry_count"`
	// TimeoutMs is the maximum execution time of one run in milliseconds.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`
	// CreatedAt is the timestamp (ms) when the task was enqueued.
	CreatedAt int64 `json:"created_at,omitempty"`
	// StartedAt is the timestamp (ms) when the current run started.
	StartedAt int64 `json:"started_at,omitempty"`
	// CompletedAt is the timestamp (ms) when the current run reached a terminal status.
	CompletedAt int64 `json:"completed_at,omitempty"`
}

// IsBatch reports whether the task processes a list of items.
func (t *Task) IsBatch() bool { return len(t.Items) > 0 }

// Clone returns a copy that shares no slices with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Items != nil {
		cp.Items = append([]any(nil), t.Items...)
	}
	if t.SucceededItems != nil {
		cp.SucceededItems = append([]string(nil), t.SucceededItems...)
	}
	if t.FailedItems != nil {
		cp.FailedItems = append([]FailedItem(nil), t.FailedItems...)
	}
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &cp
}

// outcome builds the terminal snapshot handed back to the enqueuer.
func (t *Task) outcome() Outcome {
	c := t.Clone()
	return Outcome{
		ID:          c.ID,
		Status:      c.Status,
		Completed:   c.Completed,
		Failed:      c.Failed,
		FailedItems: c.FailedItems,
		Result:      c.Result,
	}
}

// Outcome is the terminal snapshot of one task run.
type Outcome struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Completed   int             `json:"completed"`
	Failed      int             `json:"failed"`
	FailedItems []FailedItem    `json:"failed_items,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// DecodeResult decodes the processor result into v.
// It is a no-op when no result was set.
func (o Outcome) DecodeResult(v any) error {
	if len(o.Result) == 0 {
		return nil
	}
	return defaultEncoder.Decode(o.Result, v)
}

// Handle is returned by Enqueue and Retry. It resolves exactly once, when the
// run it was created for reaches a terminal status.
type Handle struct {
	// ID is the task identifier.
	ID string

	q    *Queue
	once sync.Once
	done chan struct{}
	out  Outcome
}

func newHandle(q *Queue, id string) *Handle {
	return &Handle{ID: id, q: q, done: make(chan struct{})}
}

// resolve stores the outcome and releases waiters. Later calls are ignored.
func (h *Handle) resolve(o Outcome) {
	h.once.Do(func() {
		h.out = o
		close(h.done)
	})
}

// Cancel requests cancellation of the task. See Queue.Cancel.
func (h *Handle) Cancel() bool {
	if h.q == nil {
		return false
	}
	return h.q.Cancel(h.ID)
}

// Done is closed once the outcome is available.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the outcome if the run already finished.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
		return h.out, true
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the run finishes or ctx is done. The task itself never
// produces an error here; failures are reported through Outcome.Status.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		return h.out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
