package taskq

import "errors"

// ErrDuplicateTask is returned when Enqueue is called with an ID that already exists in the queue.
var ErrDuplicateTask = errors.New("taskq: duplicate task id")

// ErrUnknownStatus is returned when an invalid status string is parsed.
var ErrUnknownStatus = errors.New("taskq: unknown status")

// ErrActiveState is returned when an operation is not allowed on a pending or running task.
var ErrActiveState = errors.New("taskq: operation not allowed on active task")

// ErrTaskNotFound is returned when a task with the specified ID is not found.
var ErrTaskNotFound = errors.New("taskq: task not found")

// ErrNotRetryable is returned by Retry for tasks that are not failed/cancelled
// or were enqueued with NotRetryable.
var ErrNotRetryable = errors.New("taskq: task is not retryable")

// ErrNothingToRetry is returned by Retry when a failed batch task has no
// identifiable items left to resubmit.
var ErrNothingToRetry = errors.New("taskq: nothing to retry")

// ErrProcessorLost indicates the in-memory processor for a task is gone,
// typically because the task was restored from persistent storage after a restart.
var ErrProcessorLost = errors.New("taskq: processor lost")

// ErrTimeout is the failure cause recorded when a task exceeds its timeout.
var ErrTimeout = errors.New("taskq: task timeout: exceeded maximum execution time")

// ErrNilProcessor is returned when Enqueue is called without a processor.
var ErrNilProcessor = errors.New("taskq: nil processor")

// ErrQueueClosed is returned when enqueueing into a closed queue.
var ErrQueueClosed = errors.New("taskq: queue closed")

// ErrUnknownStorage is returned when Config.StorageKind is not recognized.
var ErrUnknownStorage = errors.New("taskq: unknown storage kind")

// ErrQuotaExceeded is reported by FileStorage.Sync when a write would exceed its size quota.
var ErrQuotaExceeded = errors.New("taskq: storage quota exceeded")
