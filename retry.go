package taskq

// retryAction tells Retry how to treat a batch task.
type retryAction int

const (
	// retryResume resubmits a subset of the items and keeps prior progress.
	retryResume retryAction = iota
	// retryRestart resubmits every item with counters reset.
	retryRestart
	// retryMarkCompleted means a cancelled task has nothing left to do.
	retryMarkCompleted
	// retryNothing means a failed task has failures but none match an item.
	retryNothing
)

// resolveRetryItems picks the items a retry resubmits.
//
// A cancelled task resumes with every item that did not succeed. A failed
// task resumes with the items named in its failure entries; when no entry
// carries an id the whole list is restarted.
func resolveRetryItems(t *Task, items []any, idOf func(any) string) ([]any, retryAction) {
	switch t.Status {
	case StatusCancelled:
		done := make(map[string]struct{}, len(t.SucceededItems))
		for _, id := range t.SucceededItems {
			done[id] = struct{}{}
		}
		var rem []any
		for _, it := range items {
			if _, ok := done[idOf(it)]; !ok {
				rem = append(rem, it)
			}
		}
		if len(rem) == 0 {
			return nil, retryMarkCompleted
		}
		return rem, retryResume

	case StatusFailed:
		failed := make(map[string]struct{}, len(t.FailedItems))
		for _, f := range t.FailedItems {
			if f.ID != "" {
				failed[f.ID] = struct{}{}
			}
		}
		if len(failed) == 0 {
			return append([]any(nil), items...), retryRestart
		}
		var rem []any
		for _, it := range items {
			if _, ok := failed[idOf(it)]; ok {
				rem = append(rem, it)
			}
		}
		if len(rem) == 0 {
			return nil, retryNothing
		}
		return rem, retryResume
	}
	return append([]any(nil), items...), retryRestart
}

// applyResume prepares t for a run over rem. Failure entries of resubmitted
// items and entries without an id are dropped, and the counters are brought
// back in line so the new run can reach Total.
func applyResume(t *Task, rem []any, idOf func(any) string) {
	again := make(map[string]struct{}, len(rem))
	for _, it := range rem {
		again[idOf(it)] = struct{}{}
	}
	var kept []FailedItem
	for _, f := range t.FailedItems {
		if f.ID == "" {
			continue
		}
		if _, ok := again[f.ID]; ok {
			continue
		}
		kept = append(kept, f)
	}
	t.FailedItems = kept
	t.Failed = len(kept)
	if limit := t.Total - len(rem) - t.Failed; t.Completed > limit {
		t.Completed = max(limit, 0)
	}
}

// applyRestart clears all progress of t.
func applyRestart(t *Task) {
	t.Completed = 0
	t.Failed = 0
	t.SucceededItems = nil
	t.FailedItems = nil
	t.Result = nil
}
