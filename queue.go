package taskq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Listener receives a snapshot of every task after a burst of changes.
type Listener func(tasks []Task)

// SummaryItem is one line of a summary panel.
type SummaryItem struct {
	Label   string `json:"label"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Summary is an ephemeral report shown to the user after a bulk operation.
type Summary struct {
	Title string        `json:"title"`
	Items []SummaryItem `json:"items"`
}

// entry is the in-memory half of a task: everything that cannot be persisted.
type entry struct {
	proc       Processor
	items      []any
	itemID     func(any) string
	onComplete []func(Outcome)
	timeout    time.Duration
	cur        *run
}

// run is one execution attempt. A run that finished or was superseded
// ignores late reports from its processor.
type run struct {
	handle   *Handle
	items    []any
	timer    *time.Timer
	tc       *TaskContext
	cancel   context.CancelCauseFunc
	finished bool
}

// Queue schedules tasks with bounded concurrency and tracks their state.
// All methods are safe for concurrent use.
type Queue struct {
	cfg   Config
	store Storage
	kind  StorageKind
	log   Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	running int
	closed  bool
	summary *Summary

	lmu       sync.Mutex
	listeners map[uint64]Listener
	nextID    uint64
	dirty     chan struct{}
	quit      chan struct{}
	quitOnce  sync.Once
	notifier  chan struct{}
}

// New creates a Queue and opens its storage. Tasks restored from storage in
// pending or running state have lost their processor and are marked failed.
func New(cfg Config) (*Queue, error) {
	cfg = cfg.withDefaults()
	store, kind, err := OpenStorage(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:       cfg,
		store:     store,
		kind:      kind,
		log:       cfg.Logger,
		ctx:       ctx,
		stop:      cancel,
		entries:   make(map[string]*entry),
		listeners: make(map[uint64]Listener),
		dirty:     make(chan struct{}, 1),
		quit:      make(chan struct{}),
		notifier:  make(chan struct{}),
	}
	if n := q.recoverLost(); n > 0 {
		q.log.Warnf("marked %d restored task(s) failed: processor lost", n)
	}
	q.log.Infof("queue ready: concurrency=%d timeout=%s storage=%s", cfg.Concurrency, cfg.Timeout, kind)
	go q.notify()
	return q, nil
}

// StorageKind reports the backend in use. It is empty for a Config.Storage instance.
func (q *Queue) StorageKind() StorageKind { return q.kind }

// recoverLost fails every restored task that was still active.
func (q *Queue) recoverLost() int {
	n := 0
	now := time.Now().UnixMilli()
	for _, t := range q.store.GetAll() {
		if !t.Status.IsActive() {
			continue
		}
		t.Status = StatusFailed
		recordFailure(t, ErrProcessorLost.Error())
		t.CompletedAt = now
		q.persist(t)
		n++
	}
	return n
}

// Enqueue adds a task processed by proc and returns a handle resolving with
// its outcome.
func (q *Queue) Enqueue(title string, proc Processor, opts ...Option) (*Handle, error) {
	if proc == nil {
		return nil, ErrNilProcessor
	}
	return q.enqueue(title, proc, nil, opts)
}

// EnqueueItems adds a batch task whose items are handled one by one by fn.
func EnqueueItems[T any](q *Queue, title string, items []T, fn ItemFunc[T], opts ...Option) (*Handle, error) {
	if fn == nil {
		return nil, ErrNilProcessor
	}
	anyItems := make([]any, len(items))
	for i, it := range items {
		anyItems[i] = it
	}
	all := append(append([]Option(nil), opts...), Items(anyItems...))
	h := func(ctx context.Context, ic *ItemContext, item any) error {
		v, _ := item.(T)
		return fn(ctx, ic, v)
	}
	return q.enqueue(title, nil, h, all)
}

func (q *Queue) enqueue(title string, proc Processor, itemFn itemHandler, opts []Option) (*Handle, error) {
	o := &options{itemConcurrency: 1, strategy: ContinueOnFailure}
	for _, opt := range opts {
		opt(o)
	}
	if o.itemID == nil {
		o.itemID = DefaultItemID
	}
	if o.timeout <= 0 {
		o.timeout = q.cfg.Timeout
	}
	if itemFn != nil {
		var lim *rate.Limiter
		if o.itemLimit > 0 {
			lim = rate.NewLimiter(o.itemLimit, max(o.itemBurst, 1))
		}
		proc = itemProcessor(itemFn, o.itemConcurrency, o.itemID, lim, q.log)
	}
	proc = chain(proc, q.cfg.Middleware)

	id := o.id
	if id == "" {
		id = uuid.NewString()
	}
	t := &Task{
		ID:                  id,
		Title:               title,
		Status:              StatusPending,
		Items:               o.items,
		Total:               len(o.items),
		ErrorStrategy:       o.strategy,
		Cancelable:          !o.notCancelable,
		Retryable:           !o.notRetryable,
		ConfirmBeforeUnload: o.confirmBeforeUnload,
		TimeoutMs:           o.timeout.Milliseconds(),
		CreatedAt:           time.Now().UnixMilli(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	if _, ok := q.store.Get(id); ok || q.entries[id] != nil {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	e := &entry{
		proc:       proc,
		items:      o.items,
		itemID:     o.itemID,
		onComplete: o.onComplete,
		timeout:    o.timeout,
	}
	q.entries[id] = e
	h := q.armLocked(id, e, o.items)
	q.persist(t)
	q.log.Debugf("enqueued: id=%s title=%q items=%d timeout=%s", id, title, t.Total, o.timeout)
	q.drainLocked()
	q.mu.Unlock()
	q.markDirty()
	return h, nil
}

// armLocked starts a new run for the task and its timeout timer.
// The timer covers the time spent pending as well.
func (q *Queue) armLocked(id string, e *entry, items []any) *Handle {
	r := &run{handle: newHandle(q, id), items: items}
	e.cur = r
	r.timer = time.AfterFunc(e.timeout, func() { q.expire(id, r) })
	return r.handle
}

// drainLocked starts pending tasks in storage order while capacity remains.
func (q *Queue) drainLocked() {
	if q.closed {
		return
	}
	for _, t := range q.store.GetAll() {
		if q.running >= q.cfg.Concurrency {
			return
		}
		if t.Status == StatusPending {
			q.startLocked(t)
		}
	}
}

func (q *Queue) startLocked(t *Task) {
	e := q.entries[t.ID]
	if e == nil || e.cur == nil || e.cur.finished {
		t.Status = StatusFailed
		recordFailure(t, ErrProcessorLost.Error())
		t.CompletedAt = time.Now().UnixMilli()
		q.persist(t)
		q.log.Warnf("processor lost: id=%s", t.ID)
		return
	}
	r := e.cur
	t.Status = StatusRunning
	t.StartedAt = time.Now().UnixMilli()
	t.CompletedAt = 0
	q.running++
	q.persist(t)

	ctx, cancel := context.WithCancelCause(q.ctx)
	r.cancel = cancel
	id := t.ID
	r.tc = newTaskContext(t.Clone(), r.items, func(snap *Task) { q.report(id, r, snap) }, q.log)
	q.log.Debugf("started: id=%s running=%d", id, q.running)

	q.wg.Add(1)
	go q.execute(withTaskContext(ctx, r.tc), e.proc, r)
}

func (q *Queue) execute(ctx context.Context, proc Processor, r *run) {
	defer q.wg.Done()
	err := runProcessor(ctx, proc, r.tc, q.log)
	q.finish(r, err)
}

// report persists a progress snapshot of a live run.
func (q *Queue) report(id string, r *run, snap *Task) {
	q.mu.Lock()
	e := q.entries[id]
	if e == nil || e.cur != r || r.finished {
		q.mu.Unlock()
		return
	}
	q.persist(snap)
	q.mu.Unlock()
	q.markDirty()
}

// finish records the terminal state of a run whose processor returned.
func (q *Queue) finish(r *run, procErr error) {
	final := r.tc.finalize(procErr)
	defer r.cancel(nil)

	q.mu.Lock()
	e := q.entries[final.ID]
	if e == nil || e.cur != r || r.finished {
		q.mu.Unlock()
		q.log.Debugf("ignoring late finish: id=%s", final.ID)
		return
	}
	r.finished = true
	r.timer.Stop()
	q.running--
	q.persist(final)
	callbacks := e.onComplete
	q.drainLocked()
	q.mu.Unlock()

	switch final.Status {
	case StatusFailed:
		q.log.Warnf("failed: id=%s completed=%d failed=%d total=%d", final.ID, final.Completed, final.Failed, final.Total)
	default:
		q.log.Infof("%s: id=%s completed=%d total=%d", final.Status, final.ID, final.Completed, final.Total)
	}
	q.resolve(r, final, callbacks)
}

// expire force-fails a run that exceeded its timeout. The running slot is
// freed at once; the processor is cancelled and its later reports are ignored.
func (q *Queue) expire(id string, r *run) {
	q.mu.Lock()
	e := q.entries[id]
	if e == nil || e.cur != r || r.finished {
		q.mu.Unlock()
		return
	}
	t, ok := q.store.Get(id)
	if !ok {
		q.mu.Unlock()
		return
	}
	r.finished = true
	if t.Status == StatusRunning {
		q.running--
	}
	t.Status = StatusFailed
	recordFailure(t, fmt.Sprintf("%s (%s)", ErrTimeout.Error(), e.timeout))
	t.CompletedAt = time.Now().UnixMilli()
	q.persist(t)
	callbacks := e.onComplete
	q.drainLocked()
	q.mu.Unlock()

	q.log.Warnf("timed out: id=%s after=%s", id, e.timeout)
	if r.tc != nil {
		r.tc.requestCancel()
	}
	if r.cancel != nil {
		r.cancel(ErrTimeout)
	}
	q.resolve(r, t, callbacks)
}

func (q *Queue) resolve(r *run, final *Task, callbacks []func(Outcome)) {
	out := final.outcome()
	r.handle.resolve(out)
	q.markDirty()
	for _, fn := range callbacks {
		q.safeCall(func() { fn(out) })
	}
}

// Cancel requests cancellation of a running, cancelable task. It returns
// false when there is nothing to cancel, including a second request.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	e := q.entries[id]
	if e == nil || e.cur == nil || e.cur.finished || e.cur.tc == nil {
		q.mu.Unlock()
		return false
	}
	t, ok := q.store.Get(id)
	if !ok || t.Status != StatusRunning || !t.Cancelable {
		q.mu.Unlock()
		return false
	}
	r := e.cur
	q.mu.Unlock()

	if !r.tc.requestCancel() {
		return false
	}
	r.cancel(context.Canceled)
	q.log.Infof("cancel requested: id=%s", id)
	q.markDirty()
	return true
}

// Retry starts a new run of a failed or cancelled task. Batch tasks resume
// with the items that did not succeed; other tasks start over.
func (q *Queue) Retry(id string) (*Handle, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	t, ok := q.store.Get(id)
	if !ok {
		q.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if (t.Status != StatusFailed && t.Status != StatusCancelled) || !t.Retryable {
		q.mu.Unlock()
		return nil, ErrNotRetryable
	}
	e := q.entries[id]
	if e == nil || e.proc == nil {
		q.mu.Unlock()
		return nil, ErrProcessorLost
	}

	var items []any
	if len(e.items) > 0 {
		rem, action := resolveRetryItems(t, e.items, e.itemID)
		switch action {
		case retryNothing:
			q.mu.Unlock()
			q.log.Warnf("retry: no failed item matches the task items: id=%s", id)
			return nil, ErrNothingToRetry
		case retryMarkCompleted:
			t.Status = StatusCompleted
			t.CompletedAt = time.Now().UnixMilli()
			q.persist(t)
			r := &run{handle: newHandle(q, id), finished: true}
			e.cur = r
			callbacks := e.onComplete
			q.mu.Unlock()
			q.log.Infof("retry: nothing left to process, marked completed: id=%s", id)
			q.resolve(r, t, callbacks)
			return r.handle, nil
		case retryResume:
			applyResume(t, rem, e.itemID)
		default:
			applyRestart(t)
		}
		items = rem
	} else {
		applyRestart(t)
	}

	t.RetryCount++
	t.Status = StatusPending
	t.StartedAt = 0
	t.CompletedAt = 0
	h := q.armLocked(id, e, items)
	q.persist(t)
	q.log.Infof("retry: id=%s attempt=%d items=%d", id, t.RetryCount, len(items))
	q.drainLocked()
	q.mu.Unlock()
	q.markDirty()
	return h, nil
}

// Dismiss removes a terminal task.
func (q *Queue) Dismiss(id string) error {
	q.mu.Lock()
	if err := q.dismissLocked(id); err != nil {
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()
	q.markDirty()
	return nil
}

// DismissAll removes every terminal task and returns how many were removed.
func (q *Queue) DismissAll() int {
	q.mu.Lock()
	n := 0
	for _, t := range q.store.GetAll() {
		if q.dismissLocked(t.ID) == nil {
			n++
		}
	}
	q.mu.Unlock()
	if n > 0 {
		q.markDirty()
	}
	return n
}

func (q *Queue) dismissLocked(id string) error {
	err := DismissFrom(q.store, id)
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrActiveState):
		return err
	case err != nil:
		q.log.Warnf("storage remove failed: id=%s err=%v", id, err)
	}
	delete(q.entries, id)
	return nil
}

// ShowSummary publishes a summary panel, replacing any previous one.
func (q *Queue) ShowSummary(title string, items []SummaryItem) {
	q.mu.Lock()
	q.summary = &Summary{Title: title, Items: append([]SummaryItem(nil), items...)}
	q.mu.Unlock()
	q.markDirty()
}

// CloseSummary removes the summary panel.
func (q *Queue) CloseSummary() {
	q.mu.Lock()
	had := q.summary != nil
	q.summary = nil
	q.mu.Unlock()
	if had {
		q.markDirty()
	}
}

// Summary returns the current summary panel, if any.
func (q *Queue) Summary() (Summary, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.summary == nil {
		return Summary{}, false
	}
	s := *q.summary
	s.Items = append([]SummaryItem(nil), s.Items...)
	return s, true
}

// Tasks returns a snapshot of every task in storage order.
func (q *Queue) Tasks() []Task {
	all := q.store.GetAll()
	out := make([]Task, 0, len(all))
	for _, t := range all {
		out = append(out, *t)
	}
	return out
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id string) (Task, bool) {
	t, ok := q.store.Get(id)
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// HasBlockingTasks reports whether an active task asked for confirmation before shutdown.
func (q *Queue) HasBlockingTasks() bool {
	for _, t := range q.store.GetAll() {
		if t.ConfirmBeforeUnload && t.Status.IsActive() {
			return true
		}
	}
	return false
}

// Subscribe registers l and returns a function that removes it.
func (q *Queue) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	q.lmu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = l
	q.lmu.Unlock()
	return func() {
		q.lmu.Lock()
		delete(q.listeners, id)
		q.lmu.Unlock()
	}
}

// markDirty schedules a notification. Bursts collapse into one flush.
func (q *Queue) markDirty() {
	select {
	case q.dirty <- struct{}{}:
	default:
	}
}

func (q *Queue) notify() {
	defer close(q.notifier)
	for {
		select {
		case <-q.dirty:
			q.flush()
		case <-q.quit:
			return
		}
	}
}

func (q *Queue) flush() {
	q.lmu.Lock()
	ls := make([]Listener, 0, len(q.listeners))
	for _, l := range q.listeners {
		ls = append(ls, l)
	}
	q.lmu.Unlock()
	if len(ls) == 0 {
		return
	}
	snap := q.Tasks()
	for _, l := range ls {
		q.safeCall(func() { l(snap) })
	}
}

func (q *Queue) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorf("callback panicked: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}

func (q *Queue) persist(t *Task) {
	if err := q.store.Set(t); err != nil {
		q.log.Warnf("storage write failed: id=%s err=%v", t.ID, err)
	}
}

// Close stops the queue. Pending tasks are cancelled, running processors
// are asked to stop, and Close waits for them and for queued storage writes
// until ctx is done. A storage the queue opened itself is closed as well.
// Close is idempotent.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	type pendingRun struct {
		r     *run
		final *Task
		cbs   []func(Outcome)
	}
	var live []*run
	var pending []pendingRun
	now := time.Now().UnixMilli()
	for id, e := range q.entries {
		r := e.cur
		if r == nil || r.finished {
			continue
		}
		r.timer.Stop()
		if r.tc != nil {
			live = append(live, r)
			continue
		}
		r.finished = true
		t, ok := q.store.Get(id)
		if !ok {
			continue
		}
		t.Status = StatusCancelled
		t.CompletedAt = now
		q.persist(t)
		pending = append(pending, pendingRun{r: r, final: t, cbs: e.onComplete})
	}
	q.mu.Unlock()
	q.log.Infof("queue closing: running=%d pending=%d", len(live), len(pending))

	for _, p := range pending {
		q.resolve(p.r, p.final, p.cbs)
	}
	for _, r := range live {
		r.tc.requestCancel()
		r.cancel(ErrQueueClosed)
	}
	q.stop()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if s, ok := q.store.(Syncer); ok {
		if serr := s.Sync(ctx); serr != nil {
			q.log.Warnf("storage sync failed: err=%v", serr)
			if err == nil {
				err = ctx.Err()
			}
		}
	}
	if c, ok := q.store.(io.Closer); ok && q.cfg.Storage == nil {
		_ = c.Close()
	}
	q.quitOnce.Do(func() { close(q.quit) })
	<-q.notifier
	return err
}
