package taskq

import (
	"context"
	"sync"
)

// Syncer is implemented by storages that apply writes in the background.
// Sync blocks until every write queued before the call has been applied and
// returns the first write error seen since the previous Sync.
type Syncer interface {
	Sync(ctx context.Context) error
}

type writeOp struct {
	key  string
	run  func() error
	done chan struct{}
}

// writer applies queued writes on one goroutine, in queue order. A write
// pushed with a key replaces a still-queued write with the same key, keeping
// its place; a write without a key is never merged and ends all merging
// for writes queued before it.
type writer struct {
	mu      sync.Mutex
	ops     []*writeOp
	latest  map[string]*writeOp
	err     error
	stopped bool

	wake chan struct{}
	quit chan struct{}
	log  Logger
	name string
}

func newWriter(name string, log Logger) *writer {
	w := &writer{
		latest: make(map[string]*writeOp),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		log:    log,
		name:   name,
	}
	go w.loop()
	return w
}

func (w *writer) push(key string, run func() error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if key == "" {
		clear(w.latest)
		w.ops = append(w.ops, &writeOp{run: run})
	} else if op, ok := w.latest[key]; ok {
		op.run = run
	} else {
		op := &writeOp{key: key, run: run}
		w.latest[key] = op
		w.ops = append(w.ops, op)
	}
	w.mu.Unlock()
	w.signal()
}

func (w *writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) sync(ctx context.Context) error {
	done := make(chan struct{})
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	clear(w.latest)
	w.ops = append(w.ops, &writeOp{done: done})
	w.mu.Unlock()
	w.signal()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	err := w.err
	w.err = nil
	w.mu.Unlock()
	return err
}

// stop ends the goroutine. Writes still queued are dropped.
func (w *writer) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	for _, op := range w.ops {
		if op.done != nil {
			close(op.done)
		}
	}
	w.ops = nil
	clear(w.latest)
	close(w.quit)
}

func (w *writer) loop() {
	for {
		select {
		case <-w.quit:
			return
		case <-w.wake:
		}
		for {
			w.mu.Lock()
			if w.stopped || len(w.ops) == 0 {
				w.mu.Unlock()
				break
			}
			op := w.ops[0]
			w.ops[0] = nil
			w.ops = w.ops[1:]
			if op.key != "" && w.latest[op.key] == op {
				delete(w.latest, op.key)
			}
			run, done := op.run, op.done
			w.mu.Unlock()

			if done != nil {
				close(done)
				continue
			}
			if err := run(); err != nil {
				w.log.Warnf("%s: background write failed: err=%v", w.name, err)
				w.mu.Lock()
				if w.err == nil {
					w.err = err
				}
				w.mu.Unlock()
			}
		}
	}
}
