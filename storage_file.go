package taskq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileQuota mirrors the few megabytes browsers grant local storage.
const DefaultFileQuota = 5 << 20

// FileStorage keeps tasks in memory and rewrites a JSON array file after
// mutations. Rewrites run on a background writer and back-to-back mutations
// share one rewrite. Writes are atomic: data goes to a temporary file that is
// renamed into place. Call Sync to wait for them and Close to stop the writer.
type FileStorage struct {
	mem      *MemoryStorage
	path     string
	maxBytes int
	encoder  Encoder
	log      Logger
	w        *writer
}

// FileOption configures a FileStorage.
type FileOption func(*FileStorage)

// WithFileQuota sets the maximum file size in bytes. Non-positive disables the quota.
func WithFileQuota(n int) FileOption {
	return func(f *FileStorage) { f.maxBytes = n }
}

// WithFileLogger sets the logger used for load diagnostics.
func WithFileLogger(l Logger) FileOption {
	return func(f *FileStorage) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFileStorage opens (or creates) <dir>/<key>.json. An empty dir uses
// the user cache directory. A corrupt file is logged and treated as empty.
func NewFileStorage(dir, key string, opts ...FileOption) (*FileStorage, error) {
	if dir == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(cache, "taskq")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	fs := &FileStorage{
		mem:      NewMemoryStorage(),
		path:     filepath.Join(dir, key+".json"),
		maxBytes: DefaultFileQuota,
		encoder:  defaultEncoder,
		log:      noopLogger{},
	}
	for _, opt := range opts {
		opt(fs)
	}

	data, err := os.ReadFile(fs.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	if len(data) > 0 {
		var tasks []*Task
		if err := fs.encoder.Decode(data, &tasks); err != nil {
			fs.log.Warnf("file storage: ignoring corrupt file path=%s err=%v", fs.path, err)
		}
		for _, t := range tasks {
			if t != nil && t.ID != "" {
				fs.mem.setLocked(t)
			}
		}
	}
	fs.w = newWriter("file storage", fs.log)
	return fs, nil
}

// Path returns the backing file path.
func (f *FileStorage) Path() string { return f.path }

// GetAll returns copies of all tasks in insertion order.
func (f *FileStorage) GetAll() []*Task { return f.mem.GetAll() }

// Get returns a copy of the task with the given id.
func (f *FileStorage) Get(id string) (*Task, bool) { return f.mem.Get(id) }

// Set updates the task and schedules a rewrite of the file.
// Write errors, including ErrQuotaExceeded, surface through Sync.
func (f *FileStorage) Set(t *Task) error {
	_ = f.mem.Set(t)
	f.w.push(f.path, f.flush)
	return nil
}

// Remove deletes the task and schedules a rewrite of the file.
func (f *FileStorage) Remove(id string) error {
	_ = f.mem.Remove(id)
	f.w.push(f.path, f.flush)
	return nil
}

// Clear removes every task and schedules removal of the backing file.
func (f *FileStorage) Clear() error {
	_ = f.mem.Clear()
	f.w.push("", func() error {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove storage file: %w", err)
		}
		return nil
	})
	return nil
}

// Sync waits until scheduled file writes are done.
func (f *FileStorage) Sync(ctx context.Context) error { return f.w.sync(ctx) }

// Close stops the background writer, dropping writes not applied yet.
func (f *FileStorage) Close() error {
	f.w.stop()
	return nil
}

// flush writes the current task list. The in-memory state stays authoritative
// when the write fails.
func (f *FileStorage) flush() error {
	tasks := f.mem.GetAll()
	data, err := f.encoder.Encode(tasks)
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}
	if f.maxBytes > 0 && len(data) > f.maxBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrQuotaExceeded, len(data), f.maxBytes)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
