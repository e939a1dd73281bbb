package taskq

import (
	"context"
	"sync"
	"time"
)

// Storage persists task records. Implementations keep an ordered view of the
// tasks (insertion order), which the queue uses for FIFO draining.
// Get and GetAll return copies; Set stores a copy.
type Storage interface {
	GetAll() []*Task
	Get(id string) (*Task, bool)
	Set(t *Task) error
	Remove(id string) error
	Clear() error
}

// StorageKind selects a storage backend in Config.
type StorageKind string

const (
	// StorageAuto prefers Redis when a live client is configured, then a local file, then memory.
	StorageAuto StorageKind = "auto"
	// StorageMemory keeps tasks in process memory only.
	StorageMemory StorageKind = "memory"
	// StorageLocal keeps tasks in a JSON file on local disk.
	StorageLocal StorageKind = "local"
	// StorageRemote mirrors tasks into Redis.
	StorageRemote StorageKind = "remote"
)

// MemoryStorage is the default Storage. Its contents are lost when the process exits.
type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	order []string
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tasks: make(map[string]*Task)}
}

// GetAll returns copies of all tasks in insertion order.
func (m *MemoryStorage) GetAll() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id].Clone())
	}
	return out
}

// Get returns a copy of the task with the given id.
func (m *MemoryStorage) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Set inserts or replaces a task. Replacing keeps the original position.
func (m *MemoryStorage) Set(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(t.Clone())
	return nil
}

func (m *MemoryStorage) setLocked(t *Task) {
	if _, ok := m.tasks[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	m.tasks[t.ID] = t
}

// Remove deletes a task. Unknown ids are ignored.
func (m *MemoryStorage) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
	return nil
}

func (m *MemoryStorage) removeLocked(id string) bool {
	if _, ok := m.tasks[id]; !ok {
		return false
	}
	delete(m.tasks, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every task.
func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make(map[string]*Task)
	m.order = nil
	return nil
}

// Len returns the number of stored tasks.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// DismissFrom removes a finished task from store. It returns
// ErrTaskNotFound for an unknown id and ErrActiveState for a pending or
// running task. Queue.Dismiss applies the same rule.
func DismissFrom(store Storage, id string) error {
	t, ok := store.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.IsActive() {
		return ErrActiveState
	}
	return store.Remove(id)
}

// OpenStorage builds the Storage described by cfg without starting a queue.
// The CLI uses it to inspect persisted tasks.
func OpenStorage(ctx context.Context, cfg Config) (Storage, StorageKind, error) {
	cfg = cfg.withDefaults()
	if cfg.Storage != nil {
		return cfg.Storage, "", nil
	}
	switch cfg.StorageKind {
	case StorageMemory:
		return NewMemoryStorage(), StorageMemory, nil
	case StorageLocal:
		fs, err := NewFileStorage(cfg.Dir, cfg.StorageKey, WithFileLogger(cfg.Logger))
		if err != nil {
			return nil, "", err
		}
		return fs, StorageLocal, nil
	case StorageRemote:
		if cfg.Redis == nil {
			return nil, "", ErrUnknownStorage
		}
		rs, err := NewRedisStorage(ctx, cfg.Redis, cfg.StorageKey, cfg.RedisTTL, cfg.Logger)
		if err != nil {
			return nil, "", err
		}
		return rs, StorageRemote, nil
	case StorageAuto:
		if cfg.Redis != nil {
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := cfg.Redis.Ping(pctx).Err()
			cancel()
			if err == nil {
				rs, err := NewRedisStorage(ctx, cfg.Redis, cfg.StorageKey, cfg.RedisTTL, cfg.Logger)
				if err == nil {
					return rs, StorageRemote, nil
				}
				cfg.Logger.Warnf("auto storage: redis hydrate failed, falling back: err=%v", err)
			} else {
				cfg.Logger.Warnf("auto storage: redis not reachable, falling back: err=%v", err)
			}
		}
		fs, err := NewFileStorage(cfg.Dir, cfg.StorageKey, WithFileLogger(cfg.Logger))
		if err == nil {
			return fs, StorageLocal, nil
		}
		cfg.Logger.Warnf("auto storage: local file unavailable, using memory: err=%v", err)
		return NewMemoryStorage(), StorageMemory, nil
	default:
		return nil, "", ErrUnknownStorage
	}
}
