package taskq

import (
	"context"
	"fmt"
	"time"

	"github.com/UniQw/taskq/internal/keys"
	"github.com/UniQw/taskq/internal/rstore"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is how long mirrored tasks survive in Redis after the last write.
const DefaultRedisTTL = 24 * time.Hour

// redisOpTimeout bounds each mirrored write.
const redisOpTimeout = 3 * time.Second

// RedisStorage keeps tasks in memory and mirrors every mutation into Redis.
// It hydrates from Redis once, on construction, so reads never touch the network.
// Mirrored writes run on a background writer in mutation order; a slow or
// unreachable Redis never blocks Set, Remove or Clear. Call Sync to wait for
// them and Close to stop the writer.
type RedisStorage struct {
	mem     *MemoryStorage
	rdb     redis.UniversalClient
	keys    keys.Store
	ttl     time.Duration
	encoder Encoder
	log     Logger
	w       *writer
}

// NewRedisStorage loads existing tasks stored under key and returns the storage.
// A zero ttl uses DefaultRedisTTL; a negative ttl keeps keys forever.
// Records that fail to decode are skipped with a warning.
func NewRedisStorage(ctx context.Context, rdb redis.UniversalClient, key string, ttl time.Duration, log Logger) (*RedisStorage, error) {
	rs := newRedisStorage(rdb, key, ttl, log)
	recs, err := rstore.LoadAll(ctx, rdb, rs.keys)
	if err != nil {
		rs.Close()
		return nil, fmt.Errorf("hydrate tasks from redis: %w", err)
	}
	for _, rec := range recs {
		var t Task
		if err := rs.encoder.Decode(rec.Raw, &t); err != nil {
			log.Warnf("redis storage: skipping undecodable task id=%s err=%v", rec.ID, err)
			continue
		}
		if t.ID == "" {
			t.ID = rec.ID
		}
		rs.mem.setLocked(&t)
	}
	return rs, nil
}

func newRedisStorage(rdb redis.UniversalClient, key string, ttl time.Duration, log Logger) *RedisStorage {
	if ttl == 0 {
		ttl = DefaultRedisTTL
	}
	if log == nil {
		log = noopLogger{}
	}
	return &RedisStorage{
		mem:     NewMemoryStorage(),
		rdb:     rdb,
		keys:    keys.For(key),
		ttl:     ttl,
		encoder: defaultEncoder,
		log:     log,
		w:       newWriter("redis storage", log),
	}
}

// GetAll returns copies of all tasks in insertion order.
func (r *RedisStorage) GetAll() []*Task { return r.mem.GetAll() }

// Get returns a copy of the task with the given id.
func (r *RedisStorage) Get(id string) (*Task, bool) { return r.mem.Get(id) }

// Set updates the in-memory copy and queues the mirrored write.
// Only encoding errors are returned; write errors surface through Sync.
func (r *RedisStorage) Set(t *Task) error {
	_ = r.mem.Set(t)
	raw, err := r.encoder.Encode(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	id := t.ID
	r.w.push(id, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		if err := rstore.Put(ctx, r.rdb, r.keys, id, raw, r.ttl); err != nil {
			return fmt.Errorf("mirror task %s: %w", id, err)
		}
		return nil
	})
	return nil
}

// Remove deletes the task locally and queues its removal from Redis.
func (r *RedisStorage) Remove(id string) error {
	_ = r.mem.Remove(id)
	r.w.push("", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		if err := rstore.Delete(ctx, r.rdb, r.keys, id); err != nil {
			return fmt.Errorf("remove task %s: %w", id, err)
		}
		return nil
	})
	return nil
}

// Clear removes every task locally and queues the flush of its Redis keys.
func (r *RedisStorage) Clear() error {
	_ = r.mem.Clear()
	r.w.push("", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
		defer cancel()
		if err := rstore.Flush(ctx, r.rdb, r.keys); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		return nil
	})
	return nil
}

// Sync waits until queued Redis writes are applied.
func (r *RedisStorage) Sync(ctx context.Context) error { return r.w.sync(ctx) }

// Close stops the background writer, dropping writes not applied yet.
// It does not close the Redis client.
func (r *RedisStorage) Close() error {
	r.w.stop()
	return nil
}
