package taskq

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/UniQw/taskq/internal/keys"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newMiniClient(t *testing.T) (*mrd.Miniredis, *redis.Client, func()) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	cleanup := func() {
		_ = rdb.Close()
		s.Close()
	}
	return s, rdb, cleanup
}

func ids(tasks []*Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func TestMemoryStorage_OrderAndCopies(t *testing.T) {
	m := NewMemoryStorage()
	require.NoError(t, m.Set(&Task{ID: "a", Title: "first"}))
	require.NoError(t, m.Set(&Task{ID: "b"}))
	require.NoError(t, m.Set(&Task{ID: "c"}))
	require.NoError(t, m.Set(&Task{ID: "a", Title: "updated"}))
	require.Equal(t, []string{"a", "b", "c"}, ids(m.GetAll()))

	got, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, "updated", got.Title)
	got.Title = "mutated"
	again, _ := m.Get("a")
	require.Equal(t, "updated", again.Title)

	require.NoError(t, m.Remove("b"))
	require.NoError(t, m.Remove("missing"))
	require.Equal(t, []string{"a", "c"}, ids(m.GetAll()))
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.Clear())
	require.Empty(t, m.GetAll())
	_, ok = m.Get("a")
	require.False(t, ok)
}

func TestFileStorage_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir, "tasks")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "tasks.json"), fs.Path())

	require.NoError(t, fs.Set(&Task{ID: "a", Status: StatusCompleted, Items: []any{"x"}, Total: 1, Completed: 1}))
	require.NoError(t, fs.Set(&Task{ID: "b", Status: StatusFailed, FailedItems: []FailedItem{{ID: "y", Message: "bad"}}}))
	require.NoError(t, fs.Remove("a"))
	require.NoError(t, fs.Set(&Task{ID: "c", Status: StatusPending}))
	require.NoError(t, fs.Sync(context.Background()))
	require.NoError(t, fs.Close())

	reopened, err := NewFileStorage(dir, "tasks")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, ids(reopened.GetAll()))
	b, ok := reopened.Get("b")
	require.True(t, ok)
	require.Equal(t, []FailedItem{{ID: "y", Message: "bad"}}, b.FailedItems)

	_, err = os.Stat(fs.Path() + ".tmp")
	require.True(t, os.IsNotExist(err), "temp file is renamed away")

	require.NoError(t, reopened.Clear())
	require.NoError(t, reopened.Sync(context.Background()))
	_, err = os.Stat(fs.Path())
	require.True(t, os.IsNotExist(err))
	require.NoError(t, reopened.Clear())
	require.NoError(t, reopened.Sync(context.Background()))
	require.NoError(t, reopened.Close())
}

func TestFileStorage_Quota(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), "small", WithFileQuota(200))
	require.NoError(t, err)
	defer fs.Close()
	require.NoError(t, fs.Set(&Task{ID: "a"}))
	require.NoError(t, fs.Sync(context.Background()))

	require.NoError(t, fs.Set(&Task{ID: "b", Title: strings.Repeat("x", 500)}))
	require.ErrorIs(t, fs.Sync(context.Background()), ErrQuotaExceeded)
	// memory stays authoritative
	_, ok := fs.Get("b")
	require.True(t, ok)
	require.NoError(t, fs.Sync(context.Background()), "errors are reported once")
}

func TestFileStorage_CorruptFileIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
	log := &testLogger{}
	fs, err := NewFileStorage(dir, "bad", WithFileLogger(log))
	require.NoError(t, err)
	require.Empty(t, fs.GetAll())
	require.True(t, log.contains("corrupt"))
}

func TestRedisStorage_MirrorAndHydrate(t *testing.T) {
	_, rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()

	rs, err := NewRedisStorage(ctx, rdb, "app", 0, nil)
	require.NoError(t, err)
	require.NoError(t, rs.Set(&Task{ID: "a", Status: StatusCompleted}))
	require.NoError(t, rs.Set(&Task{ID: "b", Status: StatusRunning, Completed: 2}))
	require.NoError(t, rs.Set(&Task{ID: "c", Status: StatusPending}))
	require.NoError(t, rs.Set(&Task{ID: "a", Status: StatusCompleted, Title: "again"}))
	require.NoError(t, rs.Remove("c"))
	require.NoError(t, rs.Sync(ctx))

	n, err := rdb.HLen(ctx, keys.Tasks("app")).Result()
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	hydrated, err := NewRedisStorage(ctx, rdb, "app", 0, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(hydrated.GetAll()))
	b, _ := hydrated.Get("b")
	require.Equal(t, StatusRunning, b.Status)
	require.Equal(t, 2, b.Completed)
	a, _ := hydrated.Get("a")
	require.Equal(t, "again", a.Title)

	require.NoError(t, hydrated.Clear())
	require.NoError(t, hydrated.Sync(ctx))
	exists, err := rdb.Exists(ctx, keys.For("app").All()...).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestRedisStorage_TTLAndBadRecords(t *testing.T) {
	s, rdb, done := newMiniClient(t)
	defer done()
	ctx := context.Background()

	rs, err := NewRedisStorage(ctx, rdb, "ttl", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, rs.Set(&Task{ID: "a"}))
	require.NoError(t, rs.Sync(ctx))
	require.Equal(t, time.Minute, s.TTL(keys.Tasks("ttl")))

	require.NoError(t, rdb.HSet(ctx, keys.Tasks("ttl"), "junk", "{oops").Err())
	log := &testLogger{}
	hydrated, err := NewRedisStorage(ctx, rdb, "ttl", time.Minute, log)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(hydrated.GetAll()))
	require.True(t, log.contains("undecodable"))

	s.FastForward(2 * time.Minute)
	empty, err := NewRedisStorage(ctx, rdb, "ttl", time.Minute, nil)
	require.NoError(t, err)
	require.Empty(t, empty.GetAll())
}

func TestRedisStorage_WriteErrorKeepsMemory(t *testing.T) {
	s, rdb, done := newMiniClient(t)
	defer done()
	rs, err := NewRedisStorage(context.Background(), rdb, "down", 0, nil)
	require.NoError(t, err)

	s.Close()
	require.NoError(t, rs.Set(&Task{ID: "a"}))
	require.Error(t, rs.Sync(context.Background()))
	_, ok := rs.Get("a")
	require.True(t, ok)
}

// hangingRedis returns a client whose server accepts connections and never replies.
func hangingRedis(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	rdb := redis.NewClient(&redis.Options{Addr: ln.Addr().String(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = rdb.Close()
		_ = ln.Close()
		mu.Lock()
		for _, c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	})
	return rdb
}

func TestRedisStorage_WritesDoNotBlockOnUnresponsiveServer(t *testing.T) {
	rs := newRedisStorage(hangingRedis(t), "slow", 0, nil)
	defer rs.Close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, rs.Set(&Task{ID: fmt.Sprintf("t%d", i)}))
	}
	require.NoError(t, rs.Remove("t0"))
	require.Less(t, time.Since(start), 200*time.Millisecond)
	require.Equal(t, []string{"t1", "t2", "t3", "t4"}, ids(rs.GetAll()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, rs.Sync(ctx), context.DeadlineExceeded)
}

func TestQueue_UnresponsiveRedisKeepsSchedulerRunning(t *testing.T) {
	rs := newRedisStorage(hangingRedis(t), "slow", 0, nil)
	defer rs.Close()
	q, err := New(Config{Storage: rs})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = q.Close(ctx)
	}()

	start := time.Now()
	h, err := q.Enqueue("quick", func(ctx context.Context, tc *TaskContext) error { return nil }, Timeout(100*time.Millisecond))
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond, "enqueue returns without waiting for redis")
	require.Equal(t, StatusCompleted, waitOutcome(t, h).Status)
	require.Less(t, time.Since(start), time.Second)

	start = time.Now()
	stuck, err := q.Enqueue("stuck", func(ctx context.Context, tc *TaskContext) error {
		<-ctx.Done()
		return ctx.Err()
	}, Timeout(100*time.Millisecond))
	require.NoError(t, err)
	out := waitOutcome(t, stuck)
	require.Equal(t, StatusFailed, out.Status)
	require.Contains(t, out.FailedItems[len(out.FailedItems)-1].Message, "timeout")
	require.Less(t, time.Since(start), time.Second, "timeout fires on time")

	require.NoError(t, q.Dismiss(h.ID))
	_, ok := q.Get(h.ID)
	require.False(t, ok)
}

func TestDismissFrom(t *testing.T) {
	store := NewMemoryStorage()
	require.NoError(t, store.Set(&Task{ID: "done", Status: StatusCompleted}))
	require.NoError(t, store.Set(&Task{ID: "busy", Status: StatusRunning}))
	require.NoError(t, store.Set(&Task{ID: "wait", Status: StatusPending}))

	require.ErrorIs(t, DismissFrom(store, "nope"), ErrTaskNotFound)
	require.ErrorIs(t, DismissFrom(store, "busy"), ErrActiveState)
	require.ErrorIs(t, DismissFrom(store, "wait"), ErrActiveState)
	require.NoError(t, DismissFrom(store, "done"))
	require.Equal(t, []string{"busy", "wait"}, ids(store.GetAll()))
}

func TestOpenStorage_Selection(t *testing.T) {
	ctx := context.Background()

	st, kind, err := OpenStorage(ctx, Config{})
	require.NoError(t, err)
	require.Equal(t, StorageMemory, kind)
	require.IsType(t, &MemoryStorage{}, st)

	custom := NewMemoryStorage()
	st, _, err = OpenStorage(ctx, Config{Storage: custom, StorageKind: StorageRemote})
	require.NoError(t, err)
	require.Same(t, custom, st)

	dir := t.TempDir()
	_, kind, err = OpenStorage(ctx, Config{StorageKind: StorageLocal, Dir: dir})
	require.NoError(t, err)
	require.Equal(t, StorageLocal, kind)

	_, _, err = OpenStorage(ctx, Config{StorageKind: StorageRemote})
	require.ErrorIs(t, err, ErrUnknownStorage)
	_, _, err = OpenStorage(ctx, Config{StorageKind: "floppy"})
	require.ErrorIs(t, err, ErrUnknownStorage)

	_, rdb, done := newMiniClient(t)
	defer done()
	_, kind, err = OpenStorage(ctx, Config{StorageKind: StorageAuto, Redis: rdb, Dir: dir})
	require.NoError(t, err)
	require.Equal(t, StorageRemote, kind)

	_, kind, err = OpenStorage(ctx, Config{StorageKind: StorageAuto, Dir: dir})
	require.NoError(t, err)
	require.Equal(t, StorageLocal, kind)
}

func TestOpenStorage_AutoFallsBackWhenRedisDown(t *testing.T) {
	s, rdb, done := newMiniClient(t)
	defer done()
	s.Close()
	log := &testLogger{}
	_, kind, err := OpenStorage(context.Background(), Config{StorageKind: StorageAuto, Redis: rdb, Dir: t.TempDir(), Logger: log})
	require.NoError(t, err)
	require.Equal(t, StorageLocal, kind)
	require.True(t, log.contains("not reachable"))
}

func TestQueue_PersistsThroughFileStorage(t *testing.T) {
	dir := t.TempDir()
	q, err := New(Config{StorageKind: StorageLocal, Dir: dir, StorageKey: "q"})
	require.NoError(t, err)
	h, err := q.Enqueue("persisted", func(ctx context.Context, tc *TaskContext) error { return nil })
	require.NoError(t, err)
	waitOutcome(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	q2 := newTestQueue(t, Config{StorageKind: StorageLocal, Dir: dir, StorageKey: "q"})
	require.Equal(t, StorageLocal, q2.StorageKind())
	got, ok := q2.Get(h.ID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "persisted", got.Title)
}
