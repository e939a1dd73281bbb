// Package rstore performs the raw Redis operations behind the Redis task storage.
// Tasks are opaque encoded records here; encoding lives in the root package.
package rstore

import (
	"context"
	"strconv"
	"time"

	"github.com/UniQw/taskq/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Record is one stored task in insertion order.
type Record struct {
	ID  string
	Raw []byte
}

// putScript stores a record, assigning an insertion sequence on first write,
// and refreshes the TTL of every key in the namespace.
var putScript = redis.NewScript(
	// language=Lua
	`
	local tkey = KEYS[1]
	local okey = KEYS[2]
	local skey = KEYS[3]
	local id  = ARGV[1]
	local raw = ARGV[2]
	local ttl = tonumber(ARGV[3])
	if redis.call('HEXISTS', tkey, id) == 0 then
	  local seq = redis.call('INCR', skey)
	  redis.call('ZADD', okey, seq, id)
	end
	redis.call('HSET', tkey, id, raw)
	if ttl > 0 then
	  redis.call('PEXPIRE', tkey, ttl)
	  redis.call('PEXPIRE', okey, ttl)
	  redis.call('PEXPIRE', skey, ttl)
	end
	return 1
	`,
)

// LoadAll returns every record in insertion order. Hash entries missing from
// the order index (written by older clients or partially expired) come last.
func LoadAll(ctx context.Context, rdb redis.UniversalClient, k keys.Store) ([]Record, error) {
	all, err := rdb.HGetAll(ctx, k.Tasks).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	ids, err := rdb.ZRange(ctx, k.Order, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		raw, ok := all[id]
		if !ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Record{ID: id, Raw: []byte(raw)})
	}
	for id, raw := range all {
		if _, ok := seen[id]; ok {
			continue
		}
		out = append(out, Record{ID: id, Raw: []byte(raw)})
	}
	return out, nil
}

// Put writes a record and refreshes the namespace TTL. A non-positive ttl keeps keys forever.
func Put(ctx context.Context, rdb redis.UniversalClient, k keys.Store, id string, raw []byte, ttl time.Duration) error {
	return putScript.Run(ctx, rdb, k.All(), id, raw, strconv.FormatInt(ttl.Milliseconds(), 10)).Err()
}

// Delete removes a record from the hash and the order index.
func Delete(ctx context.Context, rdb redis.UniversalClient, k keys.Store, id string) error {
	_, err := rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, k.Tasks, id)
		p.ZRem(ctx, k.Order, id)
		return nil
	})
	return err
}

// Flush deletes every key of the namespace.
func Flush(ctx context.Context, rdb redis.UniversalClient, k keys.Store) error {
	return rdb.Del(ctx, k.All()...).Err()
}
