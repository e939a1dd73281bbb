package taskq

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Default values applied by Config when fields are left zero.
const (
	DefaultConcurrency = 3
	DefaultTimeout     = 5 * time.Minute
	DefaultStorageKey  = "taskq"
)

// Config defines the configuration for a Queue.
type Config struct {
	// Concurrency is the maximum number of tasks running at once. Defaults to 3.
	Concurrency int
	// Timeout is the default maximum execution time of one run. Defaults to 5 minutes.
	// Individual tasks override it with the Timeout option.
	Timeout time.Duration
	// Storage is a ready-made backend. When set, StorageKind and the backend fields are ignored.
	Storage Storage
	// StorageKind selects the backend built by New. Defaults to StorageMemory.
	StorageKind StorageKind
	// StorageKey names the file (local) or the key namespace (remote). Defaults to "taskq".
	StorageKey string
	// Dir is the directory of the local backend. Empty means the user cache directory.
	Dir string
	// Redis is the client used by the remote backend and by auto-detection.
	Redis redis.UniversalClient
	// RedisTTL is the expiry of mirrored keys. Zero uses DefaultRedisTTL.
	RedisTTL time.Duration
	// Middleware wraps every processor, outermost first.
	Middleware []Middleware
	// Logger receives queue events. Defaults to a silent logger.
	Logger Logger
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.StorageKind == "" {
		c.StorageKind = StorageMemory
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	return c
}
