package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/UniQw/taskq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "taskq",
	Short: "Run and inspect background task queues",
	Long: `taskq drives an in-process task queue: it runs simulated bulk jobs with
bounded concurrency, cancellation and resumable retries, and inspects or
cleans up the tasks persisted by the configured storage backend.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file (default is ./taskq.yaml)")
	pf.Int("concurrency", taskq.DefaultConcurrency, "maximum number of running tasks")
	pf.Duration("timeout", taskq.DefaultTimeout, "default maximum execution time per task")
	pf.String("storage", string(taskq.StorageAuto), "storage backend: auto, memory, local or remote")
	pf.String("key", taskq.DefaultStorageKey, "storage key (file name or redis namespace)")
	pf.String("dir", "", "directory of the local storage file (default is the user cache dir)")
	pf.String("redis-addr", "", "redis address used by remote/auto storage")
	pf.String("redis-password", "", "redis password")
	pf.Duration("redis-ttl", taskq.DefaultRedisTTL, "expiry of mirrored redis keys")
	pf.String("log-level", "info", "log level: debug, info, warn or error")

	for key, flag := range map[string]string{
		"config":         "config",
		"concurrency":    "concurrency",
		"timeout":        "timeout",
		"storage":        "storage",
		"key":            "key",
		"dir":            "dir",
		"redis.addr":     "redis-addr",
		"redis.password": "redis-password",
		"redis.ttl":      "redis-ttl",
		"log.level":      "log-level",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}
}

func initConfig() {
	viper.SetDefault("concurrency", taskq.DefaultConcurrency)
	viper.SetDefault("timeout", taskq.DefaultTimeout)
	viper.SetDefault("storage", string(taskq.StorageAuto))
	viper.SetDefault("key", taskq.DefaultStorageKey)
	viper.SetDefault("redis.ttl", taskq.DefaultRedisTTL)
	viper.SetDefault("log.level", "info")

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("taskq")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/taskq")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKQ")
	// TASKQ_REDIS_ADDR for redis.addr
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger builds the slog-backed logger for the configured level.
func newLogger() taskq.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return taskq.NewSlogLogger(slog.New(h))
}

// queueConfig assembles a queue configuration from flags, env and config file.
// The returned cleanup closes the redis client, if any.
func queueConfig(log taskq.Logger) (taskq.Config, func(), error) {
	kind := taskq.StorageKind(viper.GetString("storage"))
	switch kind {
	case taskq.StorageAuto, taskq.StorageMemory, taskq.StorageLocal, taskq.StorageRemote:
	default:
		return taskq.Config{}, nil, fmt.Errorf("%w: %q", taskq.ErrUnknownStorage, kind)
	}
	cfg := taskq.Config{
		Concurrency: viper.GetInt("concurrency"),
		Timeout:     viper.GetDuration("timeout"),
		StorageKind: kind,
		StorageKey:  viper.GetString("key"),
		Dir:         viper.GetString("dir"),
		RedisTTL:    viper.GetDuration("redis.ttl"),
		Logger:      log,
	}
	cleanup := func() {}
	if addr := viper.GetString("redis.addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    viper.GetString("redis.password"),
			DialTimeout: 2 * time.Second,
		})
		cfg.Redis = rdb
		cleanup = func() { _ = rdb.Close() }
	} else if kind == taskq.StorageRemote {
		return taskq.Config{}, nil, fmt.Errorf("storage %q requires --redis-addr", kind)
	}
	return cfg, cleanup, nil
}

// openStorage opens the configured backend without starting a queue.
func openStorage(cmd *cobra.Command) (taskq.Storage, func(), error) {
	cfg, cleanup, err := queueConfig(newLogger())
	if err != nil {
		return nil, nil, err
	}
	store, kind, err := taskq.OpenStorage(cmd.Context(), cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	cfg.Logger.Debugf("storage opened: kind=%s", kind)
	closeStore := func() {
		if s, ok := store.(taskq.Syncer); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Sync(ctx); err != nil {
				cfg.Logger.Warnf("storage sync failed: err=%v", err)
			}
			cancel()
		}
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		cleanup()
	}
	return store, closeStore, nil
}
