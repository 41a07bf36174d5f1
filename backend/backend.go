// Package backend builds the durable store named in the configuration.
package backend

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/krisalay/tiered-cache/config"
	"github.com/krisalay/tiered-cache/durable/disk"
	"github.com/krisalay/tiered-cache/durable/memory"
	"github.com/krisalay/tiered-cache/durable/redisstore"
	"github.com/krisalay/tiered-cache/durable/sqlstore"
	"github.com/krisalay/tiered-cache/types"
)

/*
New returns the durable store for cfg.Backend. The store is not opened here;
the cache opens it on first use and falls back to memory-only if that fails.

Backend "none" returns a nil store.
*/
func New(cfg *config.Config, logger logrus.FieldLogger) (types.DurableStore, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil

	case config.BackendMemory:
		return memory.New(), nil

	case config.BackendDisk:
		capacity, err := cfg.DiskCapacityBytes()
		if err != nil {
			return nil, err
		}
		return disk.New(disk.Options{
			Dir:              cfg.Disk.Dir,
			Namespace:        cfg.Namespace,
			Capacity:         capacity,
			CompressionLevel: cfg.Disk.Compression,
			Logger:           logger,
		}), nil

	case config.BackendRedis:
		return redisstore.Dial(redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, cfg.Namespace, logger), nil

	case config.BackendPostgres:
		return sqlstore.Connect(sqlstore.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		}, cfg.Namespace), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
