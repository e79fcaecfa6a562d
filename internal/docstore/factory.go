package docstore

import (
	"context"
	"fmt"

	"github.com/bassista/go_courses/internal/config"
)

// NewClientFromConfig creates the document store selected by cfg.Driver.
// An empty driver defaults to the file store.
func NewClientFromConfig(ctx context.Context, cfg config.StoreConfig) (Client, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverFile, "":
		fs, err := NewFileStore(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.DriverRedis:
		rs, err := NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return rs, nil
	case config.DriverPostgres:
		ps, err := NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s (supported: %s, %s, %s, %s)",
			cfg.Driver, config.DriverMemory, config.DriverFile, config.DriverRedis, config.DriverPostgres)
	}
}
