package database

import (
	"fmt"

	"github.com/go-redis/redis"
	"github.com/xpanvictor/cortado/internal/config"
)

// NewRedis connects to the instruction cache. An empty address means no cache
// and returns a nil client.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Pass,
		DB:       0,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
