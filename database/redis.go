package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
	logger *slog.Logger
}

func NewRedis(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", addr, err)
	}

	logger.Info("connected to Redis", "addr", addr)
	return &RedisClient{Client: rdb, logger: logger}, nil
}

func (c *RedisClient) Close() {
	if c.Client == nil {
		return
	}
	if err := c.Client.Close(); err != nil {
		c.logger.Error("error closing Redis connection", "error", err)
		return
	}
	c.logger.Info("Redis connection closed")
}
