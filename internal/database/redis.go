package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisClients struct {
	// Locks carries the per-user lifecycle locks and split publications.
	// Commands are short, so timeouts are tight and retries are left to the
	// lock's own polling.
	Locks *redis.Client
	// PubSub holds one long-lived subscription per connected user for the
	// websocket hub.
	PubSub *redis.Client
}

func locksOptions(base *redis.Options) *redis.Options {
	opt := *base
	opt.ClientName = "engagement-locks"
	opt.DialTimeout = 2 * time.Second
	opt.ReadTimeout = time.Second
	opt.WriteTimeout = time.Second
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.MaxRetries = 1
	return &opt
}

func pubsubOptions(base *redis.Options) *redis.Options {
	opt := *base
	opt.ClientName = "engagement-pubsub"
	opt.DialTimeout = 5 * time.Second
	opt.PoolSize = 100
	opt.ConnMaxIdleTime = 30 * time.Minute
	return &opt
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locksClient := redis.NewClient(locksOptions(opt))
	if err := locksClient.Ping(ctx).Err(); err != nil {
		locksClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (locks): %w", err)
	}

	pubsubClient := redis.NewClient(pubsubOptions(opt))
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		locksClient.Close()
		pubsubClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Locks:  locksClient,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Locks.Close()
	r.PubSub.Close()
}
