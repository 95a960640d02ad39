package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alekspetrov/hourglass/internal/logging"
	"github.com/alekspetrov/hourglass/internal/session"
)

// Redis stores session snapshots as JSON with a TTL. Errors degrade to cache
// misses.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewRedis connects to cfg.RedisURL and pings it.
func NewRedis(ctx context.Context, cfg *Config) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisWithClient(client, cfg), nil
}

func newRedisWithClient(client *redis.Client, cfg *Config) *Redis {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultConfig().Prefix
	}
	return &Redis{
		client: client,
		ttl:    cfg.TTL,
		prefix: prefix,
		log:    logging.WithComponent("cache"),
	}
}

func (r *Redis) key(id string) string { return r.prefix + id }

func (r *Redis) Get(ctx context.Context, id string) (*session.Session, bool) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("Cache read failed", slog.String("session_id", id), slog.Any("error", err))
		}
		return nil, false
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		r.log.Warn("Cache entry corrupt, dropping", slog.String("session_id", id), slog.Any("error", err))
		r.Invalidate(ctx, id)
		return nil, false
	}
	return &s, true
}

func (r *Redis) Set(ctx context.Context, s *session.Session) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		r.log.Warn("Cache write failed", slog.String("session_id", s.ID), slog.Any("error", err))
	}
}

func (r *Redis) Invalidate(ctx context.Context, id string) {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		r.log.Warn("Cache invalidation failed", slog.String("session_id", id), slog.Any("error", err))
	}
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
