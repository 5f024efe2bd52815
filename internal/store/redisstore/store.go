package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskhub/chat-service/internal/config"
)

// Store caches per-user unread message counts. A miss falls through to the
// database, so entries carry a TTL and are simply deleted on any write that
// could change the count.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

const unreadTTL = 5 * time.Minute

func New(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{client: client, ttl: unreadTTL}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func unreadKey(userID int64) string {
	return fmt.Sprintf("chat:unread:%d", userID)
}

func (s *Store) Get(ctx context.Context, userID int64) (int64, bool, error) {
	n, err := s.client.Get(ctx, unreadKey(userID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *Store) Set(ctx context.Context, userID int64, count int64) error {
	return s.client.Set(ctx, unreadKey(userID), count, s.ttl).Err()
}

func (s *Store) Invalidate(ctx context.Context, userID int64) error {
	return s.client.Del(ctx, unreadKey(userID)).Err()
}
