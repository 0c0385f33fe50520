package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"gophergpt-bot/internal/model"
)

const defaultRedisPrefix = "tgbot:session:"

// RedisStore keeps each session as one JSON value. A zero ttl keeps the
// value until it is overwritten.
type RedisStore struct {
	client *redisv9.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redisv9.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Load(ctx context.Context, key string) (*model.SessionData, bool, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(key)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session failed: %w", err)
	}

	var data model.SessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false, fmt.Errorf("unmarshal session failed: %w", err)
	}
	data.Normalize()
	return &data, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, data *model.SessionData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session failed: %w", err)
	}
	return nil
}

// Close leaves the client open; it is owned by bootstrap.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) sessionKey(key string) string {
	return s.prefix + key
}
