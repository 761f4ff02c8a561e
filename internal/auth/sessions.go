package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCookie carries the browser session id.
const SessionCookie = "ktq_session"

const sessionKeyPrefix = "ktq:session:"

var ErrSessionNotFound = errors.New("session not found")

// RedisClient is the subset of the go-redis API the session store uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisSessionStore maps opaque session ids to usernames with a TTL.
type RedisSessionStore struct {
	rdb RedisClient
	ttl time.Duration
}

func NewRedisSessionStore(rdb RedisClient, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (s *RedisSessionStore) Create(ctx context.Context, username string) (string, error) {
	id := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionKey(id), username, s.ttl).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisSessionStore) Lookup(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrSessionNotFound
	}
	username, err := s.rdb.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return username, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.rdb.Del(ctx, sessionKey(id)).Err()
}
