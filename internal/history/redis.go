package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfchat/internal/domain"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore persists each session as a Redis list of JSON-encoded messages.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pdfchat:history:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

func (s *RedisStore) GetOrCreate(ctx context.Context, sessionID string) (History, error) {
	h := &redisHistory{client: s.client, key: s.key(sessionID), ttl: s.ttl}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, h.key, s.ttl).Err(); err != nil {
			return nil, fmt.Errorf("refresh session ttl: %w", err)
		}
	}
	return h, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

type redisHistory struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func (h *redisHistory) Messages(ctx context.Context) ([]domain.Message, error) {
	raw, err := h.client.LRange(ctx, h.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", h.key, err)
	}
	return decodeMessages(raw)
}

func (h *redisHistory) Append(ctx context.Context, msgs ...domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	_, err = h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, h.key, values...)
		if h.ttl > 0 {
			pipe.Expire(ctx, h.key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history %s: %w", h.key, err)
	}
	return nil
}

func (h *redisHistory) Clear(ctx context.Context) error {
	return h.client.Del(ctx, h.key).Err()
}

func (h *redisHistory) Len(ctx context.Context) (int, error) {
	n, err := h.client.LLen(ctx, h.key).Result()
	return int(n), err
}

func encodeMessages(msgs []domain.Message) ([]interface{}, error) {
	values := make([]interface{}, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		values[i] = string(b)
	}
	return values, nil
}

func decodeMessages(raw []string) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

var _ Store = (*RedisStore)(nil)
