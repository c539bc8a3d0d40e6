package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/models"

	"github.com/redis/go-redis/v9"
)

var errInvalidJSON = errors.New("value is not valid JSON")

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisStore keeps every key under a common prefix so Clear and ListKeys
// never touch foreign data in a shared database.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "kv:"}
}

func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "redis get "+key, err)
	}
	return json.RawMessage(val), nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if !json.Valid(value) {
		return domain.NewError(domain.KindValidation, "redis set "+key, errInvalidJSON)
	}
	if err := s.client.Set(ctx, s.prefix+key, []byte(value), 0).Err(); err != nil {
		return domain.NewError(domain.KindStorage, "redis set "+key, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return domain.NewError(domain.KindStorage, "redis del "+key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return domain.NewError(domain.KindStorage, "redis clear", err)
	}
	return nil
}

func (s *RedisStore) ListKeys(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.prefix))
	}
	sort.Strings(out)
	return out, nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorage, "redis scan", err)
	}
	return keys, nil
}

// RedisDeadLetters is a DeadLetterSink backed by a capped Redis list, newest first.
type RedisDeadLetters struct {
	client *redis.Client
	key    string
	limit  int64
}

func NewRedisDeadLetters(client *redis.Client, prefix string, limit int64) *RedisDeadLetters {
	if limit <= 0 {
		limit = 1000
	}
	return &RedisDeadLetters{client: client, key: prefix + "deadletter", limit: limit}
}

func (d *RedisDeadLetters) RecordDeadLetter(ctx context.Context, action models.PendingAction, reason string) error {
	entry := models.DeadLetter{Action: action, Reason: reason, DroppedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, d.key, data)
	pipe.LTrim(ctx, d.key, 0, d.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewError(domain.KindStorage, "redis dead letter", err)
	}
	return nil
}

func (d *RedisDeadLetters) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := d.client.LRange(ctx, d.key, 0, stop).Result()
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "redis list dead letters", err)
	}

	letters := make([]models.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var dl models.DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
