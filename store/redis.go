package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "relay:doc:"

// RedisStore implements Store on a Redis instance, one key per document path.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore and verifies connectivity.
func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func docKey(path string) string {
	return keyPrefix + path
}

func (s *RedisStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, docKey(path)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *RedisStore) Write(ctx context.Context, path string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return s.client.Set(ctx, docKey(path), data, 0).Err()
}

// Update merges fields into the existing document inside a WATCH transaction
// so concurrent partial updates to the same path cannot lose writes.
func (s *RedisStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	key := docKey(path)
	txn := func(tx *redis.Tx) error {
		var doc map[string]interface{}
		data, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			return ErrNotFound
		case err != nil:
			return err
		}
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return fmt.Errorf("corrupt document at %s: %w", path, err)
		}
		for k, v := range fields {
			doc[k] = v
		}
		merged, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("update of %s kept conflicting, giving up", path)
}

func (s *RedisStore) GenerateKey(ctx context.Context, parent string) (string, error) {
	return uuid.New().String(), nil
}

func (s *RedisStore) Delete(ctx context.Context, path string) error {
	return s.client.Del(ctx, docKey(path)).Err()
}

func (s *RedisStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	pattern := docKey(prefix) + "/*"
	out := make(map[string]json.RawMessage)

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for i, key := range keys {
				if vals[i] == nil {
					continue
				}
				child := strings.TrimPrefix(key, docKey(prefix)+"/")
				out[child] = json.RawMessage(vals[i].(string))
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
