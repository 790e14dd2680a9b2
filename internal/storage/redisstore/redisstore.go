// Package redisstore implements the record store on Redis, for deployments
// where the tracker host has no durable disk of its own. Records keep the
// same serialized form as the file backend; Redis only provides the shelf.
package redisstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/ptrack/internal/config"
	"github.com/goodtune/ptrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "ptrack:player:"
	indexKey        = "ptrack:players"
)

// Store is a Redis-backed RecordStore.
type Store struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}
	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}
	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// List returns all records sorted by key, batching reads through a pipeline.
func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []storage.Record{}, nil
	}
	sort.Strings(keys)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, recordKeyPrefix+key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.Record, 0, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil || len(data) == 0 {
			// Index entry without a record; skip it like an empty file.
			continue
		}
		records = append(records, storage.Record{Key: keys[i], Data: data})
	}
	return records, nil
}

// Get reads a single record by key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, recordKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put stores a record and tracks its key in the index set.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKeyPrefix+key, data, 0)
	pipe.SAdd(ctx, indexKey, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a record and its index entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	deleted, err := s.client.Del(ctx, recordKeyPrefix+key).Result()
	if err != nil {
		return err
	}
	if err := s.client.SRem(ctx, indexKey, key).Err(); err != nil {
		return err
	}
	if deleted == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteAll removes every record and clears the index.
func (s *Store) DeleteAll(ctx context.Context) error {
	keys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		full := make([]string, len(keys))
		for i, key := range keys {
			full[i] = recordKeyPrefix + key
		}
		if err := s.client.Del(ctx, full...).Err(); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, indexKey).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
