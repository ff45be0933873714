// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisEnvelope mirrors badgerEnvelope for the redis backend.
type redisEnvelope struct {
	Version uint64 `json:"v"`
	Value   []byte `json:"d"`
}

// RedisStore is the shared-state backend for multi-replica deployments.
// Rows live under "cp:<table>:<pk>:<rk>"; each partition additionally keeps
// a set of its row keys so Scan does not need KEYS. Conditional writes use
// WATCH so a concurrent writer fails the transaction instead of clobbering.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds the connection parameters.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedis connects and verifies the server is reachable.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: redis connection failed: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client; tests use this with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(table, pk, rk string) string {
	return "cp:" + table + ":" + pk + ":" + rk
}

func redisIndexKey(table, pk string) string {
	return "cp:idx:" + table + ":" + pk
}

func (s *RedisStore) Insert(ctx context.Context, table string, e Entity) (string, error) {
	key := redisKey(table, e.PartitionKey, e.RowKey)
	idx := redisIndexKey(table, e.PartitionKey)

	buf, err := json.Marshal(redisEnvelope{Version: 1, Value: e.Value})
	if err != nil {
		return "", err
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			pipe.SAdd(ctx, idx, e.RowKey)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", err
	}
	return "1", nil
}

func (s *RedisStore) Get(ctx context.Context, table, pk, rk string) (*Entity, error) {
	raw, err := s.client.Get(ctx, redisKey(table, pk, rk)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &Entity{
		PartitionKey: pk,
		RowKey:       rk,
		Value:        env.Value,
		Version:      strconv.FormatUint(env.Version, 10),
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, table string, e Entity) (string, error) {
	key := redisKey(table, e.PartitionKey, e.RowKey)
	idx := redisIndexKey(table, e.PartitionKey)

	for attempt := 0; ; attempt++ {
		var next uint64
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			next = 1
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				var cur redisEnvelope
				if err := json.Unmarshal(raw, &cur); err != nil {
					return err
				}
				next = cur.Version + 1
			case !errors.Is(err, redis.Nil):
				return err
			}
			buf, err := json.Marshal(redisEnvelope{Version: next, Value: e.Value})
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, 0)
				pipe.SAdd(ctx, idx, e.RowKey)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) && attempt < 4 {
			continue
		}
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(next, 10), nil
	}
}

func (s *RedisStore) Update(ctx context.Context, table string, e Entity) (string, error) {
	key := redisKey(table, e.PartitionKey, e.RowKey)

	var next uint64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur redisEnvelope
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
		if strconv.FormatUint(cur.Version, 10) != e.Version {
			return ErrPreconditionFailed
		}
		next = cur.Version + 1
		buf, err := json.Marshal(redisEnvelope{Version: next, Value: e.Value})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return "", ErrPreconditionFailed
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(next, 10), nil
}

func (s *RedisStore) Delete(ctx context.Context, table, pk, rk string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey(table, pk, rk))
		pipe.SRem(ctx, redisIndexKey(table, pk), rk)
		return nil
	})
	return err
}

func (s *RedisStore) DeletePartition(ctx context.Context, table, pk string) (int, error) {
	idx := redisIndexKey(table, pk)
	rowKeys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rk := range rowKeys {
			pipe.Del(ctx, redisKey(table, pk, rk))
		}
		pipe.Del(ctx, idx)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rowKeys), nil
}

func (s *RedisStore) Scan(ctx context.Context, table, pk string) ([]Entity, error) {
	rowKeys, err := s.client.SMembers(ctx, redisIndexKey(table, pk)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(rowKeys)

	out := make([]Entity, 0, len(rowKeys))
	for _, rk := range rowKeys {
		ent, err := s.Get(ctx, table, pk, rk)
		if errors.Is(err, ErrNotFound) {
			// Row deleted between SMEMBERS and GET.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *ent)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
