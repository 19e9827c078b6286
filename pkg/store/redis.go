package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig holds connection settings for the Redis-backed store.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// RedisStore implements Store on Redis. TTLs map directly onto key
// expirations; the conditional status update uses an optimistic WATCH/MULTI
// transaction so concurrent writers cannot both win.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, now: time.Now}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func redisKey(pk, sk string) string { return "auth:" + pk + "/" + sk }

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var ttl time.Duration
	if rec.ExpiresAt > 0 {
		ttl = time.Unix(rec.ExpiresAt, 0).Sub(s.now())
		if ttl <= 0 {
			// Already expired; make sure no stale copy survives.
			return s.client.Del(ctx, redisKey(rec.PartitionKey, rec.SortKey)).Err()
		}
	}

	return s.client.Set(ctx, redisKey(rec.PartitionKey, rec.SortKey), data, ttl).Err()
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, pk, sk string) (*Record, error) {
	data, err := s.client.Get(ctx, redisKey(pk, sk)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		// Corrupt data is unusable; drop it.
		s.client.Del(ctx, redisKey(pk, sk))
		return nil, ErrNotFound
	}

	// Never trust key expiration timing alone.
	if rec.Expired(s.now()) {
		s.client.Del(ctx, redisKey(pk, sk))
		return nil, ErrNotFound
	}

	return &rec, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, pk, sk string) error {
	return s.client.Del(ctx, redisKey(pk, sk)).Err()
}

// UpdateStatus implements Store using WATCH so the read-check-write is a
// single conditional commit. A concurrent writer aborts the transaction and
// surfaces as ErrConflict.
func (s *RedisStore) UpdateStatus(ctx context.Context, pk, sk, expect, next string, attrs map[string]string) error {
	key := redisKey(pk, sk)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrNotFound
		} else if err != nil {
			return fmt.Errorf("redis get failed: %w", err)
		}

		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return ErrNotFound
		}
		if rec.Expired(s.now()) {
			return ErrNotFound
		}
		if rec.Status != expect {
			return ErrConflict
		}

		rec.Status = next
		if len(attrs) > 0 {
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]string, len(attrs))
			}
			for k, v := range attrs {
				rec.Attributes[k] = v
			}
		}
		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}, key)

	if err == redis.TxFailedErr {
		// The key changed under us; whoever changed it won the race.
		return ErrConflict
	}
	return err
}

// Ping checks connectivity; used by the health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
