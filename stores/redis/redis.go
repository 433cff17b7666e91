// Package redis implements the durable cache tier on a Redis server. Data
// entries use native Redis TTLs; tag membership is tracked with one set per
// tag so tag invalidation never has to parse key strings.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
	"github.com/velvetgalaxy/go-swr-cache/stores"
)

type Config struct {
	// Prefix namespaces every key this store writes, so several caches can
	// share one Redis database.
	Prefix string
}

type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// persisted is the JSON envelope stored per data entry. The write instant
// and TTL travel with the payload so the resolver can judge staleness.
type persisted struct {
	Data      []byte    `json:"data"`
	Tags      []string  `json:"tags,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TTLMillis int64     `json:"ttl_ms"`
}

// New creates a Redis-backed store. It pings the server so a dead backend is
// caught at open time rather than on the first read.
func New(ctx context.Context, client *redis.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, stores.ValidationError{Reason: "nil client"}
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(stores.ErrUnavailable, err)
	}

	return &Store{
		client: client,
		prefix: config.Prefix,
		now:    time.Now,
	}, nil
}

func (s *Store) key(collection, k string) string {
	if s.prefix == "" {
		return collection + ":" + k
	}
	return s.prefix + ":" + collection + ":" + k
}

func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	env := persisted{
		Data:      data,
		Tags:      tags,
		Timestamp: s.now(),
		TTLMillis: ttl.Milliseconds(),
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key("data", key), payload, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, s.key("tag", tag), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*goswrcache.Entry, error) {
	payload, err := s.client.Get(ctx, s.key("data", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, goswrcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(stores.ErrUnavailable, err)
	}

	var env persisted
	if err := json.Unmarshal(payload, &env); err != nil {
		// Corrupt row: purge it and report a miss.
		_ = s.client.Del(ctx, s.key("data", key)).Err()
		return nil, goswrcache.ErrNotFound
	}

	ent := &goswrcache.Entry{
		Key:       key,
		Data:      env.Data,
		Tags:      env.Tags,
		Timestamp: env.Timestamp,
		TTL:       time.Duration(env.TTLMillis) * time.Millisecond,
	}

	// Redis expires the key on its own, but the envelope clock is
	// authoritative when the server clock drifts.
	if ent.Expired(s.now()) {
		_ = s.client.Del(ctx, s.key("data", key)).Err()
		return nil, goswrcache.ErrNotFound
	}

	return ent, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key("data", key)).Err(); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) DeleteTag(ctx context.Context, tag string) error {
	tagKey := s.key("tag", tag)

	members, err := s.client.SMembers(ctx, tagKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Join(stores.ErrUnavailable, err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, s.key("data", m))
	}
	keys = append(keys, tagKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

// Clear removes every key under this store's prefix, data and media alike.
func (s *Store) Clear(ctx context.Context) error {
	for _, collection := range []string{"data", "media", "tag"} {
		if err := s.clearCollection(ctx, collection); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) clearCollection(ctx context.Context, collection string) error {
	pattern := s.key(collection, "*")

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return errors.Join(stores.ErrUnavailable, err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Join(stores.ErrUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *Store) SetMedia(ctx context.Context, key string, blob []byte) error {
	// Media has no TTL: retained until explicit deletion or Clear.
	if err := s.client.Set(ctx, s.key("media", key), blob, 0).Err(); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) GetMedia(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.client.Get(ctx, s.key("media", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, goswrcache.ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(stores.ErrUnavailable, err)
	}
	return blob, nil
}

func (s *Store) DeleteMedia(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key("media", key)).Err(); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}
