package goswrcache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("cache entry not found")
)

// Entry is the unit stored in the durable tier. Data is an opaque serialized
// payload; the cache never inspects it. Tags are recorded at write time so
// invalidation can iterate logical groups instead of parsing key strings.
type Entry struct {
	Key       string
	Data      []byte
	Tags      []string
	Timestamp time.Time
	TTL       time.Duration
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.Timestamp) > e.TTL
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Store is the durable key-value tier the Resolver reads and writes through.
// Implementations keep two independent collections: TTL-bound data entries
// and media blobs, which have no expiry and are only removed explicitly.
//
// Get must never return an expired entry; on finding one it deletes it and
// reports ErrNotFound. Delete and DeleteMedia are idempotent. Backend
// failures are reported as errors wrapping stores.ErrUnavailable so callers
// can downgrade them to a miss.
type Store interface {
	Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error
	Get(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) error
	DeleteTag(ctx context.Context, tag string) error
	Clear(ctx context.Context) error

	SetMedia(ctx context.Context, key string, blob []byte) error
	GetMedia(ctx context.Context, key string) ([]byte, error)
	DeleteMedia(ctx context.Context, key string) error
}
