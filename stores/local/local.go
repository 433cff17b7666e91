package local

import (
	"context"
	"slices"
	"sync"
	"time"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
)

type mediaEntry struct {
	blob      []byte
	timestamp time.Time
}

// Store is the in-memory implementation of goswrcache.Store. It backs tests
// and cache-less deployments; nothing survives a process restart.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*goswrcache.Entry
	media   map[string]mediaEntry

	now func() time.Time
}

func New() *Store {
	return NewWithTimeFunc(time.Now)
}

// NewWithTimeFunc injects the clock, for expiry tests.
func NewWithTimeFunc(now func() time.Time) *Store {
	return &Store{
		entries: make(map[string]*goswrcache.Entry),
		media:   make(map[string]mediaEntry),
		now:     now,
	}
}

func (s *Store) Set(_ context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	ent := &goswrcache.Entry{
		Key:       key,
		Data:      slices.Clone(data),
		Tags:      slices.Clone(tags),
		Timestamp: s.now(),
		TTL:       ttl,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = ent
	return nil
}

// Get returns the entry for key if present and unexpired. An expired entry
// is deleted before the miss is reported, so it is never observable.
func (s *Store) Get(_ context.Context, key string) (*goswrcache.Entry, error) {
	s.mu.RLock()
	ent, found := s.entries[key]
	s.mu.RUnlock()

	if !found {
		return nil, goswrcache.ErrNotFound
	}

	if ent.Expired(s.now()) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur == ent {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, goswrcache.ErrNotFound
	}

	cp := *ent
	cp.Data = slices.Clone(ent.Data)
	cp.Tags = slices.Clone(ent.Tags)
	return &cp, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *Store) DeleteTag(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, ent := range s.entries {
		if slices.Contains(ent.Tags, tag) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Clear empties both collections.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*goswrcache.Entry)
	s.media = make(map[string]mediaEntry)
	return nil
}

func (s *Store) SetMedia(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.media[key] = mediaEntry{blob: slices.Clone(blob), timestamp: s.now()}
	return nil
}

func (s *Store) GetMedia(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, found := s.media[key]
	if !found {
		return nil, goswrcache.ErrNotFound
	}
	return slices.Clone(m.blob), nil
}

func (s *Store) DeleteMedia(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.media, key)
	return nil
}

// Len reports the number of live data entries. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
