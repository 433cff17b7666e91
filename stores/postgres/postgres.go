package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lib/pq"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
	"github.com/velvetgalaxy/go-swr-cache/stores"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_entries_table.sql
	queryCreateEntriesTable string
	//go:embed create_media_table.sql
	queryCreateMediaTable string
	//go:embed upsert_entry.sql
	queryUpsertEntry string
	//go:embed fetch_entry.sql
	queryFetchEntry string
	//go:embed delete_entry.sql
	queryDeleteEntry string
	//go:embed delete_entries_by_tag.sql
	queryDeleteEntriesByTag string
	//go:embed delete_expired_entries.sql
	queryDeleteExpiredEntries string
	//go:embed clear_entries.sql
	queryClearEntries string
	//go:embed upsert_media.sql
	queryUpsertMedia string
	//go:embed fetch_media.sql
	queryFetchMedia string
	//go:embed delete_media.sql
	queryDeleteMedia string
	//go:embed clear_media.sql
	queryClearMedia string
)

// Config defines the configuration options for the PostgreSQL store.
type Config struct {
	// DeleteExpiredItems enables a background task that sweeps expired rows.
	// The Get path purges expired rows on access regardless; the sweep only
	// bounds the table size for keys nobody reads anymore.
	DeleteExpiredItems bool

	// SweepInterval defines how often the sweep task runs. Zero means
	// stores.DefaultSweepInterval.
	SweepInterval time.Duration

	// Logger receives sweep failures. Nil discards them.
	Logger *slog.Logger
}

// Store implements goswrcache.Store on PostgreSQL. Data entries and media
// blobs live in two tables; tags are a text[] column so a whole tag family
// can be deleted in one statement.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	now func() time.Time
}

// New verifies the database connection, creates the tables, and optionally
// starts the expired-row sweep. The sweep stops when ctx is done.
func New(ctx context.Context, db *sql.DB, config *Config) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	for _, q := range []string{queryCreateEntriesTable, queryCreateMediaTable} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if config != nil && config.Logger != nil {
		logger = config.Logger
	}

	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if config != nil && config.DeleteExpiredItems {
		interval := config.SweepInterval
		if interval <= 0 {
			interval = stores.DefaultSweepInterval
		}
		go s.sweepTask(ctx, interval)
	}

	return s, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	createdAt := s.now().UTC()

	_, err := s.db.ExecContext(ctx, queryUpsertEntry,
		key, data, pq.Array(tags), createdAt, createdAt.Add(ttl))
	if err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*goswrcache.Entry, error) {
	row := s.db.QueryRowContext(ctx, queryFetchEntry, key)

	var (
		data      []byte
		tags      pq.StringArray
		createdAt time.Time
		expiresAt time.Time
	)
	if err := row.Scan(&data, &tags, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goswrcache.ErrNotFound
		}
		return nil, errors.Join(stores.ErrUnavailable, err)
	}

	if !s.now().UTC().Before(expiresAt) {
		// Purge on access so an expired row is never observable.
		if _, err := s.db.ExecContext(ctx, queryDeleteEntry, key); err != nil {
			return nil, errors.Join(stores.ErrUnavailable, err)
		}
		return nil, goswrcache.ErrNotFound
	}

	return &goswrcache.Entry{
		Key:       key,
		Data:      data,
		Tags:      tags,
		Timestamp: createdAt,
		TTL:       expiresAt.Sub(createdAt),
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteEntry, key); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) DeleteTag(ctx context.Context, tag string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteEntriesByTag, tag); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	for _, q := range []string{queryClearEntries, queryClearMedia} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.Join(stores.ErrUnavailable, err)
		}
	}
	return nil
}

func (s *Store) SetMedia(ctx context.Context, key string, blob []byte) error {
	if _, err := s.db.ExecContext(ctx, queryUpsertMedia, key, blob, s.now().UTC()); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) GetMedia(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	if err := s.db.QueryRowContext(ctx, queryFetchMedia, key).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goswrcache.ErrNotFound
		}
		return nil, errors.Join(stores.ErrUnavailable, err)
	}
	return blob, nil
}

func (s *Store) DeleteMedia(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteMedia, key); err != nil {
		return errors.Join(stores.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) sweepTask(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.db.ExecContext(ctx, queryDeleteExpiredEntries, s.now().UTC()); err != nil {
				s.logger.WarnContext(ctx, "expired-entry sweep failed", "error", err)
			}
		}
	}
}
