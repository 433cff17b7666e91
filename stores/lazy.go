package stores

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
)

// OpenFunc opens a concrete backend. It is called at most once.
type OpenFunc func(ctx context.Context) (goswrcache.Store, error)

// Lazy defers opening its backend until the first operation. Concurrent
// first callers all wait on the same open; there is never a duplicate open.
// If the open fails, Lazy degrades to a no-op store: every read is a miss
// and every write is dropped. Storage being unavailable is a soft failure,
// not a startup error.
type Lazy struct {
	open   OpenFunc
	logger *slog.Logger

	once  sync.Once
	store goswrcache.Store
}

// NewLazy wraps an OpenFunc. If logger is nil, a no-op logger is used.
func NewLazy(open OpenFunc, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Lazy{open: open, logger: logger}
}

func (l *Lazy) init(ctx context.Context) goswrcache.Store {
	l.once.Do(func() {
		s, err := l.open(ctx)
		if err != nil {
			l.logger.WarnContext(ctx, "cache backend unavailable, running without persistence", "error", err)
			l.store = Noop{}
			return
		}
		l.store = s
	})
	return l.store
}

func (l *Lazy) Set(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	return l.init(ctx).Set(ctx, key, data, ttl, tags...)
}

func (l *Lazy) Get(ctx context.Context, key string) (*goswrcache.Entry, error) {
	return l.init(ctx).Get(ctx, key)
}

func (l *Lazy) Delete(ctx context.Context, key string) error {
	return l.init(ctx).Delete(ctx, key)
}

func (l *Lazy) DeleteTag(ctx context.Context, tag string) error {
	return l.init(ctx).DeleteTag(ctx, tag)
}

func (l *Lazy) Clear(ctx context.Context) error {
	return l.init(ctx).Clear(ctx)
}

func (l *Lazy) SetMedia(ctx context.Context, key string, blob []byte) error {
	return l.init(ctx).SetMedia(ctx, key, blob)
}

func (l *Lazy) GetMedia(ctx context.Context, key string) ([]byte, error) {
	return l.init(ctx).GetMedia(ctx, key)
}

func (l *Lazy) DeleteMedia(ctx context.Context, key string) error {
	return l.init(ctx).DeleteMedia(ctx, key)
}

// Noop is the degraded-mode store: always a miss, writes dropped.
type Noop struct{}

func (Noop) Set(context.Context, string, []byte, time.Duration, ...string) error { return nil }

func (Noop) Get(context.Context, string) (*goswrcache.Entry, error) {
	return nil, goswrcache.ErrNotFound
}

func (Noop) Delete(context.Context, string) error    { return nil }
func (Noop) DeleteTag(context.Context, string) error { return nil }
func (Noop) Clear(context.Context) error             { return nil }

func (Noop) SetMedia(context.Context, string, []byte) error { return nil }

func (Noop) GetMedia(context.Context, string) ([]byte, error) {
	return nil, goswrcache.ErrNotFound
}

func (Noop) DeleteMedia(context.Context, string) error { return nil }
