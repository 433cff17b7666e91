package goswrcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the value for one key from the remote source. The cache
// treats it as opaque: it only requires that the result is serialized.
type FetchFunc func(ctx context.Context) ([]byte, error)

// ResolveOptions carry per-key policy. Zero durations fall back to the
// Resolver's Config.
type ResolveOptions struct {
	TTL  time.Duration
	Tags []string

	StaleAfter   time.Duration
	DedupeWindow time.Duration

	// RevalidateOnFocus and RevalidateOnReconnect opt the key into the
	// corresponding Resolver-wide triggers.
	RevalidateOnFocus     bool
	RevalidateOnReconnect bool

	// RefreshInterval, when positive, refetches the key on a fixed timer
	// regardless of staleness. Used for latency-sensitive data.
	RefreshInterval time.Duration
}

type trackedKey struct {
	fetch FetchFunc
	opts  ResolveOptions

	data       []byte
	resolvedAt time.Time
	hasValue   bool

	// gen is bumped by every invalidation of the key. A fetch carries the
	// generation it started under; a result whose generation is no longer
	// current must not be written back to either tier.
	gen uint64

	revalidating bool
	stopRefresh  chan struct{}
}

// Resolver is the single entry point callers use to obtain a value for a
// key. It de-duplicates concurrent fetches per key, serves
// stale-while-revalidate from its in-memory table and the durable Store
// beneath it, and retries failed fetches a bounded number of times.
//
// Storage failures are downgraded to misses and logged; only fetch failures
// reach callers, and a failed revalidation never evicts the last good value.
type Resolver struct {
	store  Store
	cfg    Config
	obs    Observer
	logger *slog.Logger
	now    func() time.Time

	sf singleflight.Group

	mu      sync.Mutex
	tracked map[string]*trackedKey
}

// NewResolver creates a Resolver on top of a durable store. The store may be
// nil, in which case only the in-memory tier is used. If now is nil,
// time.Now is used. If logger is nil, a no-op logger writing to io.Discard
// is used. If observer is nil, resolution outcomes are logged through the
// logger.
func NewResolver(store Store, opts *Config, now func() time.Time, logger *slog.Logger, observer Observer) *Resolver {
	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := DefaultConfig()
	if opts != nil {
		c = *opts
	}

	if observer == nil {
		observer = NewLogObserver(logger)
	}

	return &Resolver{
		store:   store,
		cfg:     c,
		obs:     observer,
		logger:  logger,
		now:     nowFunc,
		tracked: make(map[string]*trackedKey),
	}
}

// Resolve returns the value for key, consulting the in-memory table, then
// the durable store, then fetch. An empty key means "no data available yet":
// Resolve returns (nil, nil) immediately without fetching.
//
// A value older than its staleness threshold but within its TTL is returned
// immediately while exactly one background revalidation refreshes it.
func (r *Resolver) Resolve(ctx context.Context, key string, fetch FetchFunc, opts *ResolveOptions) ([]byte, error) {
	if key == "" {
		return nil, nil
	}

	o := r.normalize(opts)
	tk := r.track(key, fetch, o)

	now := r.now()
	r.mu.Lock()
	data, resolvedAt, hasValue := tk.data, tk.resolvedAt, tk.hasValue
	r.mu.Unlock()

	if hasValue {
		age := now.Sub(resolvedAt)
		switch {
		case age <= o.DedupeWindow:
			r.obs.Hit(key, TierMemory)
			return data, nil
		case age <= o.TTL:
			r.obs.Hit(key, TierMemory)
			if age > o.StaleAfter {
				r.revalidate(key)
			}
			r.ensureRefresh(key, o)
			return data, nil
		}
	}

	if r.store != nil {
		ent, err := r.store.Get(ctx, key)
		switch {
		case err == nil:
			r.obs.Hit(key, TierStore)
			r.rememberAt(key, ent.Data, ent.Timestamp)
			if ent.Age(now) > o.StaleAfter {
				r.revalidate(key)
			}
			r.ensureRefresh(key, o)
			return ent.Data, nil
		case !errors.Is(err, ErrNotFound):
			r.logger.WarnContext(ctx, "cache store read failed, treating as miss", "key", key, "error", err)
		}
	}

	r.obs.Miss(key)
	out, err := r.fetchThrough(ctx, key)
	if err != nil {
		return nil, err
	}
	r.ensureRefresh(key, o)
	return out, nil
}

// Prefetch warms the in-memory tier for a key the caller is about to need.
// It does not write to the durable store and is a no-op for an empty key or
// a key whose value is still within its TTL.
func (r *Resolver) Prefetch(ctx context.Context, key string, fetch FetchFunc, opts *ResolveOptions) error {
	if key == "" {
		return nil
	}

	o := r.normalize(opts)
	tk := r.track(key, fetch, o)

	now := r.now()
	r.mu.Lock()
	fresh := tk.hasValue && now.Sub(tk.resolvedAt) <= o.TTL
	r.mu.Unlock()
	if fresh {
		return nil
	}

	_, err, _ := r.sf.Do(key, func() (any, error) {
		r.mu.Lock()
		startGen := tk.gen
		r.mu.Unlock()

		data, err := fetch(ctx)
		if err != nil {
			r.obs.FetchError(key, err)
			return nil, err
		}

		r.mu.Lock()
		cur := r.tracked[key]
		invalidated := cur != tk || cur.gen != startGen
		r.mu.Unlock()
		if !invalidated {
			r.remember(key, data)
		}
		return data, nil
	})
	return err
}

// OnFocus revalidates every tracked key that opted in via
// ResolveOptions.RevalidateOnFocus. Intended to be called when the client
// regains focus.
func (r *Resolver) OnFocus() {
	for _, key := range r.keysWhere(func(o ResolveOptions) bool { return o.RevalidateOnFocus }) {
		r.revalidate(key)
	}
}

// OnReconnect revalidates every tracked key that opted in via
// ResolveOptions.RevalidateOnReconnect. Intended to be called when network
// connectivity returns.
func (r *Resolver) OnReconnect() {
	for _, key := range r.keysWhere(func(o ResolveOptions) bool { return o.RevalidateOnReconnect }) {
		r.revalidate(key)
	}
}

// Close stops all interval-refresh timers. Cached values stay usable.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tk := range r.tracked {
		if tk.stopRefresh != nil {
			close(tk.stopRefresh)
			tk.stopRefresh = nil
		}
	}
}

func (r *Resolver) normalize(opts *ResolveOptions) ResolveOptions {
	o := ResolveOptions{}
	if opts != nil {
		o = *opts
	}
	if o.TTL <= 0 {
		o.TTL = r.cfg.DefaultTTL
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = r.cfg.StaleAfter
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = r.cfg.DedupeWindow
	}
	return o
}

// track records the latest fetch function and options for a key so that
// background revalidation and the focus/reconnect triggers can refetch it.
func (r *Resolver) track(key string, fetch FetchFunc, o ResolveOptions) *trackedKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	tk := r.tracked[key]
	if tk == nil {
		tk = &trackedKey{}
		r.tracked[key] = tk
	}
	tk.fetch = fetch
	tk.opts = o
	return tk
}

func (r *Resolver) remember(key string, data []byte) {
	r.rememberAt(key, data, r.now())
}

// rememberAt records a value with an explicit write instant. Values read
// back from the durable store keep their original timestamp so staleness
// keeps counting from the real write.
func (r *Resolver) rememberAt(key string, data []byte, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tk := r.tracked[key]
	if tk == nil {
		return
	}
	tk.data = data
	tk.resolvedAt = at
	tk.hasValue = true
}

// fetchThrough performs the actual remote fetch for a key, coalescing
// concurrent callers through singleflight so at most one fetch per key is
// outstanding at any instant. The result is written through to the durable
// store with the key's TTL and tags, unless the key was invalidated while
// the fetch was in flight: the caller that started the fetch still gets the
// result, but neither tier keeps it.
func (r *Resolver) fetchThrough(ctx context.Context, key string) ([]byte, error) {
	v, err, _ := r.sf.Do(key, func() (any, error) {
		r.mu.Lock()
		tk := r.tracked[key]
		if tk == nil {
			r.mu.Unlock()
			return nil, ErrNotFound
		}
		fetch := tk.fetch
		o := tk.opts
		startGen := tk.gen
		r.mu.Unlock()

		data, err := r.fetchWithRetry(ctx, key, fetch)
		if err != nil {
			r.obs.FetchError(key, err)
			return nil, err
		}

		r.mu.Lock()
		cur := r.tracked[key]
		invalidated := cur != tk || cur.gen != startGen
		r.mu.Unlock()
		if invalidated {
			return data, nil
		}

		if r.store != nil {
			if serr := r.store.Set(ctx, key, data, o.TTL, o.Tags...); serr != nil {
				r.logger.WarnContext(ctx, "cache store write failed", "key", key, "error", serr)
			}
		}
		r.remember(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

// fetchWithRetry attempts fetch up to RetryAttempts times with a fixed
// RetryDelay between attempts. Context cancellation aborts both the attempt
// loop and the waits.
func (r *Resolver) fetchWithRetry(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	attempts := r.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := fetch(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err

		r.logger.DebugContext(ctx, "fetch attempt failed",
			"key", key,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.RetryDelay):
		}
	}

	return nil, fmt.Errorf("fetch %q: %d attempts exhausted: %w", key, attempts, lastErr)
}

// revalidate refetches a key in the background. At most one revalidation per
// key runs at a time; the previous value stays servable until the fetch
// succeeds, and stays servable anyway if it fails.
func (r *Resolver) revalidate(key string) {
	r.mu.Lock()
	tk := r.tracked[key]
	if tk == nil || tk.revalidating {
		r.mu.Unlock()
		return
	}
	tk.revalidating = true
	r.mu.Unlock()

	r.obs.Revalidate(key)

	go func() {
		defer func() {
			r.mu.Lock()
			tk.revalidating = false
			r.mu.Unlock()
		}()
		// Errors are already observed and logged inside fetchThrough.
		_, _ = r.fetchThrough(context.Background(), key)
	}()
}

// ensureRefresh starts the per-key interval refresh timer if the key asked
// for one and none is running yet.
func (r *Resolver) ensureRefresh(key string, o ResolveOptions) {
	if o.RefreshInterval <= 0 {
		return
	}

	r.mu.Lock()
	tk := r.tracked[key]
	if tk == nil || tk.stopRefresh != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	tk.stopRefresh = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(o.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.obs.Revalidate(key)
				_, _ = r.fetchThrough(context.Background(), key)
			}
		}
	}()
}

func (r *Resolver) keysWhere(match func(ResolveOptions) bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys []string
	for key, tk := range r.tracked {
		if tk.hasValue && match(tk.opts) {
			keys = append(keys, key)
		}
	}
	return keys
}
