//go:build !integration

package goswrcache_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
	"github.com/velvetgalaxy/go-swr-cache/stores/local"
)

func testTime() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

// clock is a mutable test clock shared by the resolver and the store.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: testTime()}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedFetch counts calls and delegates each to fn.
type scriptedFetch struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]byte, error)
}

func constFetch(v string) *scriptedFetch {
	return &scriptedFetch{fn: func(int) ([]byte, error) { return []byte(v), nil }}
}

func (s *scriptedFetch) Fetch(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

func (s *scriptedFetch) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() *goswrcache.Config {
	return &goswrcache.Config{
		DedupeWindow:  2 * time.Second,
		StaleAfter:    30 * time.Second,
		DefaultTTL:    5 * time.Minute,
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	}
}

func newTestResolver(t *testing.T, cfg *goswrcache.Config) (*goswrcache.Resolver, *local.Store, *clock) {
	t.Helper()

	clk := newClock()
	store := local.NewWithTimeFunc(clk.Now)
	if cfg == nil {
		cfg = fastConfig()
	}
	r := goswrcache.NewResolver(store, cfg, clk.Now, discardLogger(), nil)
	t.Cleanup(r.Close)
	return r, store, clk
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestResolveEmptyKey(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)
	fetch := constFetch("unused")

	data, err := r.Resolve(context.Background(), "", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil data for empty key, got %q", data)
	}
	if fetch.Calls() != 0 {
		t.Fatalf("expected no fetch for empty key, got %d calls", fetch.Calls())
	}
}

func TestResolveMissThenMemoryHit(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t, nil)
	fetch := constFetch("v1")
	ctx := context.Background()

	data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, &goswrcache.ResolveOptions{TTL: 5 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected v1, got %q", data)
	}

	// Write-through populated the durable tier.
	ent, err := store.Get(ctx, "profiles/u1")
	if err != nil {
		t.Fatalf("expected store entry after resolve: %v", err)
	}
	if string(ent.Data) != "v1" {
		t.Fatalf("expected v1 in store, got %q", ent.Data)
	}

	// Second resolve in the same tick is a memory hit.
	if _, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetch.Calls() != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", fetch.Calls())
	}
}

func TestResolveReadsThroughStore(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t, nil)
	ctx := context.Background()

	if err := store.Set(ctx, "profiles/u1", []byte(`{"username":"abc"}`), 5*time.Minute); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	fetch := constFetch("unused")
	data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"username":"abc"}` {
		t.Fatalf("expected seeded value, got %q", data)
	}
	if fetch.Calls() != 0 {
		t.Fatalf("expected no fetch on store hit, got %d calls", fetch.Calls())
	}
}

func TestResolveExpiredEverywhereRefetches(t *testing.T) {
	t.Parallel()

	r, store, clk := newTestResolver(t, nil)
	fetch := constFetch("v1")
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "posts/p1", fetch.Fetch, &goswrcache.ResolveOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(2 * time.Minute)

	if _, err := r.Resolve(ctx, "posts/p1", fetch.Fetch, &goswrcache.ResolveOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected refetch after expiry, got %d calls", fetch.Calls())
	}

	// The expired row must have been purged, not just skipped.
	clk.Advance(2 * time.Minute)
	if _, err := store.Get(ctx, "posts/p1"); !errors.Is(err, goswrcache.ErrNotFound) {
		t.Fatalf("expected purged entry, got err=%v", err)
	}
}

func TestResolveDeduplicatesConcurrentCallers(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)
	ctx := context.Background()

	release := make(chan struct{})
	fetch := &scriptedFetch{fn: func(int) ([]byte, error) {
		<-release
		return []byte("shared"), nil
	}}

	const callers = 8
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil)
			results <- string(data)
			errs <- err
		}()
	}

	waitFor(t, func() bool { return fetch.Calls() == 1 }, "expected the first fetch to start")
	close(release)
	wg.Wait()

	if fetch.Calls() != 1 {
		t.Fatalf("expected exactly 1 fetch for %d concurrent callers, got %d", callers, fetch.Calls())
	}
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("caller error: %v", err)
		}
		if got := <-results; got != "shared" {
			t.Fatalf("expected shared result, got %q", got)
		}
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	t.Parallel()

	r, _, clk := newTestResolver(t, nil)
	ctx := context.Background()

	release := make(chan struct{})
	fetch := &scriptedFetch{fn: func(call int) ([]byte, error) {
		if call == 1 {
			return []byte("v1"), nil
		}
		<-release
		return []byte("v2"), nil
	}}

	opts := &goswrcache.ResolveOptions{TTL: 5 * time.Minute, StaleAfter: 30 * time.Second}

	if _, err := r.Resolve(ctx, "posts/p1", fetch.Fetch, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Past the staleness threshold but inside the TTL.
	clk.Advance(time.Minute)

	data, err := r.Resolve(ctx, "posts/p1", fetch.Fetch, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected stale v1 served immediately, got %q", data)
	}

	waitFor(t, func() bool { return fetch.Calls() == 2 }, "expected one background revalidation")

	// A second stale read while the refetch is in flight must not start
	// another one.
	data, err = r.Resolve(ctx, "posts/p1", fetch.Fetch, opts)
	if err != nil || string(data) != "v1" {
		t.Fatalf("expected stale v1 during revalidation, got %q err=%v", data, err)
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected still 2 fetches, got %d", fetch.Calls())
	}

	close(release)
	waitFor(t, func() bool {
		data, err := r.Resolve(ctx, "posts/p1", fetch.Fetch, opts)
		return err == nil && string(data) == "v2"
	}, "expected revalidated value to become visible")
}

func TestRetryBound(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryAttempts = 3
	cfg.RetryDelay = 10 * time.Millisecond

	r, _, _ := newTestResolver(t, cfg)

	fetchErr := errors.New("backend down")
	fetch := &scriptedFetch{fn: func(int) ([]byte, error) { return nil, fetchErr }}

	start := time.Now()
	_, err := r.Resolve(context.Background(), "profiles/u1", fetch.Fetch, nil)
	elapsed := time.Since(start)

	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if fetch.Calls() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", fetch.Calls())
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected at least two retry delays, elapsed %v", elapsed)
	}
}

func TestFailedRevalidationKeepsPreviousValue(t *testing.T) {
	t.Parallel()

	r, _, clk := newTestResolver(t, nil)
	ctx := context.Background()

	fetch := &scriptedFetch{fn: func(call int) ([]byte, error) {
		if call == 1 {
			return []byte("good"), nil
		}
		return nil, fmt.Errorf("flaky backend on call %d", call)
	}}

	opts := &goswrcache.ResolveOptions{TTL: 5 * time.Minute, StaleAfter: 30 * time.Second}

	if _, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(time.Minute)

	data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, opts)
	if err != nil || string(data) != "good" {
		t.Fatalf("expected stale value while revalidating, got %q err=%v", data, err)
	}

	waitFor(t, func() bool { return fetch.Calls() >= 2 }, "expected the failing revalidation to run")

	// The failed revalidation must not evict the last good value.
	data, err = r.Resolve(ctx, "profiles/u1", fetch.Fetch, opts)
	if err != nil {
		t.Fatalf("unexpected error after failed revalidation: %v", err)
	}
	if string(data) != "good" {
		t.Fatalf("expected last good value retained, got %q", data)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)
	ctx := context.Background()

	fetch := &scriptedFetch{fn: func(call int) ([]byte, error) {
		return []byte(fmt.Sprintf("v%d", call)), nil
	}}

	if _, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Invalidate(ctx, "profiles/u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	// Same tick: the evicted value must not be reused.
	data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected fresh v2 after invalidation, got %q", data)
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected 2 fetches, got %d", fetch.Calls())
	}
}

func TestInvalidateDuringInFlightFetch(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := &scriptedFetch{fn: func(call int) ([]byte, error) {
		if call == 1 {
			close(started)
			<-release
			return []byte("pre-mutation"), nil
		}
		return []byte("post-mutation"), nil
	}}

	done := make(chan struct{})
	var first []byte
	var firstErr error
	go func() {
		defer close(done)
		first, firstErr = r.Resolve(ctx, "posts/p1", fetch.Fetch, nil)
	}()

	<-started
	if err := r.Invalidate(ctx, "posts/p1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(release)
	<-done

	// The caller that started before the mutation still gets its result.
	if firstErr != nil || string(first) != "pre-mutation" {
		t.Fatalf("expected pre-mutation for the in-flight caller, got %q err=%v", first, firstErr)
	}

	// The settled fetch must not have repopulated the durable tier.
	if _, err := store.Get(ctx, "posts/p1"); !errors.Is(err, goswrcache.ErrNotFound) {
		t.Fatalf("expected evicted store entry to stay evicted, got err=%v", err)
	}

	// The next resolve refetches instead of serving the evicted value.
	data, err := r.Resolve(ctx, "posts/p1", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "post-mutation" {
		t.Fatalf("expected post-mutation after invalidation, got %q", data)
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected a second fetch, got %d calls", fetch.Calls())
	}
}

func TestInvalidateAllDuringInFlightFetch(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := &scriptedFetch{fn: func(call int) ([]byte, error) {
		if call == 1 {
			close(started)
			<-release
			return []byte("user-a"), nil
		}
		return []byte("fresh"), nil
	}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Resolve(ctx, "profiles/a", fetch.Fetch, nil)
	}()

	<-started
	if err := r.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	close(release)
	<-done

	// Nothing from before the reset may survive in either tier.
	if store.Len() != 0 {
		t.Fatalf("expected empty store after InvalidateAll, %d entries remain", store.Len())
	}
	data, err := r.Resolve(ctx, "profiles/a", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "fresh" {
		t.Fatalf("expected fresh value after InvalidateAll, got %q", data)
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected a second fetch, got %d calls", fetch.Calls())
	}
}

func TestInvalidateDuringPrefetch(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := &scriptedFetch{fn: func(call int) ([]byte, error) {
		if call == 1 {
			close(started)
			<-release
			return []byte("pre-mutation"), nil
		}
		return []byte("post-mutation"), nil
	}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Prefetch(ctx, "profiles/u1", fetch.Fetch, nil)
	}()

	<-started
	if err := r.Invalidate(ctx, "profiles/u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(release)
	<-done

	// The prefetched value was evicted mid-flight and must not be served.
	data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "post-mutation" {
		t.Fatalf("expected refetch after invalidation, got %q", data)
	}
	if fetch.Calls() != 2 {
		t.Fatalf("expected a second fetch, got %d calls", fetch.Calls())
	}
}

func TestInvalidateMissingKeyIsNoop(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)

	if err := r.Invalidate(context.Background(), "never/seen"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := r.InvalidateTag(context.Background(), "never"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestInvalidateTag(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)
	ctx := context.Background()

	posts := &scriptedFetch{fn: func(call int) ([]byte, error) {
		return []byte(fmt.Sprintf("posts-v%d", call)), nil
	}}
	profile := constFetch("profile-v1")

	tagged := &goswrcache.ResolveOptions{Tags: []string{"posts"}}
	for _, key := range []string{"posts/list/a", "posts/list/b"} {
		if _, err := r.Resolve(ctx, key, posts.Fetch, tagged); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := r.Resolve(ctx, "profiles/u1", profile.Fetch, &goswrcache.ResolveOptions{Tags: []string{"profiles"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.InvalidateTag(ctx, "posts"); err != nil {
		t.Fatalf("invalidate tag: %v", err)
	}

	for _, key := range []string{"posts/list/a", "posts/list/b"} {
		if _, err := r.Resolve(ctx, key, posts.Fetch, tagged); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if posts.Calls() != 4 {
		t.Fatalf("expected both post lists refetched, got %d calls", posts.Calls())
	}

	// The untagged key is untouched.
	if _, err := r.Resolve(ctx, "profiles/u1", profile.Fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Calls() != 1 {
		t.Fatalf("expected profile untouched by posts invalidation, got %d calls", profile.Calls())
	}
}

func TestInvalidateAllIsolatesIdentities(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t, nil)
	ctx := context.Background()

	userA := constFetch("secret-of-a")
	if _, err := r.Resolve(ctx, "profiles/a", userA.Fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetMedia(ctx, "avatars/a.png", []byte{1, 2, 3}); err != nil {
		t.Fatalf("seed media: %v", err)
	}

	if err := r.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}

	if store.Len() != 0 {
		t.Fatalf("expected empty store after InvalidateAll, %d entries remain", store.Len())
	}
	if _, err := store.GetMedia(ctx, "avatars/a.png"); !errors.Is(err, goswrcache.ErrNotFound) {
		t.Fatalf("expected media cleared, got err=%v", err)
	}

	// User A's key must refetch, not serve the evicted value.
	if _, err := r.Resolve(ctx, "profiles/a", userA.Fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userA.Calls() != 2 {
		t.Fatalf("expected fresh fetch after InvalidateAll, got %d calls", userA.Calls())
	}
}

func TestOnFocusRevalidatesOptedInKeys(t *testing.T) {
	t.Parallel()

	r, _, clk := newTestResolver(t, nil)
	ctx := context.Background()

	likes := constFetch("likes")
	plain := constFetch("plain")

	if _, err := r.Resolve(ctx, "posts/p1/likes/viewer/u1", likes.Fetch, &goswrcache.ResolveOptions{RevalidateOnFocus: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Resolve(ctx, "profiles/u1", plain.Fetch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(10 * time.Second)
	r.OnFocus()

	waitFor(t, func() bool { return likes.Calls() == 2 }, "expected focus to revalidate the opted-in key")

	if plain.Calls() != 1 {
		t.Fatalf("expected non-opted-in key untouched, got %d calls", plain.Calls())
	}
}

func TestRefreshIntervalPollsAndStopsOnClose(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestResolver(t, nil)
	ctx := context.Background()

	fetch := constFetch("notifications")
	opts := &goswrcache.ResolveOptions{RefreshInterval: 10 * time.Millisecond}

	if _, err := r.Resolve(ctx, "notifications/u1", fetch.Fetch, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return fetch.Calls() >= 3 }, "expected interval refreshes")

	r.Close()
	time.Sleep(30 * time.Millisecond)
	settled := fetch.Calls()
	time.Sleep(50 * time.Millisecond)
	if fetch.Calls() != settled {
		t.Fatalf("expected no refreshes after Close, got %d -> %d", settled, fetch.Calls())
	}
}

func TestPrefetchWarmsMemoryOnly(t *testing.T) {
	t.Parallel()

	r, store, _ := newTestResolver(t, nil)
	ctx := context.Background()

	fetch := constFetch("warm")
	if err := r.Prefetch(ctx, "profiles/u1", fetch.Fetch, nil); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if fetch.Calls() != 1 {
		t.Fatalf("expected 1 prefetch call, got %d", fetch.Calls())
	}

	// Prefetch fills the memory tier, not the durable one.
	if _, err := store.Get(ctx, "profiles/u1"); !errors.Is(err, goswrcache.ErrNotFound) {
		t.Fatalf("expected durable tier untouched by prefetch, got err=%v", err)
	}

	data, err := r.Resolve(ctx, "profiles/u1", fetch.Fetch, nil)
	if err != nil || string(data) != "warm" {
		t.Fatalf("expected warmed value, got %q err=%v", data, err)
	}
	if fetch.Calls() != 1 {
		t.Fatalf("expected resolve to reuse prefetched value, got %d calls", fetch.Calls())
	}
}

func TestStoreFailureIsDowngradedToMiss(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := goswrcache.NewResolver(failingStore{}, fastConfig(), clk.Now, discardLogger(), nil)
	t.Cleanup(r.Close)

	fetch := constFetch("v1")
	data, err := r.Resolve(context.Background(), "profiles/u1", fetch.Fetch, nil)
	if err != nil {
		t.Fatalf("storage failure must not surface: %v", err)
	}
	if string(data) != "v1" {
		t.Fatalf("expected fetched value despite dead store, got %q", data)
	}
}

// failingStore errors on every operation, simulating a dead backend.
type failingStore struct{}

var errDead = errors.New("backend gone")

func (failingStore) Set(context.Context, string, []byte, time.Duration, ...string) error {
	return errDead
}

func (failingStore) Get(context.Context, string) (*goswrcache.Entry, error) { return nil, errDead }
func (failingStore) Delete(context.Context, string) error                   { return errDead }
func (failingStore) DeleteTag(context.Context, string) error                { return errDead }
func (failingStore) Clear(context.Context) error                            { return errDead }
func (failingStore) SetMedia(context.Context, string, []byte) error         { return errDead }
func (failingStore) GetMedia(context.Context, string) ([]byte, error)       { return nil, errDead }
func (failingStore) DeleteMedia(context.Context, string) error              { return errDead }
