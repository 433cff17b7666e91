package goswrcache

import (
	"context"
	"slices"
)

// Invalidate evicts a single key from both tiers. The next Resolve for the
// key refetches, even within the same tick: any in-flight coalesced fetch is
// forgotten so it cannot hand the evicted value to later callers.
// Invalidating an absent key is a no-op.
func (r *Resolver) Invalidate(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	r.mu.Lock()
	if tk := r.tracked[key]; tk != nil {
		tk.data = nil
		tk.hasValue = false
		// An in-flight fetch for this key must not write its result back.
		tk.gen++
	}
	r.mu.Unlock()

	r.sf.Forget(key)

	if r.store == nil {
		return nil
	}
	return r.store.Delete(ctx, key)
}

// InvalidateTag evicts every key carrying the tag: tracked keys from the
// in-memory tier, and all tagged rows from the durable store. Tags are
// recorded at write time, so mutators can invalidate a whole family (e.g.
// every filtered post list) without knowing the exact keys.
func (r *Resolver) InvalidateTag(ctx context.Context, tag string) error {
	r.mu.Lock()
	var keys []string
	for key, tk := range r.tracked {
		if slices.Contains(tk.opts.Tags, tag) {
			tk.data = nil
			tk.hasValue = false
			tk.gen++
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.sf.Forget(key)
	}

	if r.store == nil {
		return nil
	}
	return r.store.DeleteTag(ctx, tag)
}

// InvalidateAll evicts everything from both tiers and stops all refresh
// timers. Used on sign-out or account switch so no cached data leaks across
// identities.
func (r *Resolver) InvalidateAll(ctx context.Context) error {
	r.mu.Lock()
	keys := make([]string, 0, len(r.tracked))
	for key, tk := range r.tracked {
		if tk.stopRefresh != nil {
			close(tk.stopRefresh)
			tk.stopRefresh = nil
		}
		keys = append(keys, key)
	}
	r.tracked = make(map[string]*trackedKey)
	r.mu.Unlock()

	for _, key := range keys {
		r.sf.Forget(key)
	}

	if r.store == nil {
		return nil
	}
	return r.store.Clear(ctx)
}
