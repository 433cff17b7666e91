package social

import "context"

// Mutation flows (post create/delete, like/unlike, profile edit, sign-out)
// call these to force freshness without waiting for TTL expiry.

// InvalidatePosts evicts every cached post and post list. Used after any
// post mutation: the mutator cannot know which filtered lists the change
// affects, so the whole tag goes.
func (a *Accessors) InvalidatePosts(ctx context.Context) error {
	return a.resolver.InvalidateTag(ctx, TagPosts)
}

func (a *Accessors) InvalidateProfile(ctx context.Context, id string) error {
	return a.resolver.Invalidate(ctx, ProfileKey(id))
}

func (a *Accessors) InvalidatePostLikes(ctx context.Context, postID, viewerID string) error {
	return a.resolver.Invalidate(ctx, PostLikesKey(postID, viewerID))
}

func (a *Accessors) InvalidateNotifications(ctx context.Context, userID string) error {
	return a.resolver.Invalidate(ctx, NotificationsKey(userID))
}

// Reset evicts everything in both tiers. Called on sign-out or account
// switch so cached data never leaks across identities.
func (a *Accessors) Reset(ctx context.Context) error {
	return a.resolver.InvalidateAll(ctx)
}
