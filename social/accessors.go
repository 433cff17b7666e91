package social

import (
	"context"
	"encoding/json"

	goswrcache "github.com/velvetgalaxy/go-swr-cache"
)

// Accessors is the read surface UI code calls. It owns no state of its own:
// every method composes a key, a TTL, and a remote query, then hands them
// to the resolver. A missing required identity parameter (e.g. no signed-in
// user yet) yields the empty key, which resolves to the zero value with no
// remote call.
type Accessors struct {
	resolver *goswrcache.Resolver
	store    goswrcache.Store
	querier  Querier
}

// New wires the accessors. store carries media blobs and may be nil, in
// which case media reads always go remote.
func New(resolver *goswrcache.Resolver, store goswrcache.Store, querier Querier) *Accessors {
	return &Accessors{
		resolver: resolver,
		store:    store,
		querier:  querier,
	}
}

// resolveJSON runs one resolution with JSON as the serialization between
// the typed accessor and the byte-oriented cache tiers.
func resolveJSON[T any](ctx context.Context, r *goswrcache.Resolver, key string, opts *goswrcache.ResolveOptions, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return zero, nil
	}

	data, err := r.Resolve(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}, opts)
	if err != nil || data == nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, err
	}
	return out, nil
}

func (a *Accessors) Profile(ctx context.Context, id string) (*Profile, error) {
	return resolveJSON(ctx, a.resolver, ProfileKey(id), &goswrcache.ResolveOptions{
		TTL:  ProfileTTL,
		Tags: []string{TagProfiles},
	}, func(ctx context.Context) (*Profile, error) {
		return a.querier.ProfileByID(ctx, id)
	})
}

// Profiles resolves a set of profiles under one key; the id order does not
// affect the key.
func (a *Accessors) Profiles(ctx context.Context, ids []string) ([]Profile, error) {
	return resolveJSON(ctx, a.resolver, ProfileSetKey(ids), &goswrcache.ResolveOptions{
		TTL:  ProfileTTL,
		Tags: []string{TagProfiles},
	}, func(ctx context.Context) ([]Profile, error) {
		return a.querier.ProfilesByIDs(ctx, ids)
	})
}

func (a *Accessors) Post(ctx context.Context, id string) (*Post, error) {
	return resolveJSON(ctx, a.resolver, PostKey(id), &goswrcache.ResolveOptions{
		TTL:  PostTTL,
		Tags: []string{TagPosts},
	}, func(ctx context.Context) (*Post, error) {
		return a.querier.PostByID(ctx, id)
	})
}

func (a *Accessors) Posts(ctx context.Context, f PostFilter) ([]Post, error) {
	return resolveJSON(ctx, a.resolver, PostListKey(f), &goswrcache.ResolveOptions{
		TTL:  PostTTL,
		Tags: []string{TagPosts},
	}, func(ctx context.Context) ([]Post, error) {
		return a.querier.Posts(ctx, f)
	})
}

// PostLikes uses a short dedupe window and revalidates on focus: like
// counts churn fast, and "liked" is per-viewer, so the key is compound.
func (a *Accessors) PostLikes(ctx context.Context, postID, viewerID string) (*LikeState, error) {
	return resolveJSON(ctx, a.resolver, PostLikesKey(postID, viewerID), &goswrcache.ResolveOptions{
		TTL:               LikesTTL,
		DedupeWindow:      LikesDedupe,
		Tags:              []string{TagLikes},
		RevalidateOnFocus: true,
	}, func(ctx context.Context) (*LikeState, error) {
		return a.querier.LikeState(ctx, postID, viewerID)
	})
}

// Notifications refetches on a fixed interval regardless of staleness.
func (a *Accessors) Notifications(ctx context.Context, userID string) ([]Notification, error) {
	return resolveJSON(ctx, a.resolver, NotificationsKey(userID), &goswrcache.ResolveOptions{
		TTL:                   NotificationsTTL,
		Tags:                  []string{TagNotifications},
		RefreshInterval:       RefreshInterval,
		RevalidateOnReconnect: true,
	}, func(ctx context.Context) ([]Notification, error) {
		return a.querier.Notifications(ctx, userID)
	})
}

func (a *Accessors) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	return resolveJSON(ctx, a.resolver, ConversationsKey(userID), &goswrcache.ResolveOptions{
		TTL:  ConversationTTL,
		Tags: []string{TagConversations},
	}, func(ctx context.Context) ([]Conversation, error) {
		return a.querier.Conversations(ctx, userID)
	})
}

func (a *Accessors) Group(ctx context.Context, id string) (*Group, error) {
	return resolveJSON(ctx, a.resolver, GroupKey(id), &goswrcache.ResolveOptions{
		TTL:  GroupTTL,
		Tags: []string{TagGroups},
	}, func(ctx context.Context) (*Group, error) {
		return a.querier.GroupByID(ctx, id)
	})
}

func (a *Accessors) Event(ctx context.Context, id string) (*Event, error) {
	return resolveJSON(ctx, a.resolver, EventKey(id), &goswrcache.ResolveOptions{
		TTL:  EventTTL,
		Tags: []string{TagEvents},
	}, func(ctx context.Context) (*Event, error) {
		return a.querier.EventByID(ctx, id)
	})
}

// Followers keys on the followed user, not the viewer: the follower list is
// the same for everyone.
func (a *Accessors) Followers(ctx context.Context, userID string) ([]Profile, error) {
	return resolveJSON(ctx, a.resolver, FollowersKey(userID), &goswrcache.ResolveOptions{
		TTL:  FollowersTTL,
		Tags: []string{TagProfiles},
	}, func(ctx context.Context) ([]Profile, error) {
		return a.querier.Followers(ctx, userID)
	})
}

func (a *Accessors) GroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	return resolveJSON(ctx, a.resolver, GroupMembersKey(groupID), &goswrcache.ResolveOptions{
		TTL:  GroupTTL,
		Tags: []string{TagGroups},
	}, func(ctx context.Context) ([]GroupMember, error) {
		return a.querier.GroupMembers(ctx, groupID)
	})
}

// Media reads a blob through the media collection. Blobs carry no TTL; they
// stay until deleted explicitly or the cache is cleared. Storage failures
// never block the download.
func (a *Accessors) Media(ctx context.Context, path string) ([]byte, error) {
	key := MediaKey(path)
	if key == "" {
		return nil, nil
	}

	if a.store != nil {
		// Any read failure, degraded storage included, falls through to
		// the download.
		if blob, err := a.store.GetMedia(ctx, key); err == nil {
			return blob, nil
		}
	}

	blob, err := a.querier.MediaBlob(ctx, path)
	if err != nil {
		return nil, err
	}

	if a.store != nil {
		// Best effort; the blob is already in hand.
		_ = a.store.SetMedia(ctx, key, blob)
	}
	return blob, nil
}

// PrefetchProfile warms the in-memory tier for a profile the UI is about to
// render.
func (a *Accessors) PrefetchProfile(ctx context.Context, id string) error {
	return a.resolver.Prefetch(ctx, ProfileKey(id), func(ctx context.Context) ([]byte, error) {
		p, err := a.querier.ProfileByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(p)
	}, &goswrcache.ResolveOptions{TTL: ProfileTTL, Tags: []string{TagProfiles}})
}
