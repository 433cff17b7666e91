// Package social provides the typed cache accessors the Velvet Galaxy web
// client reads through: profiles, posts, like state, notifications,
// conversations, and media. Each accessor binds a deterministic cache key, a
// TTL matched to the data's volatility, and a remote query, then delegates
// to the resolver.
package social

import "time"

type Profile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Bio         string    `json:"bio"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	GroupID   string    `json:"group_id"`
	EventID   string    `json:"event_id"`
	Body      string    `json:"body"`
	MediaURLs []string  `json:"media_urls"`
	CreatedAt time.Time `json:"created_at"`
}

// PostFilter narrows a post-list query. The zero value means "no filter"
// and produces the same cache key as any other way of asking for
// everything.
type PostFilter struct {
	AuthorID string `json:"author_id"`
	GroupID  string `json:"group_id"`
	EventID  string `json:"event_id"`
	Limit    int    `json:"limit"`
}

// LikeState is per-viewer: the total count plus whether this viewer liked
// the post.
type LikeState struct {
	Count int64 `json:"count"`
	Liked bool  `json:"liked"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	ActorID   string    `json:"actor_id"`
	TargetID  string    `json:"target_id"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Event struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at"`
}

type GroupMember struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}
