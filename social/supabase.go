package social

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const defaultPostLimit = 50

// SupabaseQuerier implements Querier against the hosted backend's tables
// and storage buckets. The underlying client carries no context through its
// HTTP calls, so each method checks ctx before issuing the request.
type SupabaseQuerier struct {
	client      *supabase.Client
	mediaBucket string
}

func NewSupabaseQuerier(client *supabase.Client, mediaBucket string) *SupabaseQuerier {
	return &SupabaseQuerier{client: client, mediaBucket: mediaBucket}
}

func (q *SupabaseQuerier) ProfileByID(ctx context.Context, id string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []Profile
	_, err := q.client.From("profiles").
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("profiles query: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return &rows[0], nil
}

func (q *SupabaseQuerier) ProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []Profile
	_, err := q.client.From("profiles").
		Select("*", "", false).
		In("id", ids).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("profiles query: %w", err)
	}
	return rows, nil
}

func (q *SupabaseQuerier) PostByID(ctx context.Context, id string) (*Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []Post
	_, err := q.client.From("posts").
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("posts query: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return &rows[0], nil
}

func (q *SupabaseQuerier) Posts(ctx context.Context, f PostFilter) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := q.client.From("posts").Select("*", "", false)
	if f.AuthorID != "" {
		query = query.Eq("author_id", f.AuthorID)
	}
	if f.GroupID != "" {
		query = query.Eq("group_id", f.GroupID)
	}
	if f.EventID != "" {
		query = query.Eq("event_id", f.EventID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultPostLimit
	}

	var rows []Post
	_, err := query.
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("posts query: %w", err)
	}
	return rows, nil
}

// LikeState needs two queries: a head count of all likes, and a probe for
// the viewer's own like row.
func (q *SupabaseQuerier) LikeState(ctx context.Context, postID, viewerID string) (*LikeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, count, err := q.client.From("post_likes").
		Select("id", "exact", true).
		Eq("post_id", postID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("like count query: %w", err)
	}

	var mine []struct {
		ID string `json:"id"`
	}
	_, err = q.client.From("post_likes").
		Select("id", "", false).
		Eq("post_id", postID).
		Eq("user_id", viewerID).
		Limit(1, "").
		ExecuteTo(&mine)
	if err != nil {
		return nil, fmt.Errorf("viewer like query: %w", err)
	}

	return &LikeState{Count: count, Liked: len(mine) > 0}, nil
}

func (q *SupabaseQuerier) Notifications(ctx context.Context, userID string) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []Notification
	_, err := q.client.From("notifications").
		Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(100, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("notifications query: %w", err)
	}
	return rows, nil
}

func (q *SupabaseQuerier) Conversations(ctx context.Context, userID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var memberships []struct {
		ConversationID string `json:"conversation_id"`
	}
	_, err := q.client.From("conversation_members").
		Select("conversation_id", "", false).
		Eq("user_id", userID).
		ExecuteTo(&memberships)
	if err != nil {
		return nil, fmt.Errorf("conversation membership query: %w", err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.ConversationID)
	}

	var rows []Conversation
	_, err = q.client.From("conversations").
		Select("*", "", false).
		In("id", ids).
		Order("last_message_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("conversations query: %w", err)
	}
	return rows, nil
}

func (q *SupabaseQuerier) GroupByID(ctx context.Context, id string) (*Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []Group
	_, err := q.client.From("groups").
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("groups query: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return &rows[0], nil
}

func (q *SupabaseQuerier) EventByID(ctx context.Context, id string) (*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []Event
	_, err := q.client.From("events").
		Select("*", "", false).
		Eq("id", id).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("events query: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return &rows[0], nil
}

// Followers resolves the follower edges first, then the profiles behind
// them.
func (q *SupabaseQuerier) Followers(ctx context.Context, userID string) ([]Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var edges []struct {
		FollowerID string `json:"follower_id"`
	}
	_, err := q.client.From("follows").
		Select("follower_id", "", false).
		Eq("followee_id", userID).
		ExecuteTo(&edges)
	if err != nil {
		return nil, fmt.Errorf("follows query: %w", err)
	}
	if len(edges) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.FollowerID)
	}

	return q.ProfilesByIDs(ctx, ids)
}

func (q *SupabaseQuerier) GroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []GroupMember
	_, err := q.client.From("group_members").
		Select("*", "", false).
		Eq("group_id", groupID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("group members query: %w", err)
	}
	return rows, nil
}

func (q *SupabaseQuerier) MediaBlob(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blob, err := q.client.Storage.DownloadFile(q.mediaBucket, path)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	return blob, nil
}
