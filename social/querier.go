package social

import (
	"context"
	"errors"
)

var (
	// ErrRowNotFound is returned when a single-row query matches nothing.
	ErrRowNotFound = errors.New("row not found")
)

// Querier is the remote query interface the accessors fetch through. The
// cache imposes nothing on it beyond "returns data or an error"; the
// production implementation talks to the hosted backend, tests script it.
type Querier interface {
	ProfileByID(ctx context.Context, id string) (*Profile, error)
	ProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error)
	PostByID(ctx context.Context, id string) (*Post, error)
	Posts(ctx context.Context, f PostFilter) ([]Post, error)
	LikeState(ctx context.Context, postID, viewerID string) (*LikeState, error)
	Notifications(ctx context.Context, userID string) ([]Notification, error)
	Conversations(ctx context.Context, userID string) ([]Conversation, error)
	GroupByID(ctx context.Context, id string) (*Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]GroupMember, error)
	EventByID(ctx context.Context, id string) (*Event, error)
	Followers(ctx context.Context, userID string) ([]Profile, error)
	MediaBlob(ctx context.Context, path string) ([]byte, error)
}
