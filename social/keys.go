package social

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// TTLs and refresh policy per data kind. Profiles change rarely; posts and
// like counts churn; notifications poll on a fixed interval because
// timeliness matters more than request volume there.
const (
	ProfileTTL       = 5 * time.Minute
	PostTTL          = 2 * time.Minute
	LikesTTL         = time.Minute
	LikesDedupe      = 5 * time.Second
	NotificationsTTL = time.Minute
	RefreshInterval  = 30 * time.Second
	ConversationTTL  = time.Minute
	GroupTTL         = 5 * time.Minute
	EventTTL         = 5 * time.Minute
	FollowersTTL     = 5 * time.Minute
)

// Logical tags recorded on entries at write time; mutation flows invalidate
// by tag instead of guessing key strings.
const (
	TagProfiles      = "profiles"
	TagPosts         = "posts"
	TagLikes         = "likes"
	TagNotifications = "notifications"
	TagConversations = "conversations"
	TagGroups        = "groups"
	TagEvents        = "events"
)

// Key builders are pure functions of their parameters: same parameters,
// same key. An empty required parameter yields the empty key, which the
// resolver treats as "do not fetch".

func ProfileKey(id string) string {
	if id == "" {
		return ""
	}
	return "profiles/" + id
}

// ProfileSetKey sorts the id set so order never affects the key.
func ProfileSetKey(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return "profiles/set/" + strings.Join(sorted, ",")
}

func PostKey(id string) string {
	if id == "" {
		return ""
	}
	return "posts/" + id
}

// PostListKey serializes every filter field in a fixed order, zero values
// included, so an absent filter and an explicit "no filter" produce the
// same key.
func PostListKey(f PostFilter) string {
	return fmt.Sprintf("posts/list/author=%s&event=%s&group=%s&limit=%d",
		f.AuthorID, f.EventID, f.GroupID, f.Limit)
}

// PostLikesKey is viewer-dependent: "liked" is per-viewer, so the viewer id
// is part of the key, never ambient state.
func PostLikesKey(postID, viewerID string) string {
	if postID == "" || viewerID == "" {
		return ""
	}
	return "posts/" + postID + "/likes/viewer/" + viewerID
}

func NotificationsKey(userID string) string {
	if userID == "" {
		return ""
	}
	return "notifications/" + userID
}

func ConversationsKey(userID string) string {
	if userID == "" {
		return ""
	}
	return "conversations/" + userID
}

func GroupKey(id string) string {
	if id == "" {
		return ""
	}
	return "groups/" + id
}

func GroupMembersKey(groupID string) string {
	if groupID == "" {
		return ""
	}
	return "groups/" + groupID + "/members"
}

func EventKey(id string) string {
	if id == "" {
		return ""
	}
	return "events/" + id
}

func FollowersKey(userID string) string {
	if userID == "" {
		return ""
	}
	return "profiles/" + userID + "/followers"
}

func MediaKey(path string) string {
	return path
}
