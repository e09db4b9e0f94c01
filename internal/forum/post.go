// Package forum crawls Discourse-based game forums and normalizes thread
// posts into storable records.
package forum

import (
	"context"
	"strings"
	"time"
)

// Post is one normalized forum post.
type Post struct {
	ThreadID int64
	PostID   int64
	URL      string

	ForumName   string
	GameVersion string
	Expansion   string
	Patch       string

	Username    string
	Server      string
	UserTitle   string
	Race        string
	PlayerClass string
	Staff       bool

	Text       string
	Quotes     []string
	QuoteCount int
	ReplyCount int64
	Likes      int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Valid reports whether the post carries the fields required for storage.
func (p Post) Valid() bool {
	return p.ThreadID > 0 && p.PostID > 0 && p.Username != ""
}

// PostSink persists a batch of posts, returning how many rows changed.
type PostSink interface {
	UpsertPosts(ctx context.Context, posts []Post) (int64, error)
}

// SplitUsername separates a "Name-Server" style username into its parts. The
// server half is empty when the name carries none.
func SplitUsername(username string) (name, server string) {
	username = strings.TrimSpace(username)
	if idx := strings.Index(username, "-"); idx > 0 {
		return username[:idx], strings.TrimSpace(username[idx+1:])
	}
	return username, ""
}
