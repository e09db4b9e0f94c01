package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the tables and indexes the stores rely on. Kept as
// idempotent DDL so a fresh database self-initializes on first run.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS comments (
		comment_id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL,
		video_title TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		channel_name TEXT NOT NULL,
		video_published_at TIMESTAMPTZ NOT NULL,
		author TEXT NOT NULL,
		author_channel_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		like_count BIGINT NOT NULL DEFAULT 0,
		published_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_channel_likes
		ON comments (channel_id, like_count)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_channel_updated
		ON comments (channel_id, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_channel_video_updated
		ON comments (channel_id, video_id, updated_at DESC)`,

	`CREATE TABLE IF NOT EXISTS fetch_progress (
		stream_id TEXT PRIMARY KEY,
		page_token TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_progress_updated
		ON fetch_progress (updated_at)`,

	`CREATE TABLE IF NOT EXISTS forum_posts (
		thread_id BIGINT NOT NULL,
		post_id BIGINT NOT NULL,
		url TEXT NOT NULL,
		forum_name TEXT NOT NULL,
		game_version TEXT NOT NULL DEFAULT '',
		expansion_name TEXT NOT NULL DEFAULT '',
		patch_version TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL,
		server TEXT NOT NULL DEFAULT '',
		user_title TEXT NOT NULL DEFAULT '',
		race TEXT NOT NULL DEFAULT '',
		player_class TEXT NOT NULL DEFAULT '',
		staff BOOLEAN NOT NULL DEFAULT FALSE,
		comment_text TEXT NOT NULL,
		quoted_text TEXT NOT NULL DEFAULT '',
		quote_count INT NOT NULL DEFAULT 0,
		reply_count BIGINT NOT NULL DEFAULT 0,
		likes BIGINT NOT NULL DEFAULT 0,
		date_created TIMESTAMPTZ NOT NULL,
		date_updated TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (thread_id, post_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_forum_posts_forum_created
		ON forum_posts (forum_name, date_created)`,
}

// EnsureSchema applies the DDL statements in order.
func EnsureSchema(ctx context.Context, pool Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
