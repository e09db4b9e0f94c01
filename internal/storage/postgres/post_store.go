package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/forum"
)

const upsertPostSQL = `
INSERT INTO forum_posts (
	thread_id,
	post_id,
	url,
	forum_name,
	game_version,
	expansion_name,
	patch_version,
	username,
	server,
	user_title,
	race,
	player_class,
	staff,
	comment_text,
	quoted_text,
	quote_count,
	reply_count,
	likes,
	date_created,
	date_updated
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (thread_id, post_id) DO UPDATE SET
	likes = EXCLUDED.likes,
	reply_count = EXCLUDED.reply_count,
	date_updated = EXCLUDED.date_updated
WHERE forum_posts.likes <> EXCLUDED.likes
   OR forum_posts.reply_count <> EXCLUDED.reply_count`

// PostStore persists forum posts, keyed by (thread_id, post_id). Re-crawled
// posts only update when their like or reply counts moved.
type PostStore struct {
	pool   Pool
	logger *zap.Logger
}

// NewPostStore wraps an existing pool.
func NewPostStore(pool Pool, logger *zap.Logger) (*PostStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostStore{pool: pool, logger: logger}, nil
}

// UpsertPosts writes a batch of posts and reports how many rows changed.
func (s *PostStore) UpsertPosts(ctx context.Context, posts []forum.Post) (int64, error) {
	batch := &pgx.Batch{}
	queued := 0
	for _, p := range posts {
		if !p.Valid() {
			s.logger.Warn("invalid forum post, skipping",
				zap.Int64("thread_id", p.ThreadID), zap.Int64("post_id", p.PostID))
			continue
		}
		batch.Queue(upsertPostSQL,
			p.ThreadID,
			p.PostID,
			p.URL,
			p.ForumName,
			p.GameVersion,
			p.Expansion,
			p.Patch,
			p.Username,
			p.Server,
			p.UserTitle,
			p.Race,
			p.PlayerClass,
			p.Staff,
			p.Text,
			strings.Join(p.Quotes, "|"),
			p.QuoteCount,
			p.ReplyCount,
			p.Likes,
			p.CreatedAt,
			p.UpdatedAt,
		)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	var changed int64
	results := s.pool.SendBatch(ctx, batch)
	for i := 0; i < queued; i++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return changed, fmt.Errorf("upsert forum posts: %w", err)
		}
		changed += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return changed, fmt.Errorf("close forum post batch: %w", err)
	}
	return changed, nil
}

var _ forum.PostSink = (*PostStore)(nil)
