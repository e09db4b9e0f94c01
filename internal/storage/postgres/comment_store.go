package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/harvest"
	"github.com/gamepulse/harvester/internal/metrics"
)

// upsertBatchSize caps how many statements go into a single batch round trip.
const upsertBatchSize = 1000

const upsertCommentSQL = `
INSERT INTO comments (
	comment_id,
	video_id,
	video_title,
	channel_id,
	channel_name,
	video_published_at,
	author,
	author_channel_id,
	text,
	like_count,
	published_at,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (comment_id) DO UPDATE SET
	video_title = EXCLUDED.video_title,
	channel_name = EXCLUDED.channel_name,
	author = EXCLUDED.author,
	text = EXCLUDED.text,
	like_count = EXCLUDED.like_count,
	updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.updated_at > comments.updated_at`

// CommentStore writes normalized comment records into Postgres, keyed by the
// upstream comment id so replayed pages stay idempotent.
type CommentStore struct {
	pool   Pool
	logger *zap.Logger
}

// NewCommentStore wraps an existing pool.
func NewCommentStore(pool Pool, logger *zap.Logger) (*CommentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentStore{pool: pool, logger: logger}, nil
}

// UpsertComments writes a batch of comments. Records failing validation are
// dropped with a warning and counted as skipped; an already-stored record
// with an equal or newer updated_at also counts as skipped.
func (s *CommentStore) UpsertComments(ctx context.Context, comments []harvest.Comment) (harvest.UpsertStats, error) {
	var stats harvest.UpsertStats

	valid := make([]harvest.Comment, 0, len(comments))
	for _, c := range comments {
		if !c.Valid() {
			s.logger.Warn("invalid comment record, skipping", zap.String("comment_id", c.ID))
			stats.Skipped++
			continue
		}
		valid = append(valid, c)
	}

	// A failed batch is isolated: it is logged and later batches still run.
	var firstErr error
	for start := 0; start < len(valid); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]

		batch := &pgx.Batch{}
		for _, c := range chunk {
			batch.Queue(upsertCommentSQL,
				c.ID,
				c.VideoID,
				c.VideoTitle,
				c.ChannelID,
				c.ChannelName,
				c.VideoPublishedAt,
				c.Author,
				c.AuthorChannelID,
				c.Text,
				c.LikeCount,
				c.PublishedAt,
				c.UpdatedAt,
			)
		}

		results := s.pool.SendBatch(ctx, batch)
		var batchErr error
		for range chunk {
			tag, err := results.Exec()
			if err != nil {
				batchErr = err
				break
			}
			if tag.RowsAffected() > 0 {
				stats.Upserted++
			} else {
				stats.Skipped++
			}
		}
		if err := results.Close(); err != nil && batchErr == nil {
			batchErr = err
		}
		if batchErr != nil {
			s.logger.Error("comment batch failed",
				zap.Int("batch_size", len(chunk)),
				zap.String("first_comment_id", chunk[0].ID),
				zap.Error(batchErr),
			)
			if firstErr == nil {
				firstErr = batchErr
			}
		}
	}

	metrics.AddCommentsUpserted(stats.Upserted)
	if firstErr != nil {
		return stats, fmt.Errorf("upsert comments: %w", firstErr)
	}
	return stats, nil
}

// MostRecentUpdatedAt reports the newest stored updated_at for a channel, or
// for one of its videos when videoID is non-empty. The boolean is false when
// nothing is stored yet.
func (s *CommentStore) MostRecentUpdatedAt(ctx context.Context, channelID, videoID string) (time.Time, bool, error) {
	var (
		query string
		args  []any
	)
	if videoID == "" {
		query = `SELECT MAX(updated_at) FROM comments WHERE channel_id = $1`
		args = []any{channelID}
	} else {
		query = `SELECT MAX(updated_at) FROM comments WHERE channel_id = $1 AND video_id = $2`
		args = []any{channelID, videoID}
	}

	var ts *time.Time
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&ts); err != nil {
		return time.Time{}, false, fmt.Errorf("most recent updated_at: %w", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return ts.UTC(), true, nil
}

var (
	_ harvest.Sink         = (*CommentStore)(nil)
	_ harvest.RecencyIndex = (*CommentStore)(nil)
)
