package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/harvest"
)

// CursorStore persists one resume cursor row per logical stream. A NULL
// token means the stream is fully caught up; an absent row means it was
// never started.
type CursorStore struct {
	pool   Pool
	logger *zap.Logger
}

// NewCursorStore wraps an existing pool.
func NewCursorStore(pool Pool, logger *zap.Logger) (*CursorStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CursorStore{pool: pool, logger: logger}, nil
}

// Get reads the cursor for a stream.
func (s *CursorStore) Get(ctx context.Context, streamID string) (*string, bool, error) {
	var token *string
	err := s.pool.QueryRow(ctx,
		`SELECT page_token FROM fetch_progress WHERE stream_id = $1`,
		streamID,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cursor %s: %w", streamID, err)
	}
	return token, true, nil
}

// Save upserts the cursor for a stream. A nil token records "caught up".
func (s *CursorStore) Save(ctx context.Context, streamID string, token *string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO fetch_progress (stream_id, page_token, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (stream_id) DO UPDATE SET
	page_token = EXCLUDED.page_token,
	updated_at = NOW()`,
		streamID, token,
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", streamID, err)
	}
	return nil
}

// Exists reports whether a cursor row is present for the stream.
func (s *CursorStore) Exists(ctx context.Context, streamID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fetch_progress WHERE stream_id = $1)`,
		streamID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("cursor exists %s: %w", streamID, err)
	}
	return exists, nil
}

// PruneStale deletes cursor rows untouched since the cutoff. Old rows only
// cost a full first pass on the next run, so dropping them is safe.
func (s *CursorStore) PruneStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fetch_progress WHERE updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune stale cursors: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("pruned stale cursors", zap.Int64("rows", n))
		return n, nil
	}
	return 0, nil
}

var _ harvest.CursorStore = (*CursorStore)(nil)
