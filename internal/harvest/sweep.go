package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ChannelSweep walks the channel-wide comment feed as a single logical stream
// (stream id "chan::<channelID>"). The feed is strictly time-ordered across
// all of the channel's videos, so the sweep stops entirely at the first item
// older than the cutoff, a cheaper stopping rule than the per-video
// low-water-mark.
type ChannelSweep struct {
	feed    ChannelFeedSource
	cursors CursorStore
	meta    MetadataSource
	sink    Sink
	logger  *zap.Logger

	maxResults int64
}

// NewChannelSweep wires the sweep's collaborators.
func NewChannelSweep(
	feed ChannelFeedSource,
	cursors CursorStore,
	meta MetadataSource,
	sink Sink,
	maxResults int64,
	logger *zap.Logger,
) *ChannelSweep {
	if maxResults <= 0 {
		maxResults = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelSweep{
		feed:       feed,
		cursors:    cursors,
		meta:       meta,
		sink:       sink,
		maxResults: maxResults,
		logger:     logger,
	}
}

// Run sweeps one channel's combined feed. Records are flushed per page (the
// feed for a busy channel can be arbitrarily long) while the cursor is
// persisted after every page.
func (s *ChannelSweep) Run(ctx context.Context, channelID string, cutoff time.Time) (FetchResult, error) {
	streamID := ChannelStream(channelID)
	result := FetchResult{StreamID: streamID, Reason: StopCaughtUp}

	token, found, err := s.cursors.Get(ctx, streamID)
	if err != nil {
		return result, fmt.Errorf("read cursor for %s: %w", streamID, err)
	}
	if found && token == nil {
		s.logger.Debug("channel up to date, skipping", zap.String("channel_id", channelID))
		result.Reason = StopSkipped
		return result, nil
	}

	channelName, ok, err := s.meta.ChannelName(ctx, channelID)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return result, fmt.Errorf("resolve channel %s: %w", channelID, err)
	}
	if !ok || channelName == "" {
		s.logger.Warn("channel not found, skipping sweep", zap.String("channel_id", channelID))
		result.Reason = StopSkipped
		return result, nil
	}

	pageToken := ""
	if token != nil {
		pageToken = *token
	}
	prevToken := firstPassToken

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if pageToken == prevToken {
			s.logger.Warn("page token repeated, aborting sweep",
				zap.String("channel_id", channelID),
				zap.String("page_token", pageToken),
			)
			result.Reason = StopTokenLoop
			return result, nil
		}
		prevToken = pageToken

		page, err := s.feed.ChannelCommentPage(ctx, channelID, pageToken, s.maxResults)
		if errors.Is(err, ErrQuotaExhausted) {
			result.Reason = StopExhausted
			return result, err
		}
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return result, fmt.Errorf("fetch channel feed %s: %w", channelID, err)
		}
		if err != nil || len(page.Items) == 0 {
			s.saveCursor(ctx, streamID, nil)
			return result, nil
		}
		result.Pages++

		rows, reachedCutoff := s.collectPage(ctx, channelID, channelName, page.Items, cutoff)
		if len(rows) > 0 {
			stats, serr := s.sink.UpsertComments(ctx, rows)
			result.NewItems += len(rows)
			result.Stats.Add(stats)
			if serr != nil {
				s.logger.Error("sink flush failed",
					zap.String("channel_id", channelID),
					zap.Int("records", len(rows)),
					zap.Error(serr),
				)
			}
		}
		if reachedCutoff {
			// The feed is time-ordered: everything past this point is older
			// than the cutoff, so the whole sweep ends here.
			s.saveCursor(ctx, streamID, nil)
			return result, nil
		}

		if page.NextToken == "" {
			s.saveCursor(ctx, streamID, nil)
			return result, nil
		}
		s.saveCursor(ctx, streamID, &page.NextToken)
		pageToken = page.NextToken
	}
}

// collectPage enriches a page's items with batch metadata, dropping comments
// on videos that lack metadata or belong to another channel. The boolean
// reports whether an item older than the cutoff was encountered.
func (s *ChannelSweep) collectPage(
	ctx context.Context,
	channelID, channelName string,
	items []Comment,
	cutoff time.Time,
) ([]Comment, bool) {
	videoIDs := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.VideoID == "" {
			continue
		}
		if _, dup := seen[item.VideoID]; dup {
			continue
		}
		seen[item.VideoID] = struct{}{}
		videoIDs = append(videoIDs, item.VideoID)
	}

	meta, err := s.meta.BatchVideoMetadata(ctx, videoIDs)
	if err != nil {
		s.logger.Warn("batch metadata lookup failed",
			zap.String("channel_id", channelID), zap.Error(err))
		meta = nil
	}

	var rows []Comment
	for _, item := range items {
		if item.UpdatedAt.Before(cutoff) {
			return rows, true
		}
		vm, ok := meta[item.VideoID]
		if item.VideoID == "" || !ok {
			continue
		}
		if vm.ChannelID != channelID {
			continue
		}
		item.VideoTitle = vm.Title
		item.ChannelID = channelID
		item.ChannelName = channelName
		item.VideoPublishedAt = vm.PublishedAt
		rows = append(rows, item)
	}
	return rows, false
}

func (s *ChannelSweep) saveCursor(ctx context.Context, streamID string, token *string) {
	if err := s.cursors.Save(ctx, streamID, token); err != nil {
		s.logger.Error("save cursor failed", zap.String("stream_id", streamID), zap.Error(err))
	}
}
