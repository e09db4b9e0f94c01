package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// firstPassToken is the sentinel compared against the first page token so the
// non-advancing-token guard never trips on the initial iteration.
const firstPassToken = "\x00first_pass"

// IncrementalFetcher drains one video's comment stream page by page, resuming
// from the persisted cursor and stopping at the low-water-mark.
type IncrementalFetcher struct {
	source  PageSource
	cursors CursorStore
	recency RecencyIndex
	sink    Sink
	logger  *zap.Logger

	maxResults     int64
	fallbackCutoff time.Time
}

// StreamRequest identifies one per-video stream to fetch.
type StreamRequest struct {
	VideoID   string
	ChannelID string
	// Meta may be zero-valued; the fetcher substitutes placeholder values so
	// a metadata outage never blocks comment ingestion.
	Meta           VideoMeta
	IgnoreProgress bool
}

// NewIncrementalFetcher wires the fetcher's collaborators.
func NewIncrementalFetcher(
	source PageSource,
	cursors CursorStore,
	recency RecencyIndex,
	sink Sink,
	maxResults int64,
	fallbackCutoff time.Time,
	logger *zap.Logger,
) *IncrementalFetcher {
	if maxResults <= 0 {
		maxResults = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IncrementalFetcher{
		source:         source,
		cursors:        cursors,
		recency:        recency,
		sink:           sink,
		maxResults:     maxResults,
		fallbackCutoff: fallbackCutoff,
		logger:         logger,
	}
}

// FetchStream pages through one video's comments. Cursor writes are durable
// after every page, so a crash resumes at the next unprocessed page. New
// records are accumulated in memory and flushed to the sink once per stream.
//
// Returns ErrQuotaExhausted (wrapped) when the client's credential pool is
// spent; the caller decides whether to abort the surrounding sweep.
func (f *IncrementalFetcher) FetchStream(ctx context.Context, req StreamRequest) (FetchResult, error) {
	result := FetchResult{StreamID: req.VideoID, Reason: StopCaughtUp}

	meta := f.fillMetaFallbacks(req)
	lowWater, err := f.lowWaterMark(ctx, req.ChannelID, req.VideoID)
	if err != nil {
		return result, fmt.Errorf("low-water-mark for %s: %w", req.VideoID, err)
	}

	pageToken := ""
	if !req.IgnoreProgress {
		if tok, found, err := f.cursors.Get(ctx, req.VideoID); err != nil {
			return result, fmt.Errorf("read cursor for %s: %w", req.VideoID, err)
		} else if found && tok != nil {
			pageToken = *tok
		}
	}

	prevToken := firstPassToken
	var pending []Comment

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Guard against an API returning a non-advancing cursor.
		if pageToken == prevToken {
			f.logger.Warn("page token repeated, aborting stream",
				zap.String("video_id", req.VideoID),
				zap.String("page_token", pageToken),
			)
			result.Reason = StopTokenLoop
			break
		}
		prevToken = pageToken

		page, err := f.source.CommentPage(ctx, PageRequest{
			VideoID:    req.VideoID,
			PageToken:  pageToken,
			MaxResults: f.maxResults,
		})
		if errors.Is(err, ErrQuotaExhausted) {
			result.Reason = StopExhausted
			f.flush(ctx, req.VideoID, pending, &result)
			return result, err
		}
		if err != nil && !errors.Is(err, ErrUnavailable) {
			f.flush(ctx, req.VideoID, pending, &result)
			return result, fmt.Errorf("fetch page for %s: %w", req.VideoID, err)
		}
		if err != nil || len(page.Items) == 0 {
			// Empty page, or a non-retryable failure treated as "no data
			// this call": the stream is considered caught up.
			if serr := f.cursors.Save(ctx, req.VideoID, nil); serr != nil {
				f.logger.Error("save caught-up cursor failed",
					zap.String("video_id", req.VideoID), zap.Error(serr))
			}
			break
		}
		result.Pages++

		// Scan the full page: items within one page are not guaranteed
		// sorted relative to the mark, so never short-circuit mid-page.
		for _, item := range page.Items {
			if !item.UpdatedAt.After(lowWater) {
				continue
			}
			if item.UpdatedAt.Before(meta.PublishedAt) {
				continue
			}
			item.VideoID = req.VideoID
			item.VideoTitle = meta.Title
			item.ChannelID = req.ChannelID
			item.ChannelName = meta.ChannelName
			item.VideoPublishedAt = meta.PublishedAt
			pending = append(pending, item)
		}

		// Persist the cursor before the continuation decision.
		if page.NextToken == "" {
			if serr := f.cursors.Save(ctx, req.VideoID, nil); serr != nil {
				f.logger.Error("save caught-up cursor failed",
					zap.String("video_id", req.VideoID), zap.Error(serr))
			}
			break
		}
		if serr := f.cursors.Save(ctx, req.VideoID, &page.NextToken); serr != nil {
			f.logger.Error("save cursor failed",
				zap.String("video_id", req.VideoID), zap.Error(serr))
		}
		pageToken = page.NextToken
	}

	f.flush(ctx, req.VideoID, pending, &result)
	return result, nil
}

func (f *IncrementalFetcher) fillMetaFallbacks(req StreamRequest) VideoMeta {
	meta := req.Meta
	if meta.Title == "" {
		meta.Title = fmt.Sprintf("Unknown Title (%s)", req.VideoID)
	}
	if meta.ChannelName == "" {
		meta.ChannelName = fmt.Sprintf("Unknown Channel (%s)", req.ChannelID)
	}
	if meta.PublishedAt.IsZero() {
		meta.PublishedAt = f.fallbackCutoff
	}
	return meta
}

func (f *IncrementalFetcher) lowWaterMark(ctx context.Context, channelID, videoID string) (time.Time, error) {
	mark, found, err := f.recency.MostRecentUpdatedAt(ctx, channelID, videoID)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return f.fallbackCutoff, nil
	}
	return mark, nil
}

func (f *IncrementalFetcher) flush(ctx context.Context, videoID string, pending []Comment, result *FetchResult) {
	result.NewItems = len(pending)
	if len(pending) == 0 {
		return
	}
	stats, err := f.sink.UpsertComments(ctx, pending)
	result.Stats.Add(stats)
	if err != nil {
		f.logger.Error("sink flush failed",
			zap.String("video_id", videoID),
			zap.Int("records", len(pending)),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("stream flushed",
		zap.String("video_id", videoID),
		zap.Int("records", len(pending)),
		zap.String("stats", stats.String()),
	)
}
