package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// StreamEnumerator discovers the per-video streams of a channel and feeds
// each to the IncrementalFetcher. Discovery prefers playlists whose titles
// match the keyword set, then a playlist search, then a keyword video search
// within the channel.
type StreamEnumerator struct {
	playlists PlaylistSource
	meta      MetadataSource
	fetcher   *IncrementalFetcher
	logger    *zap.Logger

	// IgnoreProgress forces every stream to restart from its first page,
	// bypassing stored cursors.
	IgnoreProgress bool
}

// NewStreamEnumerator wires the enumerator's collaborators.
func NewStreamEnumerator(
	playlists PlaylistSource,
	meta MetadataSource,
	fetcher *IncrementalFetcher,
	logger *zap.Logger,
) *StreamEnumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamEnumerator{
		playlists: playlists,
		meta:      meta,
		fetcher:   fetcher,
		logger:    logger,
	}
}

// Run enumerates and fetches all keyword-matching streams for one channel.
// Videos reachable from multiple playlists are processed once. A quota
// exhaustion aborts the rest of the channel's work and propagates.
func (e *StreamEnumerator) Run(ctx context.Context, channelID string, keywords []string) (FetchResult, error) {
	total := FetchResult{StreamID: ChannelStream(channelID), Reason: StopCaughtUp}

	matched, err := e.matchingPlaylists(ctx, channelID, keywords)
	if err != nil {
		return total, err
	}

	processed := make(map[string]struct{})

	if len(matched) == 0 {
		e.logger.Info("no matching playlists, falling back to video search",
			zap.String("channel_id", channelID))
		err := e.playlists.ForEachSearchVideo(ctx, channelID, strings.Join(keywords, " | "), func(videoID string) error {
			return e.fetchVideo(ctx, channelID, videoID, processed, &total)
		})
		if err != nil {
			return total, e.classify(err, &total)
		}
		return total, nil
	}

	for _, pl := range matched {
		e.logger.Info("processing playlist",
			zap.String("channel_id", channelID),
			zap.String("playlist_id", pl.ID),
			zap.String("title", pl.Title),
		)
		err := e.playlists.ForEachPlaylistVideo(ctx, pl.ID, func(videoID string) error {
			return e.fetchVideo(ctx, channelID, videoID, processed, &total)
		})
		if err != nil {
			return total, e.classify(err, &total)
		}
	}
	return total, nil
}

// matchingPlaylists lists the channel's playlists and keeps those whose title
// contains any keyword (case-insensitive substring). When none match it falls
// back to an API playlist search.
func (e *StreamEnumerator) matchingPlaylists(ctx context.Context, channelID string, keywords []string) ([]Playlist, error) {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	var matched []Playlist
	err := e.playlists.ForEachPlaylist(ctx, channelID, func(pl Playlist) error {
		title := strings.ToLower(pl.Title)
		for _, k := range lowered {
			if strings.Contains(title, k) {
				matched = append(matched, pl)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			return nil, err
		}
		return nil, fmt.Errorf("list playlists for %s: %w", channelID, err)
	}
	if len(matched) > 0 {
		return matched, nil
	}

	found, err := e.playlists.SearchPlaylists(ctx, channelID, strings.Join(keywords, " | "))
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			return nil, err
		}
		e.logger.Warn("playlist search failed", zap.String("channel_id", channelID), zap.Error(err))
		return nil, nil
	}
	return found, nil
}

func (e *StreamEnumerator) fetchVideo(
	ctx context.Context,
	channelID, videoID string,
	processed map[string]struct{},
	total *FetchResult,
) error {
	if _, done := processed[videoID]; done {
		return nil
	}
	processed[videoID] = struct{}{}

	meta, ok, err := e.meta.VideoMetadata(ctx, videoID)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		return err
	}
	if !ok {
		// A video without resolvable metadata is skipped entirely.
		e.logger.Warn("video metadata unavailable, skipping",
			zap.String("video_id", videoID))
		return nil
	}

	res, err := e.fetcher.FetchStream(ctx, StreamRequest{
		VideoID:        videoID,
		ChannelID:      channelID,
		Meta:           meta,
		IgnoreProgress: e.IgnoreProgress,
	})
	total.Pages += res.Pages
	total.NewItems += res.NewItems
	total.Stats.Add(res.Stats)
	if err != nil {
		return err
	}
	return nil
}

// classify maps a propagated error to the aggregate result's stop reason.
func (e *StreamEnumerator) classify(err error, total *FetchResult) error {
	if errors.Is(err, ErrQuotaExhausted) {
		total.Reason = StopExhausted
	}
	return err
}
