package youtube

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/cache"
	"github.com/gamepulse/harvester/internal/harvest"
)

// metadataAPI is the slice of the API surface the metadata service needs.
// Narrow on purpose so tests can fake it.
type metadataAPI interface {
	videoSnippets(ctx context.Context, videoIDs []string) (map[string]harvest.VideoMeta, error)
	channelTitle(ctx context.Context, channelID string) (string, bool, error)
}

// MetadataService resolves video and channel metadata through the persistent
// cache, hitting the API only on misses.
type MetadataService struct {
	api    metadataAPI
	store  *cache.Store
	logger *zap.Logger
}

// NewMetadataService builds the cached metadata resolver.
func NewMetadataService(api *API, store *cache.Store, logger *zap.Logger) *MetadataService {
	return newMetadataService(api, store, logger)
}

func newMetadataService(api metadataAPI, store *cache.Store, logger *zap.Logger) *MetadataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataService{api: api, store: store, logger: logger}
}

// VideoMetadata resolves one video's metadata. The boolean is false when the
// video is unknown or the lookup failed softly.
func (m *MetadataService) VideoMetadata(ctx context.Context, videoID string) (harvest.VideoMeta, bool, error) {
	if meta, ok := m.store.Video(videoID); ok {
		return meta, true, nil
	}
	metas, err := m.api.videoSnippets(ctx, []string{videoID})
	if errors.Is(err, harvest.ErrUnavailable) {
		m.logger.Warn("video metadata unavailable", zap.String("video_id", videoID))
		return harvest.VideoMeta{}, false, nil
	}
	if err != nil {
		return harvest.VideoMeta{}, false, err
	}
	meta, ok := metas[videoID]
	if !ok {
		return harvest.VideoMeta{}, false, nil
	}
	m.store.PutVideo(videoID, meta)
	return meta, true, nil
}

// BatchVideoMetadata resolves metadata for many videos at once, serving what
// it can from cache and fetching the misses in chunks of 50. Unresolvable ids
// are simply absent from the result.
func (m *MetadataService) BatchVideoMetadata(ctx context.Context, videoIDs []string) (map[string]harvest.VideoMeta, error) {
	out := make(map[string]harvest.VideoMeta, len(videoIDs))
	var misses []string
	seen := make(map[string]struct{}, len(videoIDs))
	for _, id := range videoIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if meta, ok := m.store.Video(id); ok {
			out[id] = meta
			continue
		}
		misses = append(misses, id)
	}

	for start := 0; start < len(misses); start += channelChunkSize {
		end := start + channelChunkSize
		if end > len(misses) {
			end = len(misses)
		}
		metas, err := m.api.videoSnippets(ctx, misses[start:end])
		if errors.Is(err, harvest.ErrUnavailable) {
			m.logger.Warn("batch video metadata unavailable", zap.Int("count", end-start))
			continue
		}
		if err != nil {
			return nil, err
		}
		for id, meta := range metas {
			m.store.PutVideo(id, meta)
			out[id] = meta
		}
	}
	return out, nil
}

// ChannelName resolves a channel's display name through the cache.
func (m *MetadataService) ChannelName(ctx context.Context, channelID string) (string, bool, error) {
	if name, ok := m.store.ChannelName(channelID); ok {
		return name, true, nil
	}
	name, ok, err := m.api.channelTitle(ctx, channelID)
	if errors.Is(err, harvest.ErrUnavailable) {
		m.logger.Warn("channel name unavailable", zap.String("channel_id", channelID))
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	m.store.PutChannelName(channelID, name)
	return name, true, nil
}

var _ harvest.MetadataSource = (*MetadataService)(nil)
var _ harvest.PageSource = (*API)(nil)
var _ harvest.ChannelFeedSource = (*API)(nil)
var _ harvest.PlaylistSource = (*API)(nil)
var _ harvest.ChannelStats = (*API)(nil)
