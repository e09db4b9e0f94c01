package youtube

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gamepulse/harvester/internal/cache"
	"github.com/gamepulse/harvester/internal/harvest"
)

// fakeMetadataAPI counts upstream lookups so tests can assert cache behavior.
type fakeMetadataAPI struct {
	mu           sync.Mutex
	videos       map[string]harvest.VideoMeta
	channels     map[string]string
	videoCalls   int
	channelCalls int
}

func (f *fakeMetadataAPI) videoSnippets(_ context.Context, videoIDs []string) (map[string]harvest.VideoMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoCalls++
	out := make(map[string]harvest.VideoMeta)
	for _, id := range videoIDs {
		if meta, ok := f.videos[id]; ok {
			out[id] = meta
		}
	}
	return out, nil
}

func (f *fakeMetadataAPI) channelTitle(_ context.Context, channelID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelCalls++
	name, ok := f.channels[channelID]
	return name, ok, nil
}

func TestVideoMetadataCachesHits(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeMetadataAPI{videos: map[string]harvest.VideoMeta{
		"vid-1": {Title: "One", ChannelID: "chan-1", PublishedAt: published},
	}}
	svc := newMetadataService(api, cache.NewStore("", 16, nil), nil)

	meta, ok, err := svc.VideoMetadata(context.Background(), "vid-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "One", meta.Title)

	_, ok, err = svc.VideoMetadata(context.Background(), "vid-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, api.videoCalls)
}

func TestVideoMetadataUnknownVideo(t *testing.T) {
	t.Parallel()

	svc := newMetadataService(&fakeMetadataAPI{}, cache.NewStore("", 16, nil), nil)
	_, ok, err := svc.VideoMetadata(context.Background(), "vid-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBatchVideoMetadataMixesCacheAndFetch(t *testing.T) {
	t.Parallel()

	api := &fakeMetadataAPI{videos: map[string]harvest.VideoMeta{
		"vid-1": {Title: "One", ChannelID: "chan-1"},
		"vid-2": {Title: "Two", ChannelID: "chan-1"},
	}}
	store := cache.NewStore("", 16, nil)
	svc := newMetadataService(api, store, nil)

	// Warm vid-1 so only vid-2 needs the API.
	_, _, err := svc.VideoMetadata(context.Background(), "vid-1")
	require.NoError(t, err)
	require.Equal(t, 1, api.videoCalls)

	out, err := svc.BatchVideoMetadata(context.Background(), []string{"vid-1", "vid-2", "vid-2", "vid-gone"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "One", out["vid-1"].Title)
	require.Equal(t, "Two", out["vid-2"].Title)
	require.Equal(t, 2, api.videoCalls)
}

func TestChannelNameCachesHits(t *testing.T) {
	t.Parallel()

	api := &fakeMetadataAPI{channels: map[string]string{"chan-1": "Channel One"}}
	svc := newMetadataService(api, cache.NewStore("", 16, nil), nil)

	name, ok, err := svc.ChannelName(context.Background(), "chan-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Channel One", name)

	_, _, err = svc.ChannelName(context.Background(), "chan-1")
	require.NoError(t, err)
	require.Equal(t, 1, api.channelCalls)

	_, ok, err = svc.ChannelName(context.Background(), "chan-missing")
	require.NoError(t, err)
	require.False(t, ok)
}
