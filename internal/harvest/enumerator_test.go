package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePlaylists serves scripted playlists and their videos.
type fakePlaylists struct {
	playlists      []Playlist
	searchResults  []Playlist
	playlistVideos map[string][]string
	searchVideos   []string
	searchQueries  []string
}

func (f *fakePlaylists) ForEachPlaylist(_ context.Context, _ string, fn func(Playlist) error) error {
	for _, pl := range f.playlists {
		if err := fn(pl); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePlaylists) SearchPlaylists(_ context.Context, _ string, query string) ([]Playlist, error) {
	f.searchQueries = append(f.searchQueries, query)
	return f.searchResults, nil
}

func (f *fakePlaylists) ForEachPlaylistVideo(_ context.Context, playlistID string, fn func(string) error) error {
	for _, id := range f.playlistVideos[playlistID] {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePlaylists) ForEachSearchVideo(_ context.Context, _ string, query string, fn func(string) error) error {
	f.searchQueries = append(f.searchQueries, query)
	for _, id := range f.searchVideos {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func newTestEnumerator(playlists *fakePlaylists, meta *fakeMetadata, sink *memSink) *StreamEnumerator {
	fetcher := NewIncrementalFetcher(
		&fakePageSource{pages: map[string]Page{
			"": {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}},
		}},
		newMemCursorStore(), &fakeRecency{}, sink, 100, baseTime, nil,
	)
	return NewStreamEnumerator(playlists, meta, fetcher, nil)
}

func TestEnumeratorMatchesPlaylistsByKeyword(t *testing.T) {
	t.Parallel()

	playlists := &fakePlaylists{
		playlists: []Playlist{
			{ID: "pl-1", Title: "WoW Highlights"},
			{ID: "pl-2", Title: "Cooking Videos"},
		},
		playlistVideos: map[string][]string{"pl-1": {"vid-1"}},
	}
	meta := &fakeMetadata{videos: map[string]VideoMeta{
		"vid-1": {Title: "V1", ChannelID: "chan-1", PublishedAt: baseTime},
	}}
	sink := &memSink{}

	enum := newTestEnumerator(playlists, meta, sink)
	res, err := enum.Run(context.Background(), "chan-1", []string{"wow"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Pages)
	require.Len(t, sink.stored(), 1)
	// The matched playlist short-circuits both fallbacks.
	require.Empty(t, playlists.searchQueries)
}

func TestEnumeratorDeduplicatesVideosAcrossPlaylists(t *testing.T) {
	t.Parallel()

	playlists := &fakePlaylists{
		playlists: []Playlist{
			{ID: "pl-1", Title: "WoW Part 1"},
			{ID: "pl-2", Title: "WoW Part 2"},
		},
		playlistVideos: map[string][]string{
			"pl-1": {"vid-shared"},
			"pl-2": {"vid-shared"},
		},
	}
	meta := &fakeMetadata{videos: map[string]VideoMeta{
		"vid-shared": {Title: "Shared", ChannelID: "chan-1", PublishedAt: baseTime},
	}}
	sink := &memSink{}

	enum := newTestEnumerator(playlists, meta, sink)
	res, err := enum.Run(context.Background(), "chan-1", []string{"wow"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Pages)
	require.Len(t, sink.stored(), 1)
}

func TestEnumeratorSkipsVideosWithoutMetadata(t *testing.T) {
	t.Parallel()

	playlists := &fakePlaylists{
		playlists:      []Playlist{{ID: "pl-1", Title: "WoW"}},
		playlistVideos: map[string][]string{"pl-1": {"vid-unknown"}},
	}
	sink := &memSink{}

	enum := newTestEnumerator(playlists, &fakeMetadata{}, sink)
	res, err := enum.Run(context.Background(), "chan-1", []string{"wow"})
	require.NoError(t, err)
	require.Zero(t, res.Pages)
	require.Empty(t, sink.stored())
}

func TestEnumeratorFallsBackToVideoSearch(t *testing.T) {
	t.Parallel()

	playlists := &fakePlaylists{
		playlists:    []Playlist{{ID: "pl-1", Title: "Unrelated"}},
		searchVideos: []string{"vid-search"},
	}
	meta := &fakeMetadata{videos: map[string]VideoMeta{
		"vid-search": {Title: "Found", ChannelID: "chan-1", PublishedAt: baseTime},
	}}
	sink := &memSink{}

	enum := newTestEnumerator(playlists, meta, sink)
	res, err := enum.Run(context.Background(), "chan-1", []string{"wow", "warcraft"})
	require.NoError(t, err)
	require.Len(t, sink.stored(), 1)
	require.Equal(t, 1, res.Pages)
	// Playlist search ran first, then the keyword video search.
	require.Equal(t, []string{"wow | warcraft", "wow | warcraft"}, playlists.searchQueries)
}
