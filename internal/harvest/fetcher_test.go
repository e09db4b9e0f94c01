package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testComment(id string, updated time.Time) Comment {
	return Comment{
		ID:          id,
		Author:      "someone",
		Text:        "text " + id,
		PublishedAt: updated,
		UpdatedAt:   updated,
	}
}

// fakePageSource serves scripted pages keyed by the requesting page token.
type fakePageSource struct {
	mu       sync.Mutex
	pages    map[string]Page
	errs     map[string]error
	requests []string
}

func (f *fakePageSource) CommentPage(_ context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.PageToken)
	if err, ok := f.errs[req.PageToken]; ok {
		return Page{}, err
	}
	return f.pages[req.PageToken], nil
}

// memCursorStore is an in-memory CursorStore.
type memCursorStore struct {
	mu     sync.Mutex
	rows   map[string]*string
	saves  []string
	tokens []*string
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{rows: map[string]*string{}}
}

func (m *memCursorStore) Get(_ context.Context, streamID string) (*string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, found := m.rows[streamID]
	return tok, found, nil
}

func (m *memCursorStore) Save(_ context.Context, streamID string, token *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[streamID] = token
	m.saves = append(m.saves, streamID)
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *memCursorStore) Exists(_ context.Context, streamID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, found := m.rows[streamID]
	return found, nil
}

// fakeRecency returns a fixed low-water-mark.
type fakeRecency struct {
	mark  time.Time
	found bool
}

func (f *fakeRecency) MostRecentUpdatedAt(context.Context, string, string) (time.Time, bool, error) {
	return f.mark, f.found, nil
}

// memSink collects every upserted comment.
type memSink struct {
	mu       sync.Mutex
	comments []Comment
	err      error
}

func (m *memSink) UpsertComments(_ context.Context, comments []Comment) (UpsertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return UpsertStats{}, m.err
	}
	m.comments = append(m.comments, comments...)
	return UpsertStats{Upserted: int64(len(comments))}, nil
}

func (m *memSink) stored() []Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Comment, len(m.comments))
	copy(out, m.comments)
	return out
}

func TestFetchStreamFiltersAtLowWaterMark(t *testing.T) {
	t.Parallel()

	mark := baseTime
	source := &fakePageSource{pages: map[string]Page{
		"": {Items: []Comment{
			testComment("new-1", mark.Add(2*time.Hour)),
			testComment("boundary", mark), // equal timestamps are not new
			testComment("old", mark.Add(-time.Hour)),
		}},
	}}
	cursors := newMemCursorStore()
	sink := &memSink{}

	f := NewIncrementalFetcher(source, cursors, &fakeRecency{mark: mark, found: true}, sink,
		100, baseTime.AddDate(-1, 0, 0), nil)

	res, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID:   "vid-1",
		ChannelID: "chan-1",
		Meta:      VideoMeta{Title: "T", ChannelName: "C", PublishedAt: mark.AddDate(0, -1, 0)},
	})
	require.NoError(t, err)
	require.Equal(t, StopCaughtUp, res.Reason)
	require.Equal(t, 1, res.Pages)

	stored := sink.stored()
	require.Len(t, stored, 1)
	require.Equal(t, "new-1", stored[0].ID)
	require.Equal(t, "vid-1", stored[0].VideoID)
	require.Equal(t, "T", stored[0].VideoTitle)

	// Final page saved a caught-up cursor.
	tok, found, err := cursors.Get(context.Background(), "vid-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, tok)
}

func TestFetchStreamScansFullPage(t *testing.T) {
	t.Parallel()

	// A new item after an old one in the same page must still be kept.
	mark := baseTime
	source := &fakePageSource{pages: map[string]Page{
		"": {Items: []Comment{
			testComment("old", mark.Add(-time.Hour)),
			testComment("new-after-old", mark.Add(time.Hour)),
		}},
	}}
	sink := &memSink{}
	f := NewIncrementalFetcher(source, newMemCursorStore(), &fakeRecency{mark: mark, found: true}, sink,
		100, baseTime.AddDate(-1, 0, 0), nil)

	_, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1",
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: mark.AddDate(0, -1, 0)},
	})
	require.NoError(t, err)
	require.Len(t, sink.stored(), 1)
	require.Equal(t, "new-after-old", sink.stored()[0].ID)
}

func TestFetchStreamResumesFromCursor(t *testing.T) {
	t.Parallel()

	source := &fakePageSource{pages: map[string]Page{
		"saved-token": {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}},
	}}
	cursors := newMemCursorStore()
	saved := "saved-token"
	require.NoError(t, cursors.Save(context.Background(), "vid-1", &saved))

	sink := &memSink{}
	f := NewIncrementalFetcher(source, cursors, &fakeRecency{}, sink, 100, baseTime, nil)

	_, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1",
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: baseTime},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"saved-token"}, source.requests)
	require.Len(t, sink.stored(), 1)
}

func TestFetchStreamIgnoreProgressStartsFresh(t *testing.T) {
	t.Parallel()

	source := &fakePageSource{pages: map[string]Page{
		"": {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}},
	}}
	cursors := newMemCursorStore()
	saved := "saved-token"
	require.NoError(t, cursors.Save(context.Background(), "vid-1", &saved))

	f := NewIncrementalFetcher(source, cursors, &fakeRecency{}, &memSink{}, 100, baseTime, nil)
	_, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1", IgnoreProgress: true,
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: baseTime},
	})
	require.NoError(t, err)
	require.Equal(t, []string{""}, source.requests)
}

func TestFetchStreamDetectsTokenLoop(t *testing.T) {
	t.Parallel()

	// The API keeps returning the same next token.
	loop := "loop-token"
	source := &fakePageSource{pages: map[string]Page{
		"":         {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}, NextToken: loop},
		loop:       {Items: []Comment{testComment("c2", baseTime.Add(2 * time.Hour))}, NextToken: loop},
		"never-hit": {},
	}}
	sink := &memSink{}
	f := NewIncrementalFetcher(source, newMemCursorStore(), &fakeRecency{}, sink, 100, baseTime, nil)

	res, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1",
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: baseTime},
	})
	require.NoError(t, err)
	require.Equal(t, StopTokenLoop, res.Reason)
	// Both pages seen before the loop was detected were kept.
	require.Len(t, sink.stored(), 2)
	require.Equal(t, []string{"", loop}, source.requests)
}

func TestFetchStreamQuotaExhaustionFlushesAndKeepsCursor(t *testing.T) {
	t.Parallel()

	next := "page-2"
	source := &fakePageSource{
		pages: map[string]Page{
			"": {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}, NextToken: next},
		},
		errs: map[string]error{
			next: fmt.Errorf("%w: 2 keys cycled", ErrQuotaExhausted),
		},
	}
	cursors := newMemCursorStore()
	sink := &memSink{}
	f := NewIncrementalFetcher(source, cursors, &fakeRecency{}, sink, 100, baseTime, nil)

	res, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1",
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: baseTime},
	})
	require.ErrorIs(t, err, ErrQuotaExhausted)
	require.Equal(t, StopExhausted, res.Reason)
	require.Len(t, sink.stored(), 1)

	// The cursor still points at the unfetched page so the next run resumes.
	tok, found, gerr := cursors.Get(context.Background(), "vid-1")
	require.NoError(t, gerr)
	require.True(t, found)
	require.NotNil(t, tok)
	require.Equal(t, next, *tok)
}

func TestFetchStreamUnavailableMarksCaughtUp(t *testing.T) {
	t.Parallel()

	source := &fakePageSource{errs: map[string]error{
		"": fmt.Errorf("%w: status 404", ErrUnavailable),
	}}
	cursors := newMemCursorStore()
	f := NewIncrementalFetcher(source, cursors, &fakeRecency{}, &memSink{}, 100, baseTime, nil)

	res, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1",
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: baseTime},
	})
	require.NoError(t, err)
	require.Equal(t, StopCaughtUp, res.Reason)

	tok, found, gerr := cursors.Get(context.Background(), "vid-1")
	require.NoError(t, gerr)
	require.True(t, found)
	require.Nil(t, tok)
}

func TestFetchStreamMetaFallbacks(t *testing.T) {
	t.Parallel()

	source := &fakePageSource{pages: map[string]Page{
		"": {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}},
	}}
	sink := &memSink{}
	f := NewIncrementalFetcher(source, newMemCursorStore(), &fakeRecency{}, sink, 100, baseTime, nil)

	_, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-9", ChannelID: "chan-9",
	})
	require.NoError(t, err)
	stored := sink.stored()
	require.Len(t, stored, 1)
	require.Equal(t, "Unknown Title (vid-9)", stored[0].VideoTitle)
	require.Equal(t, "Unknown Channel (chan-9)", stored[0].ChannelName)
	require.Equal(t, baseTime, stored[0].VideoPublishedAt)
}

func TestFetchStreamCursorSavedPerPage(t *testing.T) {
	t.Parallel()

	source := &fakePageSource{pages: map[string]Page{
		"":   {Items: []Comment{testComment("c1", baseTime.Add(time.Hour))}, NextToken: "p2"},
		"p2": {Items: []Comment{testComment("c2", baseTime.Add(2 * time.Hour))}},
	}}
	cursors := newMemCursorStore()
	f := NewIncrementalFetcher(source, cursors, &fakeRecency{}, &memSink{}, 100, baseTime, nil)

	_, err := f.FetchStream(context.Background(), StreamRequest{
		VideoID: "vid-1", ChannelID: "chan-1",
		Meta: VideoMeta{Title: "T", ChannelName: "C", PublishedAt: baseTime},
	})
	require.NoError(t, err)
	require.Len(t, cursors.tokens, 2)
	require.NotNil(t, cursors.tokens[0])
	require.Equal(t, "p2", *cursors.tokens[0])
	require.Nil(t, cursors.tokens[1])
}

func TestFetchStreamContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewIncrementalFetcher(&fakePageSource{}, newMemCursorStore(), &fakeRecency{}, &memSink{}, 100, baseTime, nil)
	_, err := f.FetchStream(ctx, StreamRequest{VideoID: "vid-1", ChannelID: "chan-1"})
	require.True(t, errors.Is(err, context.Canceled))
}
