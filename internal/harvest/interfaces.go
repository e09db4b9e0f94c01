package harvest

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExhausted is returned by a PageSource when every credential in the
// pool hit its quota. It is a distinguished condition: callers stop issuing
// requests for the affected channel instead of retrying.
var ErrQuotaExhausted = errors.New("api credential pool exhausted")

// ErrUnavailable marks a call that failed in a non-retryable way (permanent
// HTTP error, malformed response, retries spent). Callers treat it as "no
// data this call".
var ErrUnavailable = errors.New("api call returned no data")

// ErrStopEnumeration can be returned from an enumeration callback to end the
// iteration early without surfacing an error.
var ErrStopEnumeration = errors.New("stop enumeration")

// PageRequest identifies one page of a per-video comment stream.
type PageRequest struct {
	VideoID    string
	PageToken  string
	MaxResults int64
}

// PageSource fetches comment pages for a single video stream.
type PageSource interface {
	CommentPage(ctx context.Context, req PageRequest) (Page, error)
}

// ChannelFeedSource fetches pages of the channel-wide comment feed (all
// threads related to a channel, newest first).
type ChannelFeedSource interface {
	ChannelCommentPage(ctx context.Context, channelID, pageToken string, maxResults int64) (Page, error)
}

// CursorStore persists the resume cursor per logical stream. A stored nil
// token means "fully caught up"; a missing row means "never started".
type CursorStore interface {
	Get(ctx context.Context, streamID string) (token *string, found bool, err error)
	Save(ctx context.Context, streamID string, token *string) error
	Exists(ctx context.Context, streamID string) (bool, error)
}

// RecencyIndex reports the timestamp of the most recently stored comment for
// a (channel, video) pair: the low-water-mark below which items are assumed
// already persisted.
type RecencyIndex interface {
	MostRecentUpdatedAt(ctx context.Context, channelID, videoID string) (time.Time, bool, error)
}

// Sink idempotently writes a batch of normalized records keyed by comment id.
type Sink interface {
	UpsertComments(ctx context.Context, comments []Comment) (UpsertStats, error)
}

// MetadataSource resolves video and channel metadata, typically backed by a
// persistent cache in front of the API.
type MetadataSource interface {
	VideoMetadata(ctx context.Context, videoID string) (VideoMeta, bool, error)
	BatchVideoMetadata(ctx context.Context, videoIDs []string) (map[string]VideoMeta, error)
	ChannelName(ctx context.Context, channelID string) (string, bool, error)
}

// Playlist is a discovered playlist candidate.
type Playlist struct {
	ID    string
	Title string
}

// PlaylistSource enumerates playlists and videos for the playlist/keyword
// sweep. Callbacks returning ErrStopEnumeration end iteration cleanly; any
// other error propagates.
type PlaylistSource interface {
	ForEachPlaylist(ctx context.Context, channelID string, fn func(Playlist) error) error
	SearchPlaylists(ctx context.Context, channelID, query string) ([]Playlist, error)
	ForEachPlaylistVideo(ctx context.Context, playlistID string, fn func(videoID string) error) error
	ForEachSearchVideo(ctx context.Context, channelID, query string, fn func(videoID string) error) error
}

// ChannelStats provides the channel-level lookups used by filtering and the
// verify mode.
type ChannelStats interface {
	SubscriberCounts(ctx context.Context, channelIDs []string) (map[string]int64, error)
	LastUploadDate(ctx context.Context, channelID string) (time.Time, bool, error)
	ChannelExists(ctx context.Context, channelID string) (bool, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
