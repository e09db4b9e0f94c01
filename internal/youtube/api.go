package youtube

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	yt "google.golang.org/api/youtube/v3"

	"github.com/gamepulse/harvester/internal/harvest"
	"github.com/gamepulse/harvester/internal/metrics"
)

const channelChunkSize = 50

// API implements the harvest source interfaces on top of the quota-aware
// Client.
type API struct {
	client *Client
	logger *zap.Logger
}

// NewAPI builds the API surface.
func NewAPI(client *Client, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{client: client, logger: logger}
}

// CommentPage fetches one page of a video's top-level comment threads,
// newest first.
func (a *API) CommentPage(ctx context.Context, req harvest.PageRequest) (harvest.Page, error) {
	resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.CommentThreadListResponse, error) {
		call := svc.CommentThreads.List([]string{"snippet"}).
			VideoId(req.VideoID).
			MaxResults(req.MaxResults).
			Order("time").
			Context(ctx)
		if req.PageToken != "" {
			call = call.PageToken(req.PageToken)
		}
		return call.Do()
	})
	if err != nil {
		return harvest.Page{}, err
	}
	metrics.IncPage("video")
	return a.mapThreadPage(resp), nil
}

// ChannelCommentPage fetches one page of the channel-wide comment feed.
func (a *API) ChannelCommentPage(ctx context.Context, channelID, pageToken string, maxResults int64) (harvest.Page, error) {
	resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.CommentThreadListResponse, error) {
		call := svc.CommentThreads.List([]string{"snippet"}).
			AllThreadsRelatedToChannelId(channelID).
			MaxResults(maxResults).
			Order("time").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		return harvest.Page{}, err
	}
	metrics.IncPage("channel")
	return a.mapThreadPage(resp), nil
}

func (a *API) mapThreadPage(resp *yt.CommentThreadListResponse) harvest.Page {
	page := harvest.Page{NextToken: resp.NextPageToken}
	for _, item := range resp.Items {
		comment, ok := a.commentFromThread(item)
		if !ok {
			continue
		}
		page.Items = append(page.Items, comment)
	}
	return page
}

// commentFromThread maps one API thread to the wire-agnostic record. Threads
// missing required fields are dropped with a warning, never passed on
// partially.
func (a *API) commentFromThread(item *yt.CommentThread) (harvest.Comment, bool) {
	if item == nil || item.Snippet == nil || item.Snippet.TopLevelComment == nil ||
		item.Snippet.TopLevelComment.Snippet == nil {
		a.logger.Warn("malformed comment thread, dropping")
		return harvest.Comment{}, false
	}
	snip := item.Snippet.TopLevelComment.Snippet

	updatedAt, err := time.Parse(time.RFC3339, snip.UpdatedAt)
	if err != nil {
		a.logger.Warn("unparseable updated_at, dropping comment",
			zap.String("comment_id", item.Id), zap.String("updated_at", snip.UpdatedAt))
		return harvest.Comment{}, false
	}
	publishedAt, err := time.Parse(time.RFC3339, snip.PublishedAt)
	if err != nil {
		publishedAt = updatedAt
	}

	text := snip.TextOriginal
	if text == "" {
		text = snip.TextDisplay
	}
	authorChannelID := ""
	if snip.AuthorChannelId != nil {
		authorChannelID = snip.AuthorChannelId.Value
	}

	return harvest.Comment{
		ID:              item.Id,
		VideoID:         snip.VideoId,
		Author:          snip.AuthorDisplayName,
		AuthorChannelID: authorChannelID,
		Text:            text,
		LikeCount:       snip.LikeCount,
		PublishedAt:     publishedAt.UTC(),
		UpdatedAt:       updatedAt.UTC(),
	}, true
}

// ForEachPlaylist enumerates all of a channel's playlists.
func (a *API) ForEachPlaylist(ctx context.Context, channelID string, fn func(harvest.Playlist) error) error {
	pageToken := ""
	for {
		token := pageToken
		resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.PlaylistListResponse, error) {
			call := svc.Playlists.List([]string{"id", "snippet"}).
				ChannelId(channelID).
				MaxResults(50).
				Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}
			return call.Do()
		})
		if errors.Is(err, harvest.ErrUnavailable) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, item := range resp.Items {
			if item.Snippet == nil {
				continue
			}
			if cbErr := fn(harvest.Playlist{ID: item.Id, Title: item.Snippet.Title}); cbErr != nil {
				if errors.Is(cbErr, harvest.ErrStopEnumeration) {
					return nil
				}
				return cbErr
			}
		}
		if resp.NextPageToken == "" {
			return nil
		}
		pageToken = resp.NextPageToken
	}
}

// SearchPlaylists finds playlists in a channel matching the query.
func (a *API) SearchPlaylists(ctx context.Context, channelID, query string) ([]harvest.Playlist, error) {
	resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.SearchListResponse, error) {
		return svc.Search.List([]string{"snippet"}).
			ChannelId(channelID).
			Q(query).
			Type("playlist").
			MaxResults(5).
			Context(ctx).
			Do()
	})
	if errors.Is(err, harvest.ErrUnavailable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var playlists []harvest.Playlist
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.PlaylistId == "" || item.Snippet == nil {
			continue
		}
		playlists = append(playlists, harvest.Playlist{ID: item.Id.PlaylistId, Title: item.Snippet.Title})
	}
	return playlists, nil
}

// ForEachPlaylistVideo enumerates the video ids of a playlist.
func (a *API) ForEachPlaylistVideo(ctx context.Context, playlistID string, fn func(string) error) error {
	pageToken := ""
	for {
		token := pageToken
		resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.PlaylistItemListResponse, error) {
			call := svc.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(50).
				Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}
			return call.Do()
		})
		if errors.Is(err, harvest.ErrUnavailable) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, item := range resp.Items {
			if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
				continue
			}
			if cbErr := fn(item.ContentDetails.VideoId); cbErr != nil {
				if errors.Is(cbErr, harvest.ErrStopEnumeration) {
					return nil
				}
				return cbErr
			}
		}
		if resp.NextPageToken == "" {
			return nil
		}
		pageToken = resp.NextPageToken
	}
}

// ForEachSearchVideo enumerates video ids matching a keyword search within a
// channel, newest first.
func (a *API) ForEachSearchVideo(ctx context.Context, channelID, query string, fn func(string) error) error {
	pageToken := ""
	for {
		token := pageToken
		resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.SearchListResponse, error) {
			call := svc.Search.List([]string{"id"}).
				ChannelId(channelID).
				Q(query).
				Type("video").
				Order("date").
				MaxResults(50).
				Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}
			return call.Do()
		})
		if errors.Is(err, harvest.ErrUnavailable) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, item := range resp.Items {
			if item.Id == nil || item.Id.VideoId == "" {
				continue
			}
			if cbErr := fn(item.Id.VideoId); cbErr != nil {
				if errors.Is(cbErr, harvest.ErrStopEnumeration) {
					return nil
				}
				return cbErr
			}
		}
		if resp.NextPageToken == "" {
			return nil
		}
		pageToken = resp.NextPageToken
	}
}

// SubscriberCounts fetches subscriber counts for the given channels, batched
// 50 ids per call. Channels missing from the response report zero.
func (a *API) SubscriberCounts(ctx context.Context, channelIDs []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(channelIDs))
	for start := 0; start < len(channelIDs); start += channelChunkSize {
		end := start + channelChunkSize
		if end > len(channelIDs) {
			end = len(channelIDs)
		}
		chunk := channelIDs[start:end]

		resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.ChannelListResponse, error) {
			return svc.Channels.List([]string{"statistics"}).
				Id(strings.Join(chunk, ",")).
				MaxResults(int64(len(chunk))).
				Context(ctx).
				Do()
		})
		if errors.Is(err, harvest.ErrUnavailable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if item.Statistics == nil {
				continue
			}
			counts[item.Id] = int64(item.Statistics.SubscriberCount)
		}
	}
	return counts, nil
}

// LastUploadDate resolves the publish date of a channel's latest upload via
// its uploads playlist.
func (a *API) LastUploadDate(ctx context.Context, channelID string) (time.Time, bool, error) {
	chanResp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.ChannelListResponse, error) {
		return svc.Channels.List([]string{"contentDetails"}).
			Id(channelID).
			MaxResults(1).
			Context(ctx).
			Do()
	})
	if errors.Is(err, harvest.ErrUnavailable) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if len(chanResp.Items) == 0 || chanResp.Items[0].ContentDetails == nil ||
		chanResp.Items[0].ContentDetails.RelatedPlaylists == nil {
		return time.Time{}, false, nil
	}
	uploads := chanResp.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return time.Time{}, false, nil
	}

	itemsResp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.PlaylistItemListResponse, error) {
		return svc.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(uploads).
			MaxResults(1).
			Context(ctx).
			Do()
	})
	if errors.Is(err, harvest.ErrUnavailable) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if len(itemsResp.Items) == 0 || itemsResp.Items[0].ContentDetails == nil {
		return time.Time{}, false, nil
	}
	published, perr := time.Parse(time.RFC3339, itemsResp.Items[0].ContentDetails.VideoPublishedAt)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return published.UTC(), true, nil
}

// ChannelExists checks that a channel id resolves.
func (a *API) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.ChannelListResponse, error) {
		return svc.Channels.List([]string{"id"}).
			Id(channelID).
			MaxResults(1).
			Context(ctx).
			Do()
	})
	if errors.Is(err, harvest.ErrUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(resp.Items) > 0, nil
}

// videoSnippets fetches snippet metadata for up to 50 video ids.
func (a *API) videoSnippets(ctx context.Context, videoIDs []string) (map[string]harvest.VideoMeta, error) {
	if len(videoIDs) == 0 {
		return map[string]harvest.VideoMeta{}, nil
	}
	resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.VideoListResponse, error) {
		return svc.Videos.List([]string{"snippet"}).
			Id(strings.Join(videoIDs, ",")).
			MaxResults(int64(len(videoIDs))).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	metas := make(map[string]harvest.VideoMeta, len(resp.Items))
	for _, item := range resp.Items {
		if item.Snippet == nil {
			continue
		}
		published, perr := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		if perr != nil {
			a.logger.Warn("unparseable video publish date, skipping metadata",
				zap.String("video_id", item.Id))
			continue
		}
		metas[item.Id] = harvest.VideoMeta{
			Title:       item.Snippet.Title,
			ChannelID:   item.Snippet.ChannelId,
			ChannelName: item.Snippet.ChannelTitle,
			PublishedAt: published.UTC(),
		}
	}
	return metas, nil
}

// channelTitle resolves a channel's display name.
func (a *API) channelTitle(ctx context.Context, channelID string) (string, bool, error) {
	resp, err := Do(ctx, a.client, func(svc *yt.Service) (*yt.ChannelListResponse, error) {
		return svc.Channels.List([]string{"snippet"}).
			Id(channelID).
			MaxResults(1).
			Context(ctx).
			Do()
	})
	if err != nil {
		return "", false, err
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return "", false, nil
	}
	return resp.Items[0].Snippet.Title, true, nil
}
