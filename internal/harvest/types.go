// Package harvest defines the core types and interfaces for the incremental
// comment-harvesting engine: quota-aware fetching, cursor-based resume, and
// channel/playlist stream enumeration.
package harvest

import (
	"fmt"
	"time"
)

// Comment is the normalized record persisted for each top-level comment.
// The natural key is ID; UpdatedAt is the ordering field used for the
// low-water-mark comparison.
type Comment struct {
	ID               string    `json:"comment_id"`
	VideoID          string    `json:"video_id"`
	VideoTitle       string    `json:"video_title"`
	ChannelID        string    `json:"channel_id"`
	ChannelName      string    `json:"channel_name"`
	VideoPublishedAt time.Time `json:"video_publish_date"`
	Author           string    `json:"author"`
	AuthorChannelID  string    `json:"author_channel_id,omitempty"`
	Text             string    `json:"text"`
	LikeCount        int64     `json:"like_count"`
	PublishedAt      time.Time `json:"published_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Page is one page of a paginated comment listing. An empty NextToken means
// the listing is exhausted.
type Page struct {
	Items     []Comment
	NextToken string
}

// VideoMeta carries the metadata needed to enrich a comment record.
type VideoMeta struct {
	Title       string    `json:"title"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// ChannelStream returns the stream identity used for whole-channel sweeps.
// Per-video streams use the raw video id.
func ChannelStream(channelID string) string {
	return "chan::" + channelID
}

// ChannelSource is one entry of the static channel registry.
type ChannelSource struct {
	Handle       string   `mapstructure:"handle" json:"handle"`
	ChannelID    string   `mapstructure:"channel_id" json:"channel_id"`
	Tags         []string `mapstructure:"tags" json:"tags,omitempty"`
	WholeChannel bool     `mapstructure:"whole_channel" json:"whole_channel"`
	Outdated     bool     `mapstructure:"outdated" json:"outdated,omitempty"`
}

// StopReason records why a stream's pagination stopped.
type StopReason string

// Stop reasons reported in FetchResult.
const (
	StopCaughtUp  StopReason = "caught_up"
	StopExhausted StopReason = "exhausted"
	StopTokenLoop StopReason = "token_loop"
	StopSkipped   StopReason = "skipped"
)

// FetchResult summarizes one stream's fetch.
type FetchResult struct {
	StreamID string
	Reason   StopReason
	Pages    int
	NewItems int
	Stats    UpsertStats
}

// UpsertStats reports the outcome of a sink flush.
type UpsertStats struct {
	Upserted int64
	Skipped  int64
}

// Add accumulates another batch's stats.
func (s *UpsertStats) Add(other UpsertStats) {
	s.Upserted += other.Upserted
	s.Skipped += other.Skipped
}

func (s UpsertStats) String() string {
	return fmt.Sprintf("upserted:%d skipped:%d", s.Upserted, s.Skipped)
}

// Valid reports whether the record carries every required field. Records
// failing this check are dropped by the sink rather than inserted partially.
func (c Comment) Valid() bool {
	return c.ID != "" &&
		c.VideoID != "" &&
		c.VideoTitle != "" &&
		c.ChannelID != "" &&
		c.ChannelName != "" &&
		c.Text != "" &&
		!c.PublishedAt.IsZero() &&
		!c.UpdatedAt.IsZero()
}
