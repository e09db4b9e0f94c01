package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/metrics"
)

// threadURLPattern matches thread pages like /en/wow/t/some-slug/12345.
var threadURLPattern = regexp.MustCompile(`/t/[^/]+/(\d+)$`)

// Config controls the forum crawl.
type Config struct {
	// BaseURL is the forum root, e.g. https://us.forums.blizzard.com/en/wow.
	BaseURL        string
	AllowedDomains []string
	UserAgent      string
	Concurrency    int
	Delay          time.Duration
	MaxDepth       int

	// SubforumPaths are the category listings to walk, relative to BaseURL.
	SubforumPaths []string
	// DenyForums are forum names whose posts are discarded outright.
	DenyForums []string
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://us.forums.blizzard.com/en/wow"
	}
	if len(c.AllowedDomains) == 0 {
		c.AllowedDomains = []string{"us.forums.blizzard.com"}
	}
	if c.UserAgent == "" {
		c.UserAgent = "gamepulse-harvester/1.0"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 6
	}
	if len(c.SubforumPaths) == 0 {
		c.SubforumPaths = []string{
			"/latest?ascending=false&order=posts",
			"/c/in-development/23/l/latest",
			"/c/community/170?ascending=true&order=activity",
			"/c/gameplay/36?ascending=true&order=activity",
			"/c/wow-classic/197?ascending=true&order=activity",
			"/c/lore/47?ascending=true&order=activity",
			"/c/classes/174?ascending=true&order=activity",
			"/c/pvp/20?ascending=true&order=activity",
		}
	}
	if len(c.DenyForums) == 0 {
		c.DenyForums = []string{
			"Off-Topic",
			"Support",
			"Recruitment",
			"UI and Macro",
			"WoW Classic New Guild Listings",
			"Classic Connections 2004-2010 - Find People Here",
		}
	}
}

// Crawler walks the forum's category listings, follows threads, and pulls
// each thread's posts from the Discourse JSON endpoint.
type Crawler struct {
	cfg    Config
	sink   PostSink
	logger *zap.Logger

	mu           sync.Mutex
	serverForums map[string]struct{}
	denyForums   map[string]struct{}
	threadForums map[int64]string
	posts        int64
}

// NewCrawler builds a crawler writing into sink.
func NewCrawler(cfg Config, sink PostSink, logger *zap.Logger) *Crawler {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	deny := make(map[string]struct{}, len(cfg.DenyForums))
	for _, name := range cfg.DenyForums {
		deny[name] = struct{}{}
	}
	return &Crawler{
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		serverForums: map[string]struct{}{},
		denyForums:   deny,
		threadForums: map[int64]string{},
	}
}

// Run performs one full crawl. Realm-specific forums are identified from the
// categories endpoint first so their posts can be discarded.
func (c *Crawler) Run(ctx context.Context) (int64, error) {
	collector := colly.NewCollector(
		colly.AllowedDomains(c.cfg.AllowedDomains...),
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.UserAgent(c.cfg.UserAgent),
		colly.Async(true),
	)
	collector.AllowURLRevisit = false

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Concurrency,
		Delay:       c.cfg.Delay,
	}); err != nil {
		return 0, fmt.Errorf("set crawl limits: %w", err)
	}

	collector.OnHTML("a.title[href]", func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			c.logger.Debug("skip thread link", zap.String("href", e.Attr("href")), zap.Error(err))
		}
	})
	collector.OnHTML(`a[rel="next"]`, func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		if err := e.Request.Visit(e.Attr("href")); err != nil {
			c.logger.Debug("skip next link", zap.String("href", e.Attr("href")), zap.Error(err))
		}
	})
	collector.OnHTML("html", c.handleThreadPage(ctx))
	collector.OnResponse(c.handleResponse(ctx))
	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	if err := collector.Visit(c.cfg.BaseURL + "/categories.json"); err != nil {
		return 0, fmt.Errorf("visit categories: %w", err)
	}
	collector.Wait()

	c.mu.Lock()
	total := c.posts
	c.mu.Unlock()
	return total, ctx.Err()
}

// handleThreadPage fires on thread HTML pages. It records the forum name
// shown in the topic header and chases the thread's posts.json endpoint.
func (c *Crawler) handleThreadPage(ctx context.Context) func(*colly.HTMLElement) {
	return func(e *colly.HTMLElement) {
		if ctx.Err() != nil {
			return
		}
		match := threadURLPattern.FindStringSubmatch(e.Request.URL.Path)
		if match == nil {
			return
		}
		threadID, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return
		}

		forumName := strings.TrimSpace(e.DOM.Find("#topic-title .category-name").First().Text())
		if forumName == "" {
			forumName = "Unknown"
		}
		c.mu.Lock()
		c.threadForums[threadID] = forumName
		c.mu.Unlock()

		postsURL := fmt.Sprintf("%s/t/%d/posts.json", c.cfg.BaseURL, threadID)
		if err := e.Request.Visit(postsURL); err != nil {
			c.logger.Debug("skip posts endpoint", zap.Int64("thread_id", threadID), zap.Error(err))
		}
	}
}

func (c *Crawler) handleResponse(ctx context.Context) func(*colly.Response) {
	return func(r *colly.Response) {
		if ctx.Err() != nil || r.StatusCode != 200 || len(r.Body) == 0 {
			return
		}
		path := r.Request.URL.Path
		switch {
		case strings.HasSuffix(path, "/categories.json"):
			c.handleCategories(r)
		case strings.HasSuffix(path, "/posts.json"):
			c.handlePosts(ctx, r)
		}
	}
}

type categoriesResponse struct {
	CategoryList struct {
		Categories []struct {
			Name     string         `json:"name"`
			Metadata map[string]any `json:"category_metadata"`
		} `json:"categories"`
	} `json:"category_list"`
}

// handleCategories marks realm forums for exclusion, then seeds the subforum
// listings.
func (c *Crawler) handleCategories(r *colly.Response) {
	var payload categoriesResponse
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		c.logger.Error("parse categories", zap.Error(err))
		return
	}

	c.mu.Lock()
	for _, cat := range payload.CategoryList.Categories {
		if _, realm := cat.Metadata["is_realm"]; realm {
			c.serverForums[cat.Name] = struct{}{}
		}
	}
	count := len(c.serverForums)
	c.mu.Unlock()
	c.logger.Info("realm forums identified", zap.Int("count", count))

	for _, sub := range c.cfg.SubforumPaths {
		if err := r.Request.Visit(c.cfg.BaseURL + sub); err != nil {
			c.logger.Debug("skip subforum", zap.String("path", sub), zap.Error(err))
		}
	}
}

type postsResponse struct {
	PostStream struct {
		Posts []rawPost `json:"posts"`
	} `json:"post_stream"`
}

type rawPost struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	UserTitle      string         `json:"user_title"`
	Cooked         string         `json:"cooked"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	ReplyCount     int64          `json:"reply_count"`
	Staff          bool           `json:"staff"`
	CustomFields   map[string]any `json:"user_custom_fields"`
	ActionsSummary []struct {
		ID    int64 `json:"id"`
		Count int64 `json:"count"`
	} `json:"actions_summary"`
}

func (c *Crawler) handlePosts(ctx context.Context, r *colly.Response) {
	match := threadURLPattern.FindStringSubmatch(strings.TrimSuffix(r.Request.URL.Path, "/posts.json"))
	threadID := int64(0)
	if match != nil {
		threadID, _ = strconv.ParseInt(match[1], 10, 64)
	}
	if threadID == 0 {
		// posts.json URLs look like /t/<id>/posts.json with no slug.
		parts := strings.Split(strings.TrimSuffix(r.Request.URL.Path, "/posts.json"), "/")
		threadID, _ = strconv.ParseInt(parts[len(parts)-1], 10, 64)
	}
	if threadID == 0 {
		return
	}

	c.mu.Lock()
	forumName, known := c.threadForums[threadID]
	_, realmForum := c.serverForums[forumName]
	_, denied := c.denyForums[forumName]
	c.mu.Unlock()
	if !known {
		forumName = "Unknown"
	}
	if denied || realmForum {
		c.logger.Debug("skipping filtered forum",
			zap.String("forum", forumName), zap.Int64("thread_id", threadID))
		return
	}

	var payload postsResponse
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		c.logger.Error("parse posts", zap.Int64("thread_id", threadID), zap.Error(err))
		return
	}
	if len(payload.PostStream.Posts) == 0 {
		return
	}

	posts := make([]Post, 0, len(payload.PostStream.Posts))
	for _, raw := range payload.PostStream.Posts {
		post, ok := c.normalizePost(threadID, forumName, r.Request.URL.String(), raw)
		if !ok {
			continue
		}
		posts = append(posts, post)
	}
	if len(posts) == 0 {
		return
	}

	changed, err := c.sink.UpsertPosts(ctx, posts)
	if err != nil {
		c.logger.Error("store posts", zap.Int64("thread_id", threadID), zap.Error(err))
		return
	}
	metrics.AddForumPosts(changed)
	c.mu.Lock()
	c.posts += changed
	c.mu.Unlock()
	c.logger.Info("thread posts stored",
		zap.Int64("thread_id", threadID),
		zap.String("forum", forumName),
		zap.Int("posts", len(posts)),
		zap.Int64("changed", changed),
	)
}

func (c *Crawler) normalizePost(threadID int64, forumName, url string, raw rawPost) (Post, bool) {
	createdAt, err := time.Parse(time.RFC3339, raw.CreatedAt)
	if err != nil {
		c.logger.Warn("unparseable post date, dropping",
			zap.Int64("thread_id", threadID), zap.Int64("post_id", raw.ID))
		return Post{}, false
	}
	updatedAt, err := time.Parse(time.RFC3339, raw.UpdatedAt)
	if err != nil {
		updatedAt = createdAt
	}

	text, quotes := StripQuotes(raw.Cooked)
	name, server := SplitUsername(raw.Username)
	username := name
	if server != "" {
		username = fmt.Sprintf("%s (%s)", name, server)
	}

	post := Post{
		ThreadID:    threadID,
		PostID:      raw.ID,
		URL:         url,
		ForumName:   forumName,
		Username:    username,
		Server:      server,
		UserTitle:   raw.UserTitle,
		Race:        customField(raw.CustomFields, "race"),
		PlayerClass: customField(raw.CustomFields, "class"),
		Staff:       raw.Staff,
		Text:        text,
		Quotes:      quotes,
		QuoteCount:  len(quotes),
		ReplyCount:  raw.ReplyCount,
		Likes:       likesFromActions(raw),
		CreatedAt:   createdAt.UTC(),
		UpdatedAt:   updatedAt.UTC(),
	}
	post.GameVersion, post.Expansion, post.Patch = ClassifyPost(forumName, post.CreatedAt)
	if !post.Valid() {
		return Post{}, false
	}
	return post, true
}

// likesFromActions pulls the like count out of the Discourse actions summary;
// action id 2 is "like".
func likesFromActions(raw rawPost) int64 {
	for _, action := range raw.ActionsSummary {
		if action.ID == 2 {
			return action.Count
		}
	}
	return 0
}

func customField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}
