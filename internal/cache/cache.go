// Package cache holds a capacity-bounded metadata cache that survives runs
// through a JSON snapshot on disk. Video and channel lookups dominate quota
// spend, so warm entries are worth persisting between invocations.
package cache

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/harvest"
)

// DefaultCapacity bounds each section of the cache when the config does not
// say otherwise.
const DefaultCapacity = 4096

// Store is a two-section LRU: video metadata and channel display names.
// Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	videos   *lruCache[harvest.VideoMeta]
	channels *lruCache[string]

	path      string
	flushOnce sync.Once
	logger    *zap.Logger
}

// NewStore builds a Store and loads the snapshot at path when one exists. A
// missing or corrupt snapshot starts the cache cold rather than failing.
func NewStore(path string, capacity int, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		videos:   newLRU[harvest.VideoMeta](capacity),
		channels: newLRU[string](capacity),
		path:     path,
		logger:   logger,
	}
	if path != "" {
		s.load()
	}
	return s
}

// Video looks up cached metadata for a video id.
func (s *Store) Video(videoID string) (harvest.VideoMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videos.get(videoID)
}

// PutVideo caches metadata for a video id.
func (s *Store) PutVideo(videoID string, meta harvest.VideoMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos.put(videoID, meta)
}

// ChannelName looks up a cached channel display name.
func (s *Store) ChannelName(channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels.get(channelID)
}

// PutChannelName caches a channel display name.
func (s *Store) PutChannelName(channelID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels.put(channelID, name)
}

// Len reports the number of cached entries across both sections.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videos.len() + s.channels.len()
}

type snapshotVideo struct {
	Title       string    `json:"title"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

type snapshot struct {
	Videos   map[string]snapshotVideo `json:"videos"`
	Channels map[string]string        `json:"channels"`
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("cache snapshot unreadable, starting cold",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("cache snapshot corrupt, starting cold",
			zap.String("path", s.path), zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range snap.Videos {
		s.videos.put(id, harvest.VideoMeta{
			Title:       v.Title,
			ChannelID:   v.ChannelID,
			ChannelName: v.ChannelName,
			PublishedAt: v.PublishedAt,
		})
	}
	for id, name := range snap.Channels {
		s.channels.put(id, name)
	}
	s.logger.Info("cache snapshot loaded",
		zap.String("path", s.path),
		zap.Int("videos", s.videos.len()),
		zap.Int("channels", s.channels.len()),
	)
}

// Flush writes the snapshot to disk. Subsequent calls are no-ops so shutdown
// paths can call it from both the signal handler and the normal exit.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}
	var err error
	s.flushOnce.Do(func() {
		err = s.writeSnapshot()
	})
	return err
}

func (s *Store) writeSnapshot() error {
	s.mu.Lock()
	snap := snapshot{
		Videos:   make(map[string]snapshotVideo, s.videos.len()),
		Channels: make(map[string]string, s.channels.len()),
	}
	s.videos.each(func(id string, meta harvest.VideoMeta) {
		snap.Videos[id] = snapshotVideo{
			Title:       meta.Title,
			ChannelID:   meta.ChannelID,
			ChannelName: meta.ChannelName,
			PublishedAt: meta.PublishedAt,
		}
	})
	s.channels.each(func(id, name string) {
		snap.Channels[id] = name
	})
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cache snapshot: %w", err)
	}
	s.logger.Info("cache snapshot written",
		zap.String("path", s.path),
		zap.Int("videos", len(snap.Videos)),
		zap.Int("channels", len(snap.Channels)),
	)
	return nil
}

// lruCache is a plain map+list LRU. Callers hold the Store lock.
type lruCache[V any] struct {
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type lruEntry[V any] struct {
	key   string
	value V
}

func newLRU[V any](capacity int) *lruCache[V] {
	return &lruCache[V]{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry[V]).value, true
	}
	var zero V
	return zero, false
}

func (c *lruCache[V]) put(key string, value V) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry[V]).key)
	}
}

func (c *lruCache[V]) len() int { return c.order.Len() }

func (c *lruCache[V]) each(fn func(key string, value V)) {
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*lruEntry[V])
		fn(entry.key, entry.value)
	}
}
