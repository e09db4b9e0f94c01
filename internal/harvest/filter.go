package harvest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FilterOptions mirror the CLI's channel-selection flags. Zero values mean
// "no filtering" for the respective criterion.
type FilterOptions struct {
	Include         []string
	Skip            []string
	Types           []string
	ExcludeTypes    []string
	LimitTop        int
	LimitBottom     int
	MaxInactiveDays int
}

// ChannelFilter narrows the static channel registry per the CLI flags.
// Subscriber-count and activity lookups go through ChannelStats.
type ChannelFilter struct {
	stats  ChannelStats
	clock  Clock
	logger *zap.Logger
}

// NewChannelFilter builds a filter.
func NewChannelFilter(stats ChannelStats, clock Clock, logger *zap.Logger) *ChannelFilter {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelFilter{stats: stats, clock: clock, logger: logger}
}

// Apply runs the filters in a fixed order: outdated removal, include list,
// required tags, top/bottom-N by subscribers, skip list, excluded tags, and
// finally the inactivity cutoff.
func (f *ChannelFilter) Apply(
	ctx context.Context,
	channels map[string]ChannelSource,
	opts FilterOptions,
) (map[string]ChannelSource, error) {
	filtered := make(map[string]ChannelSource, len(channels))
	for name, src := range channels {
		if !src.Outdated {
			filtered[name] = src
		}
	}

	if len(opts.Include) > 0 {
		filtered = keepNames(filtered, opts.Include)
	}
	if len(opts.Types) > 0 {
		filtered = keepTagged(filtered, opts.Types, true)
	}
	if opts.LimitTop > 0 {
		ranked, err := f.rankBySubscribers(ctx, filtered)
		if err != nil {
			return nil, err
		}
		filtered = takeRanked(filtered, ranked, opts.LimitTop, true)
	}
	if opts.LimitBottom > 0 {
		ranked, err := f.rankBySubscribers(ctx, filtered)
		if err != nil {
			return nil, err
		}
		filtered = takeRanked(filtered, ranked, opts.LimitBottom, false)
	}
	if len(opts.Skip) > 0 {
		filtered = dropNames(filtered, opts.Skip)
	}
	if len(opts.ExcludeTypes) > 0 {
		filtered = keepTagged(filtered, opts.ExcludeTypes, false)
	}
	if opts.MaxInactiveDays > 0 {
		var err error
		filtered, err = f.keepRecentlyActive(ctx, filtered, opts.MaxInactiveDays)
		if err != nil {
			return nil, err
		}
	}
	return filtered, nil
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func keepNames(channels map[string]ChannelSource, names []string) map[string]ChannelSource {
	requested := lowerSet(names)
	out := make(map[string]ChannelSource)
	for name, src := range channels {
		if _, ok := requested[strings.ToLower(name)]; ok {
			out[name] = src
		}
	}
	return out
}

func dropNames(channels map[string]ChannelSource, names []string) map[string]ChannelSource {
	skipped := lowerSet(names)
	out := make(map[string]ChannelSource)
	for name, src := range channels {
		if _, ok := skipped[strings.ToLower(name)]; !ok {
			out[name] = src
		}
	}
	return out
}

// keepTagged keeps (want=true) or drops (want=false) channels whose tag set
// intersects the given tags.
func keepTagged(channels map[string]ChannelSource, tags []string, want bool) map[string]ChannelSource {
	set := lowerSet(tags)
	out := make(map[string]ChannelSource)
	for name, src := range channels {
		matches := false
		for _, tag := range src.Tags {
			if _, ok := set[strings.ToLower(tag)]; ok {
				matches = true
				break
			}
		}
		if matches == want {
			out[name] = src
		}
	}
	return out
}

type rankedChannel struct {
	name        string
	subscribers int64
}

func (f *ChannelFilter) rankBySubscribers(
	ctx context.Context,
	channels map[string]ChannelSource,
) ([]rankedChannel, error) {
	ids := make([]string, 0, len(channels))
	for _, src := range channels {
		if src.ChannelID != "" {
			ids = append(ids, src.ChannelID)
		}
	}
	counts, err := f.stats.SubscriberCounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("subscriber counts: %w", err)
	}

	ranked := make([]rankedChannel, 0, len(channels))
	for name, src := range channels {
		ranked = append(ranked, rankedChannel{name: name, subscribers: counts[src.ChannelID]})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].subscribers != ranked[j].subscribers {
			return ranked[i].subscribers > ranked[j].subscribers
		}
		return ranked[i].name < ranked[j].name
	})
	return ranked, nil
}

func takeRanked(
	channels map[string]ChannelSource,
	ranked []rankedChannel,
	n int,
	fromTop bool,
) map[string]ChannelSource {
	if n > len(ranked) {
		n = len(ranked)
	}
	slice := ranked[:n]
	if !fromTop {
		slice = ranked[len(ranked)-n:]
	}
	out := make(map[string]ChannelSource, n)
	for _, rc := range slice {
		out[rc.name] = channels[rc.name]
	}
	return out
}

func (f *ChannelFilter) keepRecentlyActive(
	ctx context.Context,
	channels map[string]ChannelSource,
	maxInactiveDays int,
) (map[string]ChannelSource, error) {
	cutoff := f.clock.Now().UTC().AddDate(0, 0, -maxInactiveDays)
	out := make(map[string]ChannelSource)
	for name, src := range channels {
		last, ok, err := f.stats.LastUploadDate(ctx, src.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("last upload for %s: %w", name, err)
		}
		if ok && !last.Before(cutoff) {
			out[name] = src
			continue
		}
		f.logger.Info("skipping inactive channel",
			zap.String("channel", name),
			zap.Time("last_upload", last),
		)
	}
	return out, nil
}
