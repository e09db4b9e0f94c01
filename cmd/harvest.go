package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/api"
	"github.com/gamepulse/harvester/internal/cache"
	"github.com/gamepulse/harvester/internal/config"
	"github.com/gamepulse/harvester/internal/harvest"
	"github.com/gamepulse/harvester/internal/metrics"
	"github.com/gamepulse/harvester/internal/storage/postgres"
	"github.com/gamepulse/harvester/internal/youtube"
)

type harvestFlags struct {
	include         []string
	skip            []string
	types           []string
	excludeTypes    []string
	limitTop        int
	limitBottom     int
	maxInactiveDays int
	keywords        []string
	ignoreProgress  bool
}

func newHarvestCmd() *cobra.Command {
	var flags harvestFlags
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Fetch new comments for the configured channels",
		Long: `Walks the channel registry and pulls comment pages until each stream is
caught up. Streams resume from their stored cursors; a fully caught-up
stream only costs the pages holding genuinely new comments.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.include, "include", nil, "only process these channels")
	cmd.Flags().StringSliceVar(&flags.skip, "skip", nil, "skip these channels")
	cmd.Flags().StringSliceVar(&flags.types, "types", nil, "only channels tagged with any of these types")
	cmd.Flags().StringSliceVar(&flags.excludeTypes, "exclude-types", nil, "drop channels tagged with any of these types")
	cmd.Flags().IntVar(&flags.limitTop, "limit-top", 0, "keep only the N largest channels by subscribers")
	cmd.Flags().IntVar(&flags.limitBottom, "limit-bottom", 0, "keep only the N smallest channels by subscribers")
	cmd.Flags().IntVar(&flags.maxInactiveDays, "max-inactive-days", 0, "skip channels with no upload in N days")
	cmd.Flags().StringSliceVar(&flags.keywords, "keywords", nil, "override the configured playlist keywords")
	cmd.Flags().BoolVar(&flags.ignoreProgress, "ignore-progress", false, "refetch every stream from its first page")
	return cmd
}

func runHarvest(ctx context.Context, flags harvestFlags) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

	if len(cfg.API.Keys) == 0 {
		return fmt.Errorf("api.keys is required for harvesting")
	}
	cutoff, err := cfg.CutoffDate()
	if err != nil {
		return err
	}

	pool, err := postgres.Connect(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime(),
	})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	commentStore, err := postgres.NewCommentStore(pool, logger)
	if err != nil {
		return err
	}
	cursorStore, err := postgres.NewCursorStore(pool, logger)
	if err != nil {
		return err
	}
	if cfg.Harvest.RetentionDays > 0 {
		staleCutoff := time.Now().UTC().AddDate(0, 0, -cfg.Harvest.RetentionDays)
		if _, err := cursorStore.PruneStale(ctx, staleCutoff); err != nil {
			logger.Warn("cursor prune failed", zap.Error(err))
		}
	}

	metaCache := cache.NewStore(cfg.Harvest.CachePath, cfg.Harvest.CacheCapacity, logger)
	defer func() {
		if err := metaCache.Flush(); err != nil {
			logger.Warn("cache flush failed", zap.Error(err))
		}
	}()

	client, err := youtube.NewClient(ctx, cfg.API.Keys, youtube.ClientConfig{
		Retries:       cfg.API.Retries,
		BackoffBase:   cfg.BackoffBase(),
		GlobalBackoff: cfg.GlobalBackoff(),
		MaxInflight:   cfg.API.MaxInflight,
	}, logger)
	if err != nil {
		return err
	}
	source := youtube.NewAPI(client, logger)
	meta := youtube.NewMetadataService(source, metaCache, logger)

	fetcher := harvest.NewIncrementalFetcher(
		source, cursorStore, commentStore, commentStore,
		cfg.API.MaxResults, cutoff, logger,
	)
	enum := harvest.NewStreamEnumerator(source, meta, fetcher, logger)
	enum.IgnoreProgress = flags.ignoreProgress
	sweep := harvest.NewChannelSweep(source, cursorStore, meta, commentStore, cfg.API.MaxResults, logger)

	channels, err := selectChannels(ctx, cfg, source, flags, logger)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		logger.Warn("no channels selected, nothing to do")
		return nil
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(cfg.Server.Port, cursorStore, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				logger.Warn("status server shutdown failed", zap.Error(err))
			}
		}()
	}

	keywords := cfg.Harvest.Keywords
	if len(flags.keywords) > 0 {
		keywords = flags.keywords
	}
	runner := harvest.NewRunner(enum, sweep, harvest.RunnerConfig{
		Keywords:    keywords,
		Cutoff:      cutoff,
		Concurrency: cfg.Harvest.Concurrency,
	}, logger)

	if err := runner.ProcessChannels(ctx, channels); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("harvest run: %w", err)
	}
	return ctx.Err()
}

func selectChannels(
	ctx context.Context,
	cfg config.Config,
	stats harvest.ChannelStats,
	flags harvestFlags,
	logger *zap.Logger,
) (map[string]harvest.ChannelSource, error) {
	filter := harvest.NewChannelFilter(stats, harvest.SystemClock{}, logger)
	channels, err := filter.Apply(ctx, cfg.Channels, harvest.FilterOptions{
		Include:         flags.include,
		Skip:            flags.skip,
		Types:           flags.types,
		ExcludeTypes:    flags.excludeTypes,
		LimitTop:        flags.limitTop,
		LimitBottom:     flags.limitBottom,
		MaxInactiveDays: flags.maxInactiveDays,
	})
	if err != nil {
		return nil, fmt.Errorf("filter channels: %w", err)
	}
	logger.Info("channels selected",
		zap.Int("configured", len(cfg.Channels)),
		zap.Int("selected", len(channels)),
	)
	return channels, nil
}
