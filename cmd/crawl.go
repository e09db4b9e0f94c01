package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gamepulse/harvester/internal/forum"
	"github.com/gamepulse/harvester/internal/metrics"
	"github.com/gamepulse/harvester/internal/storage/postgres"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the game forums for new posts",
		Long: `Walks the configured forum's category listings, follows threads, and
stores each thread's posts. Re-crawled posts only update when their like
or reply counts changed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context())
		},
	}
}

func runCrawl(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	metrics.Init()

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

	postStore, err := postgres.NewPostStore(pool, logger)
	if err != nil {
		return err
	}

	crawler := forum.NewCrawler(forum.Config{
		BaseURL:        cfg.Forum.BaseURL,
		AllowedDomains: cfg.Forum.AllowedDomains,
		UserAgent:      cfg.Forum.UserAgent,
		Concurrency:    cfg.Forum.Concurrency,
		Delay:          cfg.ForumDelay(),
		MaxDepth:       cfg.Forum.MaxDepth,
		SubforumPaths:  cfg.Forum.SubforumPaths,
		DenyForums:     cfg.Forum.DenyForums,
	}, postStore, logger)

	changed, err := crawler.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run forum crawl: %w", err)
	}
	logger.Info("forum crawl finished", zap.Int64("posts_changed", changed))
	return err
}
