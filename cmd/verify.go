package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gamepulse/harvester/internal/harvest"
	"github.com/gamepulse/harvester/internal/youtube"
)

func newVerifyCmd() *cobra.Command {
	var cutoffDays int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check channel registry health without fetching comments",
		Long: `Resolves every configured channel and reports whether it still exists
and when it last uploaded. No comments are fetched and no state changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd.Context(), cmd, cutoffDays)
		},
	}
	cmd.Flags().IntVar(&cutoffDays, "max-inactive-days", 365, "flag channels with no upload in N days")
	return cmd
}

func runVerify(ctx context.Context, cmd *cobra.Command, cutoffDays int) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.API.Keys) == 0 {
		return fmt.Errorf("api.keys is required for verification")
	}

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

	report, err := harvest.VerifyChannels(ctx, source, harvest.SystemClock{}, cfg.Channels, cutoffDays)
	if err != nil {
		return fmt.Errorf("verify channels: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), harvest.FormatHealthReport(report))
	return nil
}
