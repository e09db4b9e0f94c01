package harvest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunnerConfig controls channel-level fan-out and the fetch cutoff.
type RunnerConfig struct {
	Keywords    []string
	Cutoff      time.Time
	Concurrency int
}

// Runner processes the selected channels, choosing the whole-channel sweep or
// the playlist sweep per the registry's whole_channel flag. Channels are
// independent streams, so they may run concurrently; pagination within one
// stream is inherently sequential.
type Runner struct {
	enum   *StreamEnumerator
	sweep  *ChannelSweep
	cfg    RunnerConfig
	logger *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(enum *StreamEnumerator, sweep *ChannelSweep, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{enum: enum, sweep: sweep, cfg: cfg, logger: logger}
}

// ProcessChannels drains every channel in the registry. A quota exhaustion
// aborts the affected channel's remaining work but the run continues with the
// other channels: the client's global backoff window already throttles the
// actual API traffic. Returns the first context error, if any.
func (r *Runner) ProcessChannels(ctx context.Context, channels map[string]ChannelSource) error {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("starting harvest run", zap.Int("channels", len(channels)))

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range work {
				r.processChannel(ctx, logger, name, channels[name])
			}
		}()
	}

	for _, name := range names {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return ctx.Err()
		case work <- name:
		}
	}
	close(work)
	wg.Wait()

	logger.Info("harvest run finished")
	return ctx.Err()
}

func (r *Runner) processChannel(ctx context.Context, logger *zap.Logger, name string, src ChannelSource) {
	logger = logger.With(zap.String("channel", name), zap.String("channel_id", src.ChannelID))
	start := time.Now()

	var (
		res FetchResult
		err error
	)
	if src.WholeChannel {
		res, err = r.sweep.Run(ctx, src.ChannelID, r.cfg.Cutoff)
	} else {
		res, err = r.enum.Run(ctx, src.ChannelID, r.cfg.Keywords)
	}

	switch {
	case errors.Is(err, ErrQuotaExhausted):
		logger.Warn("credential pool exhausted, aborting channel",
			zap.Int("pages", res.Pages),
			zap.Int("new_items", res.NewItems),
		)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Info("channel processing canceled")
	case err != nil:
		logger.Error("channel processing failed", zap.Error(err))
	default:
		logger.Info("channel processed",
			zap.String("reason", string(res.Reason)),
			zap.Int("pages", res.Pages),
			zap.Int("new_items", res.NewItems),
			zap.Int64("upserted", res.Stats.Upserted),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
