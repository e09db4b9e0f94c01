// Package youtube implements the harvest interfaces against the YouTube Data
// API v3, wrapping every call in a quota-aware retry client that rotates
// across a pool of API keys.
package youtube

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/gamepulse/harvester/internal/harvest"
	"github.com/gamepulse/harvester/internal/metrics"
)

// quotaReasons are the 403 reasons that trigger key rotation instead of a
// plain retry.
var quotaReasons = map[string]struct{}{
	"quotaExceeded":         {},
	"dailyLimitExceeded":    {},
	"userRateLimitExceeded": {},
}

// transientStatuses are retried with backoff on the same key.
var transientStatuses = map[int]struct{}{
	500: {},
	502: {},
	503: {},
	504: {},
}

// ServiceFactory builds an API session bound to one key. Swappable in tests.
type ServiceFactory func(ctx context.Context, apiKey string) (*yt.Service, error)

func defaultServiceFactory(ctx context.Context, apiKey string) (*yt.Service, error) {
	return yt.NewService(ctx, option.WithAPIKey(apiKey))
}

// ClientConfig tunes the retry loop.
type ClientConfig struct {
	// Retries bounds transient-error attempts per call. Default 5.
	Retries int
	// BackoffBase is the base of the exponential backoff. Default 200ms.
	BackoffBase time.Duration
	// GlobalBackoff is how long the whole pool stays benched after an
	// exhaustion. Default 10 minutes.
	GlobalBackoff time.Duration
	// MaxInflight caps concurrent outbound calls. Default 5.
	MaxInflight int64
}

func (c *ClientConfig) applyDefaults() {
	if c.Retries <= 0 {
		c.Retries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.GlobalBackoff <= 0 {
		c.GlobalBackoff = 10 * time.Minute
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = 5
	}
}

// Client owns the credential pool. The rotation index, the current session,
// and the exhaustion timestamp form one critical section; the semaphore
// throttles concurrency across independent streams without changing
// per-stream ordering.
type Client struct {
	cfg     ClientConfig
	keys    []string
	factory ServiceFactory
	logger  *zap.Logger
	sem     *semaphore.Weighted

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu          sync.Mutex
	idx         int
	svc         *yt.Service
	lastExhaust time.Time
}

// NewClient builds a Client and its first session.
func NewClient(ctx context.Context, keys []string, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	return newClient(ctx, keys, cfg, defaultServiceFactory, logger)
}

// NewClientWithFactory is the injectable constructor used by tests.
func NewClientWithFactory(
	ctx context.Context,
	keys []string,
	cfg ClientConfig,
	factory ServiceFactory,
	logger *zap.Logger,
) (*Client, error) {
	return newClient(ctx, keys, cfg, factory, logger)
}

func newClient(
	ctx context.Context,
	keys []string,
	cfg ClientConfig,
	factory ServiceFactory,
	logger *zap.Logger,
) (*Client, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one API key is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		keys:    keys,
		factory: factory,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.MaxInflight),
		sleep:   sleepCtx,
		now:     time.Now,
	}
	svc, err := factory(ctx, keys[0])
	if err != nil {
		return nil, fmt.Errorf("build api session: %w", err)
	}
	c.svc = svc
	c.logger.Info("api session ready", zap.String("key", redactKey(keys[0])))
	return c, nil
}

// Do executes call against the current session, retrying transient errors
// with exponential backoff and rotating keys on quota errors. The call is a
// deferred closure over the session handle; Do owns actually running it.
//
// Failure modes: harvest.ErrQuotaExhausted once the whole pool is cycled,
// harvest.ErrUnavailable (wrapped) for anything that should be treated as
// "no data this call".
func Do[T any](ctx context.Context, c *Client, call func(svc *yt.Service) (T, error)) (T, error) {
	var zero T

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer c.sem.Release(1)

	// Honor the global backoff window left by a previous exhaustion before
	// touching the pool again.
	if wait := c.exhaustionWait(); wait > 0 {
		c.logger.Warn("pool exhausted recently, sleeping", zap.Duration("wait", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	attempt := 0
	rotations := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		start := c.now()
		out, err := call(c.session())
		metrics.ObserveAPICall(time.Since(start), err == nil)
		if err == nil {
			return out, nil
		}

		var gerr *googleapi.Error
		if !errors.As(err, &gerr) {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			c.logger.Error("unexpected api error", zap.Error(err))
			return zero, fmt.Errorf("%w: %v", harvest.ErrUnavailable, err)
		}

		if _, transient := transientStatuses[gerr.Code]; transient {
			attempt++
			if attempt >= c.cfg.Retries {
				c.logger.Error("retries exhausted", zap.Int("status", gerr.Code))
				return zero, fmt.Errorf("%w: retries exhausted after status %d", harvest.ErrUnavailable, gerr.Code)
			}
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return zero, serr
			}
			continue
		}

		if gerr.Code == 403 && isQuotaError(gerr) {
			rotations++
			metrics.IncKeyRotation()
			if rotations >= len(c.keys) {
				c.markExhausted()
				metrics.IncPoolExhaustion()
				c.logger.Warn("all api keys exhausted")
				return zero, fmt.Errorf("%w: %d keys cycled", harvest.ErrQuotaExhausted, len(c.keys))
			}
			if rerr := c.rotate(ctx); rerr != nil {
				return zero, fmt.Errorf("%w: %v", harvest.ErrUnavailable, rerr)
			}
			if serr := c.sleep(ctx, c.backoff(attempt)+randomJitter(100*time.Millisecond)); serr != nil {
				return zero, serr
			}
			continue
		}

		c.logger.Error("non-retryable api error",
			zap.Int("status", gerr.Code),
			zap.String("reason", errorReason(gerr)),
		)
		return zero, fmt.Errorf("%w: status %d (%s)", harvest.ErrUnavailable, gerr.Code, errorReason(gerr))
	}
}

// CurrentKey reports the key in use, for logging and tests.
func (c *Client) CurrentKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[c.idx]
}

func (c *Client) session() *yt.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svc
}

// rotate advances forward through the key cycle and rebuilds the session.
func (c *Client) rotate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = (c.idx + 1) % len(c.keys)
	svc, err := c.factory(ctx, c.keys[c.idx])
	if err != nil {
		return fmt.Errorf("rebuild api session: %w", err)
	}
	c.svc = svc
	c.logger.Info("rotated api key", zap.String("key", redactKey(c.keys[c.idx])))
	return nil
}

func (c *Client) markExhausted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastExhaust = c.now()
}

func (c *Client) exhaustionWait() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastExhaust.IsZero() {
		return 0
	}
	elapsed := c.now().Sub(c.lastExhaust)
	if elapsed >= c.cfg.GlobalBackoff {
		return 0
	}
	return c.cfg.GlobalBackoff - elapsed
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << uint(attempt)
	const maxBackoff = 30 * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func isQuotaError(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if _, ok := quotaReasons[item.Reason]; ok {
			return true
		}
	}
	return false
}

func errorReason(gerr *googleapi.Error) string {
	if len(gerr.Errors) > 0 {
		return gerr.Errors[0].Reason
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func redactKey(key string) string {
	if len(key) <= 6 {
		return "***"
	}
	return "***" + key[len(key)-4:]
}
