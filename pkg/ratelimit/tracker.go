package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/forge-sync/pkg/backoff"
	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// HeaderRateLimit carries the size of the quota window.
const HeaderRateLimit = "X-RateLimit-Limit"

// DefaultThrottle is the pause applied per request below ThresholdWarning.
const DefaultThrottle = time.Second

var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forgesync_rate_limit_remaining",
		Help: "Requests remaining in the current upstream rate limit window",
	}, []string{"upstream"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesync_rate_limit_blocks_total",
		Help: "Total number of requests held until the rate limit window reset",
	}, []string{"upstream"})

	rateLimitThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgesync_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to low remaining quota",
	}, []string{"upstream"})
)

// Tracker records upstream quota and gates requests. With a Redis client
// the state is shared by every process using the same Redis; without one
// it is kept in memory. It satisfies client.RateTracker.
type Tracker struct {
	redis    *redis.Client
	logger   zerolog.Logger
	throttle time.Duration
	now      func() time.Time

	mu     sync.Mutex
	memory map[string]State
}

// NewTracker creates a tracker. redisClient may be nil.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:    redisClient,
		logger:   logger.With().Str("component", logging.ComponentRateLimit).Logger(),
		throttle: DefaultThrottle,
		now:      time.Now,
		memory:   make(map[string]State),
	}
}

// SetThrottle changes the per-request pause applied below ThresholdWarning.
func (t *Tracker) SetThrottle(d time.Duration) {
	t.throttle = d
}

// GetState returns the quota state of upstream. A default healthy state is
// returned until the upstream reported its quota.
func (t *Tracker) GetState(ctx context.Context, upstream string) (*State, error) {
	now := t.now()

	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if s, ok := t.memory[upstream]; ok {
			return &s, nil
		}
		return defaultState(upstream, now), nil
	}

	fields, err := t.redis.HGetAll(ctx, redisKey(upstream)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(fields) == 0 {
		t.logger.Debug().Str("upstream", upstream).Msg("No rate limit state in Redis, assuming healthy")
		return defaultState(upstream, now), nil
	}

	state := &State{Upstream: upstream}
	if state.Limit, err = atoiField(fields, fieldLimit); err != nil {
		return nil, err
	}
	if state.Remaining, err = atoiField(fields, fieldRemaining); err != nil {
		return nil, err
	}
	reset, err := atoiField(fields, fieldReset)
	if err != nil {
		return nil, err
	}
	state.ResetAt = time.Unix(int64(reset), 0)

	if v := fields[fieldLastUpdate]; v != "" {
		if state.LastUpdate, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}
	state.UpdateHealth()

	return state, nil
}

func atoiField(fields map[string]string, name string) (int, error) {
	v, ok := fields[name]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

// Observe records the quota headers of a response from upstream.
// Responses without quota headers are ignored.
func (t *Tracker) Observe(ctx context.Context, upstream string, headers http.Header) error {
	remainStr := headers.Get(backoff.HeaderRateRemaining)
	if remainStr == "" {
		return nil
	}
	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", backoff.HeaderRateRemaining, err)
	}

	resetStr := headers.Get(backoff.HeaderRateReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", backoff.HeaderRateReset)
	}
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", backoff.HeaderRateReset, err)
	}

	var limit int
	if v := headers.Get(HeaderRateLimit); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRateLimit, err)
		}
	}

	now := t.now()
	state := State{
		Upstream:   upstream,
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(reset, 0),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if err := t.store(ctx, state); err != nil {
		return err
	}

	rateLimitRemaining.WithLabelValues(upstream).Set(float64(remain))

	event := t.logger.Debug()
	switch {
	case state.NeedsBlock(now):
		event = t.logger.Warn()
	case state.NeedsThrottling(now):
		event = t.logger.Info()
	}
	event.Str("upstream", upstream).
		Int("remaining", remain).
		Time("reset_at", state.ResetAt).
		Bool("is_healthy", state.IsHealthy).
		Msg("Rate limit state updated")

	return nil
}

func (t *Tracker) store(ctx context.Context, s State) error {
	if t.redis == nil {
		t.mu.Lock()
		t.memory[s.Upstream] = s
		t.mu.Unlock()
		return nil
	}

	key := redisKey(s.Upstream)
	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, key,
		fieldLimit, s.Limit,
		fieldRemaining, s.Remaining,
		fieldReset, s.ResetAt.Unix(),
		fieldLastUpdate, s.LastUpdate.Format(time.RFC3339Nano),
	)
	// Keep the state a little past the reset so late readers still see it.
	pipe.ExpireAt(ctx, key, s.ResetAt.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}

// Wait blocks until a request to upstream may be sent: until the window
// resets when the quota is exhausted, or for the throttle pause when it is
// low. It returns ctx.Err() if ctx is done first.
func (t *Tracker) Wait(ctx context.Context, upstream string) error {
	state, err := t.GetState(ctx, upstream)
	if err != nil {
		return fmt.Errorf("get rate limit state: %w", err)
	}

	now := t.now()
	var d time.Duration
	switch {
	case state.NeedsBlock(now):
		d = state.TimeUntilReset(now)
		rateLimitBlocksTotal.WithLabelValues(upstream).Inc()
		t.logger.Warn().
			Str("upstream", upstream).
			Dur("wait_duration", d).
			Msg("Rate limit exhausted - holding request until reset")
	case state.NeedsThrottling(now):
		d = t.throttle
		rateLimitThrottlesTotal.WithLabelValues(upstream).Inc()
		t.logger.Debug().
			Str("upstream", upstream).
			Int("remaining", state.Remaining).
			Msg("Rate limit low - throttling request")
	default:
		return nil
	}

	return sleep(ctx, d)
}

// Reset forgets the state of upstream.
func (t *Tracker) Reset(ctx context.Context, upstream string) error {
	if t.redis == nil {
		t.mu.Lock()
		delete(t.memory, upstream)
		t.mu.Unlock()
		return nil
	}
	if err := t.redis.Del(ctx, redisKey(upstream)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reset rate limit state: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
