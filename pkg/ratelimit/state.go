// Package ratelimit shares upstream request quota between executors.
// It records the X-RateLimit-Remaining and X-RateLimit-Reset headers of
// every response and holds requests back while the quota is exhausted, so
// concurrent resources (and concurrent processes sharing Redis) do not all
// run into 403 responses at once.
package ratelimit

import (
	"time"
)

// redisKeyPrefix prefixes the per-upstream hash holding the quota state.
const redisKeyPrefix = "forgesync:rate_limit:"

// Hash fields of the quota state.
const (
	fieldLimit      = "limit"
	fieldRemaining  = "remaining"
	fieldReset      = "reset"
	fieldLastUpdate = "last_update"
)

// Thresholds for gating decisions.
const (
	// ThresholdExhausted blocks requests until the window resets when the
	// remaining quota is at or below this value.
	ThresholdExhausted = 0

	// ThresholdWarning throttles requests when the remaining quota falls
	// below this value.
	ThresholdWarning = 100

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 500
)

func redisKey(upstream string) string {
	return redisKeyPrefix + upstream
}

// State is the quota of one upstream as last reported by its responses.
type State struct {
	Upstream string `json:"upstream"`

	// Limit is the size of the quota window (X-RateLimit-Limit), 0 if unknown.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (X-RateLimit-Reset, epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was recorded.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is assumed until an upstream reported its quota.
func defaultState(upstream string, now time.Time) *State {
	return &State{
		Upstream:   upstream,
		Remaining:  ThresholdHealthy,
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale reports whether the state is older than maxAge.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}

// NeedsBlock reports whether requests must wait for the window to reset.
// A window that already reset does not block.
func (s *State) NeedsBlock(now time.Time) bool {
	return s.Remaining <= ThresholdExhausted && s.ResetAt.After(now)
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *State) NeedsThrottling(now time.Time) bool {
	return s.Remaining < ThresholdWarning && !s.NeedsBlock(now) && s.ResetAt.After(now)
}

// TimeUntilReset returns the time left until the window resets, or 0.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
