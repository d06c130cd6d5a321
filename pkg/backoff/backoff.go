// Package backoff decides whether, and how long, to wait before retrying an
// upstream request. Strategies are pure: they look at the attempt number and
// the outcome of that attempt and never perform I/O.
package backoff

import (
	"fmt"
	"net/http"
	"time"
)

// Rate limit headers sent by GitHub on every response.
const (
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
)

// Decision is the result of a Strategy. A nil Delay means stop retrying.
type Decision struct {
	Delay  *time.Duration
	Reason string
}

// Retry reports whether the decision asks for another attempt.
func (d Decision) Retry() bool {
	return d.Delay != nil
}

// Input is the outcome of a single attempt. Exactly one of Response and Err
// is expected to be set; Err wins when both are.
type Input struct {
	Response *http.Response
	Err      error
}

// Strategy maps an attempt outcome to a retry decision.
type Strategy interface {
	Decide(attempt int, in Input) Decision
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(attempt int, in Input) Decision

// Decide implements Strategy.
func (f StrategyFunc) Decide(attempt int, in Input) Decision {
	return f(attempt, in)
}

// Stop returns a terminal decision.
func Stop(reason string) Decision {
	return Decision{Reason: reason}
}

// After returns a decision that retries after d. Negative durations are
// clamped to zero.
func After(d time.Duration, reason string) Decision {
	if d < 0 {
		d = 0
	}
	return Decision{Delay: &d, Reason: reason}
}

// ByName returns the strategy registered under name.
func ByName(name string) (Strategy, error) {
	switch name {
	case "", "default":
		return NewDefault(), nil
	case "github":
		return NewGitHub(), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}
