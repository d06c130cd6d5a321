package backoff

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Default is the generic strategy shared by every upstream.
type Default struct {
	// Schedule is used for errors and retryable status codes.
	Schedule Exponential

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewDefault returns the generic strategy with the default schedule.
func NewDefault() *Default {
	return &Default{Schedule: DefaultExponential()}
}

// Decide implements Strategy.
func (d *Default) Decide(attempt int, in Input) Decision {
	if in.Err == nil && in.Response != nil && ok(in.Response) {
		return Stop("ok response")
	}

	if in.Err != nil {
		return After(d.Schedule.Delay(attempt), "error: "+in.Err.Error())
	}

	if in.Response == nil {
		return Stop("no response")
	}

	if decision, limited := d.rateLimited(in.Response); limited {
		return decision
	}

	status := in.Response.StatusCode
	if status >= 400 && status < 500 {
		return Stop(fmt.Sprintf("don't retry status code: %d", status))
	}

	return After(d.Schedule.Delay(attempt), fmt.Sprintf("status code: %d", status))
}

// rateLimited handles a 403 carrying an exhausted quota. It reports false
// when the reset header is missing so the caller falls through to the
// generic status handling.
func (d *Default) rateLimited(resp *http.Response) (Decision, bool) {
	if resp.StatusCode != http.StatusForbidden || resp.Header.Get(HeaderRateRemaining) != "0" {
		return Decision{}, false
	}

	reset, err := strconv.ParseInt(resp.Header.Get(HeaderRateReset), 10, 64)
	if err != nil {
		return Decision{}, false
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	return After(time.Unix(reset, 0).Sub(now()), "rate-limited"), true
}

func ok(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
