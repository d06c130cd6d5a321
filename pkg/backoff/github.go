package backoff

import (
	"net/http"
	"time"
)

// GitHub extends Default with the GitHub specific status codes. Statistics
// endpoints answer 202 while the data is computed in the background, and 422
// means the query itself is invalid.
type GitHub struct {
	Default

	// Accepted is the schedule for 202 responses.
	Accepted Exponential
}

// NewGitHub returns the GitHub strategy.
func NewGitHub() *GitHub {
	return &GitHub{
		Default: *NewDefault(),
		Accepted: Exponential{
			Min:       2 * time.Second,
			Max:       60 * time.Second,
			Factor:    2.0,
			Randomize: true,
		},
	}
}

// Decide implements Strategy. A 202 is retried on the Accepted schedule
// even when its placeholder body failed validation.
func (g *GitHub) Decide(attempt int, in Input) Decision {
	if in.Response != nil {
		switch in.Response.StatusCode {
		case http.StatusAccepted:
			return After(g.Accepted.Delay(attempt), "202 response")
		case http.StatusUnprocessableEntity:
			if in.Err == nil {
				return Stop("unprocessable-entity")
			}
		}
	}
	return g.Default.Decide(attempt, in)
}
