package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Sternrassler/forge-sync/pkg/client"
)

func TestFormatFailure(t *testing.T) {
	req := client.MustRequest("GET", "https://api.github.com/repos/o/r/stats/contributors", nil).
		WithHeader("Authorization", "token secret")

	tests := []struct {
		name  string
		cause error
		want  string
	}{
		{
			name:  "plain error",
			cause: errors.New("disk full"),
			want:  "❌  releases failed to sync, reason: disk full",
		},
		{
			name:  "response error",
			cause: &client.ResponseError{Request: req, StatusCode: 404, Status: "404 Not Found"},
			want: "❌  releases failed to sync, reason: unexpected response: 404 Not Found\n" +
				"    curl -H 'Authorization: REDACTED' 'https://api.github.com/repos/o/r/stats/contributors'\n" +
				"    HTTP 404 Not Found",
		},
		{
			name:  "wrapped response error",
			cause: fmt.Errorf("sync releases: %w", &client.ResponseError{Request: req, StatusCode: 500}),
			want: "❌  releases failed to sync, reason: sync releases: unexpected response: 500\n" +
				"    curl -H 'Authorization: REDACTED' 'https://api.github.com/repos/o/r/stats/contributors'\n" +
				"    HTTP 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFailure("releases", tt.cause); got != tt.want {
				t.Errorf("FormatFailure() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestReport_SortedByName(t *testing.T) {
	result := Result{
		"releases": {State: StateError, Cause: errors.New("b")},
		"commits":  {State: StateError, Cause: errors.New("a")},
		"pulls":    {State: StateSuccess},
		"issues":   {State: StatePending},
	}

	want := "❌  commits failed to sync, reason: a\n❌  releases failed to sync, reason: b"
	if got := Report(result); got != want {
		t.Errorf("Report() =\n%s\nwant\n%s", got, want)
	}
	if result.Count(StateError) != 2 || result.Count(StatePending) != 1 {
		t.Errorf("counts wrong: %+v", result)
	}
}
