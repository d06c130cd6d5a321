package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/forge-sync/pkg/client"
)

// FormatFailure renders the report line for a failed resource. When the
// cause carries a request diagnostic, the failing request as a curl
// command and the response status line follow, indented by four spaces.
func FormatFailure(name string, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌  %s failed to sync, reason: %v", name, cause)

	var rerr *client.ResponseError
	if errors.As(cause, &rerr) {
		for _, line := range rerr.Diagnostic() {
			b.WriteString("\n    ")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Report renders every failed resource of r, sorted by name. It is empty
// when nothing failed.
func Report(r Result) string {
	var lines []string
	for _, name := range r.Failed() {
		lines = append(lines, FormatFailure(name, r[name].Cause))
	}
	return strings.Join(lines, "\n")
}

// AggregateError is returned by Run when at least one resource failed.
type AggregateError struct {
	Result Result
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	return Report(e.Result)
}

// Failed returns the sorted names of the failed resources.
func (e *AggregateError) Failed() []string {
	return e.Result.Failed()
}

// Unwrap exposes the individual causes to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	var errs []error
	for _, name := range e.Result.Failed() {
		errs = append(errs, e.Result[name].Cause)
	}
	return errs
}
