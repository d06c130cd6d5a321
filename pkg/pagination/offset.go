package pagination

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Sternrassler/forge-sync/pkg/client"
)

// OffsetFields names the body fields and query parameter of an offset
// paginated endpoint.
type OffsetFields struct {
	// Param is the query parameter carrying the offset.
	Param string

	Start  string
	Total  string
	Values string
}

// JiraFields are the field names used by Jira search.
var JiraFields = OffsetFields{
	Param:  "startAt",
	Start:  "startAt",
	Total:  "total",
	Values: "issues",
}

// Offset returns a NextFunc for body embedded offset pagination: the next
// offset is start + len(values) and pagination stops once it reaches
// total, or when a page comes back empty.
func Offset(fields OffsetFields) NextFunc {
	return func(prev *client.Request, _ *http.Response, data any) (*client.Request, error) {
		body, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("offset pagination expects an object body, got %T", data)
		}

		start, err := intField(body, fields.Start)
		if err != nil {
			return nil, err
		}
		total, err := intField(body, fields.Total)
		if err != nil {
			return nil, err
		}
		values, ok := body[fields.Values].([]any)
		if !ok {
			return nil, fmt.Errorf("field %q is not an array", fields.Values)
		}

		next := start + len(values)
		if len(values) == 0 || next >= total {
			return nil, nil
		}
		return prev.WithQuery(fields.Param, strconv.Itoa(next)), nil
	}
}

func intField(body map[string]any, name string) (int, error) {
	switch v := body[name].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case nil:
		return 0, fmt.Errorf("field %q missing", name)
	default:
		return 0, fmt.Errorf("field %q is %T, not a number", name, v)
	}
}

// Until wraps next so pagination also stops once stop reports that the
// page just fetched reached data that was already synced.
func Until(next NextFunc, stop func(data any) bool) NextFunc {
	return func(prev *client.Request, resp *http.Response, data any) (*client.Request, error) {
		if stop(data) {
			return nil, nil
		}
		return next(prev, resp, data)
	}
}
