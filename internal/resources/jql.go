package resources

import (
	"fmt"
	"strings"
	"time"
)

// jiraTimeLayout is the minute precision format JQL accepts in date
// comparisons.
const jiraTimeLayout = "2006-01-02 15:04"

// jiraQuery narrows jql to issues updated at or after since and orders the
// result so offsets stay stable while paging. The ORDER BY of jql, if any,
// is replaced. Jira reads date literals in the user's timezone, so since is
// written in loc; a nil loc is UTC.
func jiraQuery(jql string, since time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	where := strings.TrimSpace(jql)
	if i := strings.Index(strings.ToUpper(where), "ORDER BY"); i >= 0 {
		where = strings.TrimSpace(where[:i])
	}

	var clauses []string
	if where != "" {
		clauses = append(clauses, "("+where+")")
	}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("updated >= %q", since.In(loc).Format(jiraTimeLayout)))
	}
	return strings.TrimSpace(strings.Join(clauses, " AND ") + " ORDER BY key ASC")
}
