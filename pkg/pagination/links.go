package pagination

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/Sternrassler/forge-sync/pkg/client"
)

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseLinks extracts all URLs from a Link header by relationship type.
func ParseLinks(header string) map[string]string {
	links := make(map[string]string)
	if header == "" {
		return links
	}

	for _, part := range strings.Split(header, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) != 3 {
			continue
		}
		for _, rel := range strings.Fields(matches[2]) {
			links[rel] = matches[1]
		}
	}
	return links
}

// LinkNext follows the rel="next" entry of the Link header.
func LinkNext(prev *client.Request, resp *http.Response, _ any) (*client.Request, error) {
	next := ParseLinks(resp.Header.Get("Link"))["next"]
	if next == "" {
		return nil, nil
	}
	return prev.WithURL(next)
}
