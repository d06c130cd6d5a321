package resources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/forge-sync/internal/store"
	"github.com/Sternrassler/forge-sync/pkg/backoff"
	"github.com/Sternrassler/forge-sync/pkg/client"
	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
	"github.com/Sternrassler/forge-sync/pkg/pagination"
	"github.com/Sternrassler/forge-sync/pkg/schema"
)

const jiraPageSize = "100"

// The search body stays a map: offset pagination reads startAt, total and
// issues from it.
var jiraSearchSchema = schema.MustJSON(schema.Object("startAt", "total", "issues"))

// syncJiraIssues pages through the JQL search. Incremental syncs narrow the
// query to issues updated since the last sync.
func syncJiraIssues(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	if env.Jira == nil {
		return orchestrator.SyncResult{}, fmt.Errorf("jira is not configured")
	}
	started := env.now()
	since, err := env.since(in.Name)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	req, err := env.jiraRequest(jiraQuery(env.Jira.JQL, since, env.Jira.Location))
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	opts := pagination.Options{
		Schema:   jiraSearchSchema,
		Retries:  env.Jira.Retries,
		Strategy: backoff.NewDefault(),
		Next:     pagination.Offset(pagination.JiraFields),
		Upstream: UpstreamJira,
	}

	count := 0
	err = env.fetch(ctx, in, req, opts, func(data any) error {
		issues, _ := data.(map[string]any)["issues"].([]any)
		var docs []store.Document
		for _, raw := range issues {
			issue, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("jira issue is %T, not an object", raw)
			}
			key, _ := issue["key"].(string)
			if key == "" {
				return fmt.Errorf("jira issue without key")
			}
			docs = append(docs, store.Document{Key: key, Value: issue})
		}
		count += len(docs)
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

func (e *Env) jiraRequest(jql string) (*client.Request, error) {
	ref := &url.URL{
		Path: "rest/api/2/search",
		RawQuery: url.Values{
			"jql":        {jql},
			"startAt":    {"0"},
			"maxResults": {jiraPageSize},
		}.Encode(),
	}
	req, err := client.Get(e.Jira.BaseURL.ResolveReference(ref).String())
	if err != nil {
		return nil, err
	}
	return req.WithHeader("Accept", "application/json"), nil
}
