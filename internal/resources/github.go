package resources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/Sternrassler/forge-sync/internal/store"
	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
	"github.com/Sternrassler/forge-sync/pkg/pagination"
	"github.com/Sternrassler/forge-sync/pkg/schema"
)

const perPage = "100"

var (
	pullsSchema = schema.Chain(
		schema.MustJSON(schema.Array(schema.Object("number", "updated_at"))),
		schema.Decode[[]*gh.PullRequest](),
	)
	commitsSchema = schema.Chain(
		schema.MustJSON(schema.Array(schema.Object("sha"))),
		schema.Decode[[]*gh.RepositoryCommit](),
	)
	releasesSchema = schema.Chain(
		schema.MustJSON(schema.Array(schema.Object("id", "tag_name"))),
		schema.Decode[[]*gh.RepositoryRelease](),
	)
	workflowRunsSchema = schema.Chain(
		schema.MustJSON(schema.Object("total_count", "workflow_runs")),
		schema.Decode[*gh.WorkflowRuns](),
	)
	contributorsSchema = schema.Chain(
		schema.MustJSON(schema.Array(schema.Object("author", "total", "weeks"))),
		schema.Decode[[]*gh.ContributorStats](),
	)
	codeFrequencySchema = schema.Chain(
		schema.MustJSON(schema.Array(schema.Array(nil))),
		schema.Decode[[][]int64](),
	)
)

// syncPulls fetches pull requests sorted by last update, stopping at the
// first page that reaches pulls already synced. Items holds the numbers of
// the pull requests that changed.
func syncPulls(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	since, err := env.since(in.Name)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	req, err := env.githubRequest("pulls", url.Values{
		"state":     {"all"},
		"sort":      {"updated"},
		"direction": {"desc"},
		"per_page":  {perPage},
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	opts := env.githubOptions(pullsSchema)
	opts.Next = pagination.Until(pagination.LinkNext, func(data any) bool {
		pulls := data.([]*gh.PullRequest)
		return len(pulls) > 0 && !updatedAfter(pulls[len(pulls)-1].UpdatedAt, since)
	})

	var numbers []int
	err = env.fetch(ctx, in, req, opts, func(data any) error {
		var docs []store.Document
		for _, pr := range data.([]*gh.PullRequest) {
			if !updatedAfter(pr.UpdatedAt, since) {
				continue
			}
			numbers = append(numbers, pr.GetNumber())
			docs = append(docs, store.Document{Key: strconv.Itoa(pr.GetNumber()), Value: pr})
		}
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: numbers}, nil
}

// syncPullCommits fetches the commits of every pull request the pulls
// resource reported as changed.
func syncPullCommits(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	prereq, result, ok := in.Prerequisite()
	if !ok {
		return orchestrator.SyncResult{}, fmt.Errorf("%s needs the result of its prerequisite", in.Name)
	}
	numbers, ok := result.Items.([]int)
	if !ok && result.Items != nil {
		return orchestrator.SyncResult{}, fmt.Errorf("unexpected %s result %T", prereq, result.Items)
	}

	count := 0
	for _, n := range numbers {
		req, err := env.githubRequest(fmt.Sprintf("pulls/%d/commits", n), url.Values{"per_page": {perPage}})
		if err != nil {
			return orchestrator.SyncResult{}, err
		}
		err = env.fetch(ctx, in, req, env.githubOptions(commitsSchema), func(data any) error {
			var docs []store.Document
			for _, c := range data.([]*gh.RepositoryCommit) {
				docs = append(docs, store.Document{Key: fmt.Sprintf("%d/%s", n, c.GetSHA()), Value: c})
			}
			count += len(docs)
			return env.Store.PutDocuments(in.Name, docs)
		})
		if err != nil {
			return orchestrator.SyncResult{}, fmt.Errorf("pull #%d: %w", n, err)
		}
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

func syncCommits(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	since, err := env.since(in.Name)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	query := url.Values{"per_page": {perPage}}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	req, err := env.githubRequest("commits", query)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	count := 0
	err = env.fetch(ctx, in, req, env.githubOptions(commitsSchema), func(data any) error {
		var docs []store.Document
		for _, c := range data.([]*gh.RepositoryCommit) {
			docs = append(docs, store.Document{Key: c.GetSHA(), Value: c})
		}
		count += len(docs)
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

// syncReleases always fetches every release; the list is small and
// releases can be edited without a usable timestamp.
func syncReleases(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	req, err := env.githubRequest("releases", url.Values{"per_page": {perPage}})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	count := 0
	err = env.fetch(ctx, in, req, env.githubOptions(releasesSchema), func(data any) error {
		var docs []store.Document
		for _, r := range data.([]*gh.RepositoryRelease) {
			docs = append(docs, store.Document{Key: strconv.FormatInt(r.GetID(), 10), Value: r})
		}
		count += len(docs)
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

func syncWorkflowRuns(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	since, err := env.since(in.Name)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	query := url.Values{"per_page": {perPage}}
	if !since.IsZero() {
		query.Set("created", ">="+since.UTC().Format(time.RFC3339))
	}
	req, err := env.githubRequest("actions/runs", query)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	count := 0
	err = env.fetch(ctx, in, req, env.githubOptions(workflowRunsSchema), func(data any) error {
		var docs []store.Document
		for _, run := range data.(*gh.WorkflowRuns).WorkflowRuns {
			docs = append(docs, store.Document{Key: strconv.FormatInt(run.GetID(), 10), Value: run})
		}
		count += len(docs)
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

// syncStatsContributors stores one document per contributor login.
func syncStatsContributors(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	req, err := env.githubRequest("stats/contributors", nil)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	count := 0
	err = env.fetch(ctx, in, req, env.statsOptions(contributorsSchema), func(data any) error {
		var docs []store.Document
		for _, s := range data.([]*gh.ContributorStats) {
			login := s.GetAuthor().GetLogin()
			if login == "" {
				continue
			}
			docs = append(docs, store.Document{Key: login, Value: s})
		}
		count += len(docs)
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

// syncCodeFrequency stores one document per week, keyed by its unix start.
// GitHub encodes each week as [week, additions, deletions].
func syncCodeFrequency(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
	started := env.now()
	req, err := env.githubRequest("stats/code_frequency", nil)
	if err != nil {
		return orchestrator.SyncResult{}, err
	}

	count := 0
	err = env.fetch(ctx, in, req, env.statsOptions(codeFrequencySchema), func(data any) error {
		var docs []store.Document
		for _, week := range data.([][]int64) {
			if len(week) != 3 {
				return fmt.Errorf("code frequency week has %d fields, want 3", len(week))
			}
			docs = append(docs, store.Document{
				Key: strconv.FormatInt(week[0], 10),
				Value: &gh.WeeklyStats{
					Week:      &gh.Timestamp{Time: time.Unix(week[0], 0).UTC()},
					Additions: gh.Ptr(int(week[1])),
					Deletions: gh.Ptr(int(-week[2])),
				},
			})
		}
		count += len(docs)
		return env.Store.PutDocuments(in.Name, docs)
	})
	if err != nil {
		return orchestrator.SyncResult{}, err
	}
	return orchestrator.SyncResult{SyncedAt: started, Items: count}, nil
}

// updatedAfter reports whether ts is after since. A zero since matches
// everything.
func updatedAfter(ts *gh.Timestamp, since time.Time) bool {
	if since.IsZero() {
		return true
	}
	return ts != nil && ts.After(since)
}
