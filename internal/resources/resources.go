// Package resources defines the resources forgesync syncs from GitHub and
// Jira, and turns a selection of them into orchestrator operations.
package resources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/Sternrassler/forge-sync/internal/store"
	"github.com/Sternrassler/forge-sync/pkg/backoff"
	"github.com/Sternrassler/forge-sync/pkg/client"
	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
	"github.com/Sternrassler/forge-sync/pkg/pagination"
	"github.com/Sternrassler/forge-sync/pkg/progress"
	"github.com/Sternrassler/forge-sync/pkg/schema"
)

// Upstream names.
const (
	UpstreamGitHub = "github"
	UpstreamJira   = "jira"
)

// Store persists synced documents and the time of the last sync.
// *store.Store satisfies it.
type Store interface {
	PutDocuments(resource string, docs []store.Document) error
	LastSyncedAt(resource string) (time.Time, bool, error)
	SetSyncedAt(resource string, at time.Time) error
}

// GitHub locates the repository to sync.
type GitHub struct {
	// Exec runs requests authenticated against GitHub.
	Exec pagination.Executor

	// BaseURL of the REST API, e.g. https://api.github.com/.
	BaseURL *url.URL
	Owner   string
	Repo    string
	Retries int

	// A nil Strategy uses the executor default. StatsStrategy defaults to
	// backoff.NewGitHub.
	Strategy      backoff.Strategy
	StatsStrategy backoff.Strategy
}

// Jira locates the issues to sync.
type Jira struct {
	Exec    pagination.Executor
	BaseURL *url.URL
	JQL     string
	Retries int

	// Location the Jira server reads JQL dates in; nil is UTC.
	Location *time.Location
}

// Env carries what operations need to run.
type Env struct {
	Store Store

	GitHub GitHub

	// Jira is nil when Jira is not configured.
	Jira *Jira

	MaxPages int

	// Full ignores the last sync time.
	Full bool

	// Sink receives progress events of every request in addition to the
	// orchestrator observer.
	Sink progress.Sink

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// since returns the time of the last successful sync of resource, or the
// zero time for a full sync.
func (e *Env) since(resource string) (time.Time, error) {
	if e.Full {
		return time.Time{}, nil
	}
	at, ok, err := e.Store.LastSyncedAt(resource)
	if err != nil {
		return time.Time{}, fmt.Errorf("read last sync of %s: %w", resource, err)
	}
	if !ok {
		return time.Time{}, nil
	}
	return at, nil
}

// fetch drains the paginator starting at req, handing every validated page
// to fn.
func (e *Env) fetch(ctx context.Context, in orchestrator.Inputs, req *client.Request, opts pagination.Options, fn func(data any) error) error {
	exec := e.GitHub.Exec
	if opts.Upstream == UpstreamJira {
		exec = e.Jira.Exec
	}
	opts.MaxPages = e.MaxPages
	opts.Sink = progress.Multi(in.Sink(), e.Sink, opts.Sink)
	p := pagination.New(exec, req, opts)
	return pagination.Each(ctx, p, func(page *client.Result) error {
		return fn(page.Data)
	})
}

// Resource is one syncable category of data.
type Resource struct {
	Name     string
	Upstream string

	// DependsOn names the resource whose SyncResult this one consumes.
	DependsOn string

	// Symbol is rendered by the progress observer for each fetched page.
	Symbol string

	// Description is shown by `forgesync resources`.
	Description string

	Sync func(ctx context.Context, env *Env, in orchestrator.Inputs) (orchestrator.SyncResult, error)
}

// All returns every resource in display order.
func All() []Resource {
	return []Resource{
		{Name: "pulls", Upstream: UpstreamGitHub, Symbol: "p", Description: "Pull requests, newest update first", Sync: syncPulls},
		{Name: "pull-commits", Upstream: UpstreamGitHub, DependsOn: "pulls", Symbol: "P", Description: "Commits of the pull requests synced by pulls", Sync: syncPullCommits},
		{Name: "commits", Upstream: UpstreamGitHub, Symbol: "c", Description: "Commits of the default branch", Sync: syncCommits},
		{Name: "releases", Upstream: UpstreamGitHub, Symbol: "r", Description: "Releases", Sync: syncReleases},
		{Name: "workflow-runs", Upstream: UpstreamGitHub, Symbol: "w", Description: "GitHub Actions workflow runs", Sync: syncWorkflowRuns},
		{Name: "stats-contributors", Upstream: UpstreamGitHub, Symbol: "s", Description: "Weekly contributor statistics", Sync: syncStatsContributors},
		{Name: "code-frequency", Upstream: UpstreamGitHub, Symbol: "f", Description: "Weekly additions and deletions", Sync: syncCodeFrequency},
		{Name: "jira-issues", Upstream: UpstreamJira, Symbol: "j", Description: "Jira issues matching the configured JQL", Sync: syncJiraIssues},
	}
}

// Lookup returns the resource called name.
func Lookup(name string) (Resource, bool) {
	for _, r := range All() {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// Symbols maps resource names to their progress symbol.
func Symbols() map[string]string {
	symbols := make(map[string]string)
	for _, r := range All() {
		symbols[r.Name] = r.Symbol
	}
	return symbols
}

// Build returns the operations and dependency graph for the named
// resources. An empty selection means every resource whose upstream is
// configured. Prerequisites of selected resources are added automatically.
// Each operation records its sync time in the store on success.
func Build(env *Env, names []string) (map[string]orchestrator.Operation, map[string]string, error) {
	selected := make(map[string]Resource)

	var add func(name string, explicit bool) error
	add = func(name string, explicit bool) error {
		if _, ok := selected[name]; ok {
			return nil
		}
		r, ok := Lookup(name)
		if !ok {
			return fmt.Errorf("unknown resource %q", name)
		}
		if r.Upstream == UpstreamJira && env.Jira == nil {
			if explicit {
				return fmt.Errorf("resource %q needs jira to be configured", name)
			}
			return nil
		}
		selected[name] = r
		if r.DependsOn != "" {
			return add(r.DependsOn, true)
		}
		return nil
	}

	if len(names) == 0 {
		for _, r := range All() {
			if err := add(r.Name, false); err != nil {
				return nil, nil, err
			}
		}
	}
	for _, name := range names {
		if err := add(name, true); err != nil {
			return nil, nil, err
		}
	}

	ops := make(map[string]orchestrator.Operation, len(selected))
	deps := make(map[string]string)
	for name, r := range selected {
		ops[name] = operation(env, r)
		if r.DependsOn != "" {
			deps[name] = r.DependsOn
		}
	}
	return ops, deps, nil
}

func operation(env *Env, r Resource) orchestrator.Operation {
	return func(ctx context.Context, in orchestrator.Inputs) (orchestrator.SyncResult, error) {
		res, err := r.Sync(ctx, env, in)
		if err != nil {
			return res, err
		}
		if err := env.Store.SetSyncedAt(r.Name, res.SyncedAt); err != nil {
			return res, fmt.Errorf("record sync time: %w", err)
		}
		return res, nil
	}
}

// Names returns the sorted resource names.
func Names() []string {
	var names []string
	for _, r := range All() {
		names = append(names, r.Name)
	}
	sort.Strings(names)
	return names
}

// githubRequest builds a request for path relative to the repository.
func (e *Env) githubRequest(path string, query url.Values) (*client.Request, error) {
	ref := &url.URL{
		Path:     fmt.Sprintf("repos/%s/%s/%s", url.PathEscape(e.GitHub.Owner), url.PathEscape(e.GitHub.Repo), path),
		RawQuery: query.Encode(),
	}
	req, err := client.NewRequest("GET", e.GitHub.BaseURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	return req.
		WithHeader("Accept", "application/vnd.github+json").
		WithHeader("X-GitHub-Api-Version", "2022-11-28"), nil
}

func (e *Env) githubOptions(s schema.Validator) pagination.Options {
	return pagination.Options{
		Schema:   s,
		Retries:  e.GitHub.Retries,
		Strategy: e.GitHub.Strategy,
		Upstream: UpstreamGitHub,
	}
}

// statsOptions use the GitHub strategy: statistics endpoints answer 202
// with a placeholder body until GitHub computed them.
func (e *Env) statsOptions(s schema.Validator) pagination.Options {
	opts := e.githubOptions(s)
	opts.Strategy = e.GitHub.StatsStrategy
	if opts.Strategy == nil {
		opts.Strategy = backoff.NewGitHub()
	}
	opts.Retries = max(e.GitHub.Retries, statsRetries)
	return opts
}

const statsRetries = 10
