package resources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/Sternrassler/forge-sync/internal/store"
	"github.com/Sternrassler/forge-sync/internal/testutil"
	"github.com/Sternrassler/forge-sync/pkg/backoff"
	"github.com/Sternrassler/forge-sync/pkg/client"
	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
)

var (
	syncStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fast      = backoff.Exponential{Min: time.Millisecond, Max: time.Millisecond, Factor: 1}
)

func newTestEnv(t *testing.T, mock *testutil.MockUpstream) (*Env, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	exec, err := client.New(client.Config{UserAgent: "forgesync-test"})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	base, _ := url.Parse(mock.URL() + "/")

	env := &Env{
		Store: st,
		GitHub: GitHub{
			Exec:          exec,
			BaseURL:       base,
			Owner:         "acme",
			Repo:          "widgets",
			Retries:       client.NoRetries,
			Strategy:      &backoff.Default{Schedule: fast},
			StatsStrategy: &backoff.GitHub{Default: backoff.Default{Schedule: fast}, Accepted: fast},
		},
		Now: func() time.Time { return syncStart },
	}
	return env, st
}

func pullJSON(number int, updated time.Time) string {
	return fmt.Sprintf(`{"number":%d,"title":"PR %d","updated_at":%q}`, number, number, updated.Format(time.RFC3339))
}

func commitJSON(sha string) string {
	return fmt.Sprintf(`{"sha":%q,"commit":{"message":"change %s"}}`, sha, sha)
}

func TestBuild(t *testing.T) {
	jira := &Jira{JQL: "project = FS"}

	tests := []struct {
		name     string
		jira     *Jira
		names    []string
		wantOps  []string
		wantDeps map[string]string
		wantErr  string
	}{
		{
			name:     "all without jira",
			wantOps:  []string{"code-frequency", "commits", "pull-commits", "pulls", "releases", "stats-contributors", "workflow-runs"},
			wantDeps: map[string]string{"pull-commits": "pulls"},
		},
		{
			name:     "all with jira",
			jira:     jira,
			wantOps:  []string{"code-frequency", "commits", "jira-issues", "pull-commits", "pulls", "releases", "stats-contributors", "workflow-runs"},
			wantDeps: map[string]string{"pull-commits": "pulls"},
		},
		{
			name:     "prerequisite added",
			names:    []string{"pull-commits"},
			wantOps:  []string{"pull-commits", "pulls"},
			wantDeps: map[string]string{"pull-commits": "pulls"},
		},
		{
			name:     "single",
			names:    []string{"releases"},
			wantOps:  []string{"releases"},
			wantDeps: map[string]string{},
		},
		{
			name:    "unknown",
			names:   []string{"issues"},
			wantErr: `unknown resource "issues"`,
		},
		{
			name:    "jira not configured",
			names:   []string{"jira-issues"},
			wantErr: "needs jira",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, deps, err := Build(&Env{Jira: tt.jira}, tt.names)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Build() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}

			got := orchestrator.Result{}
			for name := range ops {
				got[name] = orchestrator.Outcome{}
			}
			if fmt.Sprint(got.Names()) != fmt.Sprint(tt.wantOps) {
				t.Errorf("operations = %v, want %v", got.Names(), tt.wantOps)
			}
			if fmt.Sprint(deps) != fmt.Sprint(tt.wantDeps) {
				t.Errorf("deps = %v, want %v", deps, tt.wantDeps)
			}
			if err := orchestrator.ValidateGraph(ops, deps); err != nil {
				t.Errorf("ValidateGraph() error = %v", err)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	seen := make(map[string]bool)
	for _, r := range All() {
		if seen[r.Symbol] {
			t.Errorf("symbol %q used twice", r.Symbol)
		}
		seen[r.Symbol] = true
		if r.Sync == nil {
			t.Errorf("%s has no Sync", r.Name)
		}
		if r.DependsOn != "" {
			if _, ok := Lookup(r.DependsOn); !ok {
				t.Errorf("%s depends on unknown %s", r.Name, r.DependsOn)
			}
		}
	}
	if len(Names()) != len(All()) {
		t.Errorf("Names() = %v", Names())
	}
	if Symbols()["pulls"] != "p" {
		t.Errorf("Symbols()[pulls] = %q", Symbols()["pulls"])
	}
}

func TestSyncPulls_StopsAtLastSync(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	lastSync := syncStart.Add(-24 * time.Hour)
	mock.SetPages("/repos/acme/widgets/pulls",
		"["+pullJSON(3, lastSync.Add(5*time.Hour))+","+pullJSON(2, lastSync.Add(3*time.Hour))+"]",
		"["+pullJSON(1, lastSync.Add(time.Hour))+","+pullJSON(9, lastSync.Add(-time.Hour))+"]",
		"["+pullJSON(8, lastSync.Add(-2*time.Hour))+"]",
	)

	env, st := newTestEnv(t, mock)
	if err := st.SetSyncedAt("pulls", lastSync); err != nil {
		t.Fatalf("SetSyncedAt() error = %v", err)
	}

	res, err := syncPulls(context.Background(), env, orchestrator.Inputs{Name: "pulls"})
	if err != nil {
		t.Fatalf("syncPulls() error = %v", err)
	}

	if fmt.Sprint(res.Items) != "[3 2 1]" {
		t.Errorf("Items = %v, want [3 2 1]", res.Items)
	}
	if !res.SyncedAt.Equal(syncStart) {
		t.Errorf("SyncedAt = %v, want %v", res.SyncedAt, syncStart)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2 (third page is older than the last sync)", got)
	}
	if n, _ := st.Count("pulls"); n != 3 {
		t.Errorf("stored pulls = %d, want 3", n)
	}

	query := mock.Requests()[0]
	for _, want := range []string{"state=all", "sort=updated", "direction=desc", "per_page=100"} {
		if !strings.Contains(query, want) {
			t.Errorf("first request %q lacks %s", query, want)
		}
	}
	header := mock.LastRequestHeader()
	if header.Get("Accept") != "application/vnd.github+json" || header.Get("X-GitHub-Api-Version") == "" {
		t.Errorf("GitHub headers missing: %v", header)
	}
}

func TestSyncPulls_Full(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	old := syncStart.Add(-365 * 24 * time.Hour)
	mock.SetPages("/repos/acme/widgets/pulls",
		"["+pullJSON(2, old)+"]",
		"["+pullJSON(1, old)+"]",
	)

	env, st := newTestEnv(t, mock)
	st.SetSyncedAt("pulls", syncStart.Add(-time.Hour))
	env.Full = true

	res, err := syncPulls(context.Background(), env, orchestrator.Inputs{Name: "pulls"})
	if err != nil {
		t.Fatalf("syncPulls() error = %v", err)
	}
	if fmt.Sprint(res.Items) != "[2 1]" {
		t.Errorf("Items = %v, want [2 1]", res.Items)
	}
}

func TestRun_PullCommitsUsePrerequisite(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	mock.SetPages("/repos/acme/widgets/pulls", "["+pullJSON(7, syncStart)+","+pullJSON(8, syncStart)+"]")
	mock.SetPages("/repos/acme/widgets/pulls/7/commits", "["+commitJSON("aaa")+"]", "["+commitJSON("bbb")+"]")
	mock.SetPages("/repos/acme/widgets/pulls/8/commits", "["+commitJSON("ccc")+"]")

	env, st := newTestEnv(t, mock)
	ops, deps, err := Build(env, []string{"pull-commits"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	result, err := orchestrator.Run(context.Background(), ops, deps, orchestrator.Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Count(orchestrator.StateSuccess) != 2 {
		t.Fatalf("result = %v", result)
	}

	keys, err := st.Keys("pull-commits")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if fmt.Sprint(keys) != "[7/aaa 7/bbb 8/ccc]" {
		t.Errorf("keys = %v", keys)
	}

	var c gh.RepositoryCommit
	if err := st.Get("pull-commits", "7/bbb", &c); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.GetCommit().GetMessage() != "change bbb" {
		t.Errorf("message = %q", c.GetCommit().GetMessage())
	}

	for _, name := range []string{"pulls", "pull-commits"} {
		at, ok, err := st.LastSyncedAt(name)
		if err != nil || !ok || !at.Equal(syncStart) {
			t.Errorf("LastSyncedAt(%s) = %v, %v, %v", name, at, ok, err)
		}
	}
}

func TestRun_FailedPullsSkipCommits(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/repos/acme/widgets/pulls", testutil.NewServerErrorResponse())

	env, st := newTestEnv(t, mock)
	ops, deps, _ := Build(env, []string{"pull-commits"})

	result, err := orchestrator.Run(context.Background(), ops, deps, orchestrator.Options{})
	if !orchestrator.IsAggregate(err) {
		t.Fatalf("Run() error = %v, want aggregate", err)
	}
	if !result["pull-commits"].Skipped {
		t.Errorf("pull-commits = %+v, want skipped", result["pull-commits"])
	}
	if !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("report lacks status line:\n%s", err)
	}
	if _, ok, _ := st.LastSyncedAt("pulls"); ok {
		t.Error("failed sync recorded a sync time")
	}
}

func TestSyncCommits_Since(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetPages("/repos/acme/widgets/commits", "["+commitJSON("a1")+","+commitJSON("b2")+"]")

	env, st := newTestEnv(t, mock)
	st.SetSyncedAt("commits", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))

	res, err := syncCommits(context.Background(), env, orchestrator.Inputs{Name: "commits"})
	if err != nil {
		t.Fatalf("syncCommits() error = %v", err)
	}
	if res.Items != 2 {
		t.Errorf("Items = %v, want 2", res.Items)
	}
	if !strings.Contains(mock.Requests()[0], "since=2025-05-01T00%3A00%3A00Z") {
		t.Errorf("request = %s, want since parameter", mock.Requests()[0])
	}
}

func TestSyncReleases(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetPages("/repos/acme/widgets/releases", `[{"id":11,"tag_name":"v1.0.0"},{"id":12,"tag_name":"v1.1.0"}]`)

	env, st := newTestEnv(t, mock)
	if _, err := syncReleases(context.Background(), env, orchestrator.Inputs{Name: "releases"}); err != nil {
		t.Fatalf("syncReleases() error = %v", err)
	}

	var r gh.RepositoryRelease
	if err := st.Get("releases", "12", &r); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if r.GetTagName() != "v1.1.0" {
		t.Errorf("tag = %q", r.GetTagName())
	}
}

func TestSyncReleases_InvalidBody(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetPages("/repos/acme/widgets/releases", `[{"id":"eleven","tag_name":"v1.0.0"}]`)

	env, _ := newTestEnv(t, mock)
	_, err := syncReleases(context.Background(), env, orchestrator.Inputs{Name: "releases"})
	if err == nil {
		t.Fatal("syncReleases() error = nil, want validation error")
	}
}

func TestSyncWorkflowRuns(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetPages("/repos/acme/widgets/actions/runs",
		`{"total_count":3,"workflow_runs":[{"id":1,"status":"completed"},{"id":2,"status":"completed"}]}`,
		`{"total_count":3,"workflow_runs":[{"id":3,"status":"queued"}]}`,
	)

	env, st := newTestEnv(t, mock)
	st.SetSyncedAt("workflow-runs", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))

	res, err := syncWorkflowRuns(context.Background(), env, orchestrator.Inputs{Name: "workflow-runs"})
	if err != nil {
		t.Fatalf("syncWorkflowRuns() error = %v", err)
	}
	if res.Items != 3 {
		t.Errorf("Items = %v, want 3", res.Items)
	}
	if !strings.Contains(mock.Requests()[0], "created=%3E%3D2025-05-01") {
		t.Errorf("request = %s, want created filter", mock.Requests()[0])
	}
}

func TestSyncStatsContributors_RetriesWhileComputing(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetSequence("/repos/acme/widgets/stats/contributors",
		testutil.NewAcceptedResponse(),
		testutil.NewAcceptedResponse(),
		testutil.NewJSONResponse(`[{"author":{"login":"octo"},"total":4,"weeks":[{"w":1700000000,"a":10,"d":2,"c":4}]},{"author":null,"total":1,"weeks":[]}]`),
	)

	env, st := newTestEnv(t, mock)
	res, err := syncStatsContributors(context.Background(), env, orchestrator.Inputs{Name: "stats-contributors"})
	if err != nil {
		t.Fatalf("syncStatsContributors() error = %v", err)
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	if res.Items != 1 {
		t.Errorf("Items = %v, want 1 (ghost author skipped)", res.Items)
	}

	var s gh.ContributorStats
	if err := st.Get("stats-contributors", "octo", &s); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s.GetTotal() != 4 {
		t.Errorf("total = %d", s.GetTotal())
	}
}

func TestSyncCodeFrequency(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/repos/acme/widgets/stats/code_frequency",
		testutil.NewJSONResponse(`[[1700000000,120,-30],[1700604800,5,0]]`))

	env, st := newTestEnv(t, mock)
	if _, err := syncCodeFrequency(context.Background(), env, orchestrator.Inputs{Name: "code-frequency"}); err != nil {
		t.Fatalf("syncCodeFrequency() error = %v", err)
	}

	var w gh.WeeklyStats
	if err := st.Get("code-frequency", "1700000000", &w); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w.GetAdditions() != 120 || w.GetDeletions() != 30 {
		t.Errorf("week = +%d -%d, want +120 -30", w.GetAdditions(), w.GetDeletions())
	}
}

func TestSyncJiraIssues_Offset(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	mock.SetHandler("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		var issues []string
		for i := start; i < start+2 && i < 3; i++ {
			issues = append(issues, fmt.Sprintf(`{"key":"FS-%d","fields":{"summary":"issue %d"}}`, i+1, i+1))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"startAt":%d,"maxResults":2,"total":3,"issues":[%s]}`, start, strings.Join(issues, ","))
	})

	env, st := newTestEnv(t, mock)
	base, _ := url.Parse(mock.URL() + "/")
	env.Jira = &Jira{Exec: env.GitHub.Exec, BaseURL: base, JQL: "project = FS ORDER BY created"}
	st.SetSyncedAt("jira-issues", time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC))

	res, err := syncJiraIssues(context.Background(), env, orchestrator.Inputs{Name: "jira-issues"})
	if err != nil {
		t.Fatalf("syncJiraIssues() error = %v", err)
	}
	if res.Items != 3 {
		t.Errorf("Items = %v, want 3", res.Items)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	first, _ := url.Parse(mock.Requests()[0])
	if want, jql := `(project = FS) AND updated >= "2025-05-01 08:30" ORDER BY key ASC`, first.Query().Get("jql"); jql != want {
		t.Errorf("jql = %q, want %q", jql, want)
	}
	if keys, _ := st.Keys("jira-issues"); fmt.Sprint(keys) != "[FS-1 FS-2 FS-3]" {
		t.Errorf("keys = %v", keys)
	}
}

func TestJiraQuery(t *testing.T) {
	newYork := time.FixedZone("EDT", -4*60*60)
	tokyo := time.FixedZone("JST", 9*60*60)
	since := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		jql   string
		since time.Time
		loc   *time.Location
		want  string
	}{
		{"empty", "", time.Time{}, nil, "ORDER BY key ASC"},
		{"plain", "project = FS", time.Time{}, nil, "(project = FS) ORDER BY key ASC"},
		{"order replaced", "project = FS order by created DESC", time.Time{}, nil, "(project = FS) ORDER BY key ASC"},
		{"since only", "", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), nil, `updated >= "2025-01-02 03:04" ORDER BY key ASC`},
		{"behind UTC", "", since, newYork, `updated >= "2024-05-01 06:00" ORDER BY key ASC`},
		{"ahead of UTC crosses midnight", "", since.Add(5 * time.Hour), tokyo, `updated >= "2024-05-02 00:00" ORDER BY key ASC`},
		{"since in another zone", "", since.In(tokyo), time.UTC, `updated >= "2024-05-01 10:00" ORDER BY key ASC`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jiraQuery(tt.jql, tt.since, tt.loc); got != tt.want {
				t.Errorf("jiraQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}
