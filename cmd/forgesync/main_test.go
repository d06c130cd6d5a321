package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/forge-sync/internal/config"
	"github.com/Sternrassler/forge-sync/internal/store"
	"github.com/Sternrassler/forge-sync/internal/testutil"
	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
)

func testConfig(t *testing.T, mock *testutil.MockUpstream) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.GitHub.BaseURL = mock.URL()
	cfg.GitHub.Owner = "acme"
	cfg.GitHub.Repo = "widgets"
	cfg.GitHub.Token = "ghp_test"
	cfg.GitHub.Retries = 1
	cfg.GitHub.RequestsPerSecond = 0
	cfg.Store.Path = filepath.Join(t.TempDir(), "forgesync.db")
	return cfg
}

func TestRunSync(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetPages("/repos/acme/widgets/releases", `[{"id":1,"tag_name":"v1"}]`, `[{"id":2,"tag_name":"v2"}]`)
	mock.SetPages("/repos/acme/widgets/commits", `[{"sha":"abc"}]`)

	cfg := testConfig(t, mock)
	cfg.Sync.Resources = []string{"releases", "commits"}

	var stdout, stderr bytes.Buffer
	if err := runSync(context.Background(), cfg, &stdout, &stderr); err != nil {
		t.Fatalf("runSync() error = %v\n%s", err, stderr.String())
	}

	if !strings.Contains(stdout.String(), "Synced 2 resources") {
		t.Errorf("stdout = %q", stdout.String())
	}
	progress := strings.TrimSpace(stderr.String())
	if strings.Count(progress, "r") != 2 || strings.Count(progress, "c") != 1 {
		t.Errorf("progress = %q, want two r and one c", progress)
	}
	if got := mock.LastRequestHeader().Get("Authorization"); got != "Bearer ghp_test" {
		t.Errorf("Authorization = %q", got)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer st.Close()
	if n, _ := st.Count("releases"); n != 2 {
		t.Errorf("releases = %d, want 2", n)
	}

	var out bytes.Buffer
	if err := printStatus(&out, st, time.Now()); err != nil {
		t.Fatalf("printStatus() error = %v", err)
	}
	lines := strings.Split(out.String(), "\n")
	var sawReleases, sawNever bool
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "releases":
			sawReleases = !strings.Contains(line, "never") && strings.HasSuffix(line, "2")
		case "pulls":
			sawNever = strings.Contains(line, "never")
		}
	}
	if !sawReleases || !sawNever {
		t.Errorf("status output:\n%s", out.String())
	}
}

func TestRunSync_ReportsFailures(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetPages("/repos/acme/widgets/releases", `[{"id":1,"tag_name":"v1"}]`)

	cfg := testConfig(t, mock)
	cfg.Sync.Resources = []string{"releases", "commits"}

	var stdout, stderr bytes.Buffer
	err := runSync(context.Background(), cfg, &stdout, &stderr)

	var agg *orchestrator.AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("runSync() error = %v, want aggregate", err)
	}
	if got := agg.Failed(); len(got) != 1 || got[0] != "commits" {
		t.Errorf("Failed() = %v", got)
	}
	report := stderr.String()
	if !strings.Contains(report, "commits failed to sync") || !strings.Contains(report, "HTTP 404") {
		t.Errorf("stderr = %q", report)
	}
	if strings.Contains(report, "ghp_test") {
		t.Error("report leaks the token")
	}
}

func TestRunSync_UnknownResource(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	cfg := testConfig(t, mock)
	cfg.Sync.Resources = []string{"wikis"}

	err := runSync(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown resource") {
		t.Fatalf("runSync() error = %v", err)
	}
	if mock.GetRequestCount() != 0 {
		t.Errorf("requests = %d, want 0", mock.GetRequestCount())
	}
}

func TestRunSync_Interrupted(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	slow := testutil.NewJSONResponse(`[{"sha":"abc"}]`)
	slow.Delay = 200 * time.Millisecond
	mock.SetResponse("/repos/acme/widgets/commits", slow)

	cfg := testConfig(t, mock)
	cfg.Sync.Resources = []string{"commits"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var stdout bytes.Buffer
	if err := runSync(ctx, cfg, &stdout, &bytes.Buffer{}); err != nil {
		t.Fatalf("runSync() error = %v, want nil on interrupt", err)
	}
	if !strings.Contains(stdout.String(), "interrupted") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestResourcesCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"resources"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"pull-commits", "pulls", "jira-issues", "stats-contributors"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %s:\n%s", want, out.String())
		}
	}
}

func TestQuota(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	reset := time.Now().Add(time.Hour).Unix()
	mock.SetResponse("/rate_limit", testutil.NewJSONResponse(
		`{"resources":{"core":{"limit":5000,"remaining":4321,"reset":`+itoa(reset)+`},"search":{"limit":30,"remaining":30,"reset":`+itoa(reset)+`}}}`))

	var out bytes.Buffer
	if err := printQuota(context.Background(), &out, testConfig(t, mock)); err != nil {
		t.Fatalf("printQuota() error = %v", err)
	}
	if !strings.Contains(out.String(), "core     4321/5000 remaining") {
		t.Errorf("output = %q", out.String())
	}
	if got := mock.LastRequestHeader().Get("Authorization"); got != "Bearer ghp_test" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "https://api.github.com", want: "https://api.github.com/"},
		{raw: "https://ghe.example.com/api/v3", want: "https://ghe.example.com/api/v3/"},
		{raw: "https://jira.example.com/", want: "https://jira.example.com/"},
		{raw: "api.github.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := baseURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("baseURL(%q) = %v, want error", tt.raw, u)
				}
				return
			}
			if err != nil {
				t.Fatalf("baseURL() error = %v", err)
			}
			if u.String() != tt.want {
				t.Errorf("baseURL() = %s, want %s", u, tt.want)
			}
		})
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
