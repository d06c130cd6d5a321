package main

import (
	"context"
	"fmt"
	"io"
	"time"

	gh "github.com/google/go-github/v80/github"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/forge-sync/internal/config"
	"github.com/Sternrassler/forge-sync/internal/resources"
	"github.com/Sternrassler/forge-sync/pkg/client"
	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/Sternrassler/forge-sync/pkg/ratelimit"
)

func newQuotaCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show the GitHub API quota of the configured token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return printQuota(ctx, cmd.OutOrStdout(), cfg)
		},
	}
}

// printQuota asks GitHub for the live quota and, with Redis enabled, shows
// the state shared between forgesync processes next to it.
func printQuota(ctx context.Context, out io.Writer, cfg *config.Config) error {
	base, err := baseURL(cfg.GitHub.BaseURL)
	if err != nil {
		return fmt.Errorf("github.base_url: %w", err)
	}

	gc := gh.NewClient(client.NewHTTPClient(client.TransportConfig{Token: cfg.GitHub.Token}))
	gc.BaseURL = base
	gc.UserAgent = cfg.GitHub.UserAgent

	limits, _, err := gc.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("fetch rate limits: %w", err)
	}
	for _, rate := range []struct {
		name string
		rate *gh.Rate
	}{
		{"core", limits.GetCore()},
		{"search", limits.GetSearch()},
	} {
		if rate.rate == nil {
			continue
		}
		fmt.Fprintf(out, "%-8s %d/%d remaining, resets %s\n",
			rate.name, rate.rate.Remaining, rate.rate.Limit, rate.rate.Reset.Local().Format(time.TimeOnly))
	}

	if !cfg.Redis.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	state, err := ratelimit.NewTracker(rdb, logging.NewLogger(logging.ComponentCLI)).GetState(ctx, resources.UpstreamGitHub)
	if err != nil {
		return fmt.Errorf("read shared quota: %w", err)
	}
	if state.Limit == 0 {
		fmt.Fprintln(out, "shared   no quota recorded yet")
		return nil
	}
	fmt.Fprintf(out, "shared   %d/%d remaining as of %s, healthy=%t\n",
		state.Remaining, state.Limit, state.LastUpdate.Local().Format(time.TimeOnly), state.IsHealthy)
	return nil
}
