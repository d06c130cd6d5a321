package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Sternrassler/forge-sync/internal/config"
	"github.com/Sternrassler/forge-sync/internal/resources"
	"github.com/Sternrassler/forge-sync/internal/store"
	"github.com/Sternrassler/forge-sync/pkg/cache"
	"github.com/Sternrassler/forge-sync/pkg/client"
	"github.com/Sternrassler/forge-sync/pkg/logging"
	"github.com/Sternrassler/forge-sync/pkg/metrics"
	"github.com/Sternrassler/forge-sync/pkg/orchestrator"
	"github.com/Sternrassler/forge-sync/pkg/ratelimit"
)

func newSyncCmd(configPath *string) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "sync [resource...]",
		Short: "Sync resources from GitHub and Jira",
		Long: `Syncs the named resources, or every configured resource when none are
given. Prerequisites of named resources are synced as well. Resources run
concurrently; a failure in one does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("full") {
				cfg.Sync.Full = full
			}
			if len(args) > 0 {
				cfg.Sync.Resources = args
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "ignore the last sync time and fetch everything")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	// Console output when a human is watching, JSON otherwise.
	pretty := cfg.Logging.Pretty || term.IsTerminal(int(os.Stderr.Fd()))
	logging.Setup(logging.Config{Level: level, Pretty: pretty})
	return cfg, nil
}

// runSync wires the stack described by cfg and syncs. Progress symbols go
// to stderr, the summary to stdout.
func runSync(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := logging.NewLogger(logging.ComponentCLI).With().Str("run_id", uuid.NewString()).Logger()

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	env, err := newEnv(cfg, st, rdb, logger)
	if err != nil {
		return err
	}

	ops, deps, err := resources.Build(env, cfg.Sync.Resources)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Listen(cfg.Metrics.Addr)
		if err != nil {
			return err
		}
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	observer := orchestrator.Observers{
		&orchestrator.DotObserver{W: stderr, Symbols: resources.Symbols()},
		orchestrator.LogObserver{Logger: logger},
	}
	result, err := orchestrator.Run(ctx, ops, deps, orchestrator.Options{Observer: observer})
	fmt.Fprintln(stderr)

	if ctx.Err() != nil {
		fmt.Fprintf(stdout, "Sync interrupted: %d of %d resources finished\n",
			len(ops)-result.Count(orchestrator.StatePending), len(ops))
		return nil
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}
	fmt.Fprintf(stdout, "Synced %d resources into %s\n", len(ops), cfg.Store.Path)
	return nil
}

// newEnv builds one executor per upstream; each gets its own authenticated
// transport. Responses are cached and quota state is shared through Redis
// when it is enabled.
func newEnv(cfg *config.Config, st *store.Store, rdb *redis.Client, logger zerolog.Logger) (*resources.Env, error) {
	tracker := ratelimit.NewTracker(rdb, logger)

	var middleware []func(http.RoundTripper) http.RoundTripper
	if rdb != nil {
		middleware = append(middleware, cache.Middleware(cache.NewManager(rdb, cfg.Redis.CacheTTL), logger))
	}

	githubURL, err := baseURL(cfg.GitHub.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("github.base_url: %w", err)
	}
	githubExec, err := client.New(client.Config{
		HTTPClient: client.NewHTTPClient(client.TransportConfig{
			Token:             cfg.GitHub.Token,
			RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
			Burst:             cfg.GitHub.Burst,
			Middleware:        middleware,
		}),
		UserAgent: cfg.GitHub.UserAgent,
		Retries:   cfg.GitHub.Retries,
		Tracker:   tracker,
	})
	if err != nil {
		return nil, err
	}

	env := &resources.Env{
		Store: st,
		GitHub: resources.GitHub{
			Exec:    githubExec,
			BaseURL: githubURL,
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Retries: cfg.GitHub.Retries,
		},
		MaxPages: cfg.Sync.MaxPages,
		Full:     cfg.Sync.Full,
	}

	if cfg.Jira.Enabled() {
		jiraURL, err := baseURL(cfg.Jira.URL)
		if err != nil {
			return nil, fmt.Errorf("jira.url: %w", err)
		}
		loc, err := cfg.Jira.Location()
		if err != nil {
			return nil, fmt.Errorf("jira.timezone: %w", err)
		}
		jiraExec, err := client.New(client.Config{
			HTTPClient: client.NewHTTPClient(client.TransportConfig{
				Username:   cfg.Jira.User,
				Password:   cfg.Jira.Token,
				Middleware: middleware,
			}),
			UserAgent: cfg.GitHub.UserAgent,
			Retries:   cfg.Jira.Retries,
			Tracker:   tracker,
		})
		if err != nil {
			return nil, err
		}
		env.Jira = &resources.Jira{
			Exec:     jiraExec,
			BaseURL:  jiraURL,
			JQL:      cfg.Jira.JQL,
			Retries:  cfg.Jira.Retries,
			Location: loc,
		}
	}
	return env, nil
}

// baseURL parses raw and makes sure relative API paths resolve below it.
func baseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute URL", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u, nil
}
