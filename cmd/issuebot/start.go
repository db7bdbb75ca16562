package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/issuebot/issuebot/internal/banner"
	"github.com/issuebot/issuebot/internal/budget"
	"github.com/issuebot/issuebot/internal/codegen"
	"github.com/issuebot/issuebot/internal/config"
	"github.com/issuebot/issuebot/internal/deps"
	"github.com/issuebot/issuebot/internal/engine"
	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/gateway"
	"github.com/issuebot/issuebot/internal/github"
	"github.com/issuebot/issuebot/internal/gitops"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/metrics"
	"github.com/issuebot/issuebot/internal/poller"
	"github.com/issuebot/issuebot/internal/review"
	"github.com/issuebot/issuebot/internal/store"
)

// probeTimeout bounds the startup liveness check of each subprocess tool.
const probeTimeout = 30 * time.Second

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the issuebot daemon",
		Long: `Start polls the watched repositories for agent-ready issues and runs
the resolution workflow until interrupted (Ctrl+C or SIGTERM).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := logging.Init(cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			return runStart(cfg)
		},
	}
}

func runStart(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Probe the codegen tool before opening anything else; without it the
	// daemon can only accumulate failed iterations.
	codegenTool := codegen.NewRunner(cfg.Codegen.Command, cfg.Codegen.Model, cfg.Codegen.Timeout())
	probeCtx, probeCancel := context.WithTimeout(ctx, probeTimeout)
	err := codegenTool.Probe(probeCtx)
	probeCancel()
	if err != nil {
		return fmt.Errorf("codegen tool probe failed: %w", err)
	}

	var reviewTool *review.Runner
	if cfg.Reviewer != nil && len(cfg.Reviewer.Command) > 0 {
		reviewTool = review.NewRunner(cfg.Reviewer.Command, cfg.Reviewer.Model, cfg.Reviewer.Timeout())
		probeCtx, probeCancel = context.WithTimeout(ctx, probeTimeout)
		if err := reviewTool.Probe(probeCtx); err != nil {
			logging.WithComponent("start").Warn("reviewer tool probe failed, review-enabled repos will fail their review phase",
				slog.String("error", err.Error()))
		}
		probeCancel()
	}

	st, err := store.NewStoreFromPath(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	gh := newGitHubClient(cfg)
	if err := seedRepos(ctx, cfg, st, gh); err != nil {
		return err
	}

	recorder := events.NewRecorder(st)
	notifier := events.NewNotifier()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	workspaces := engine.NewGitWorkspaces(gitops.NewManager(cfg.Workspace.Root, cfg.GitHub.Token))
	enforcer := budget.NewEnforcer(st, gh, recorder, notifier, cfg.Engine.CooldownDuration())

	engCfg := engine.Config{
		Store:      st,
		Upstream:   gh,
		Workspaces: workspaces,
		Codegen:    codegenTool,
		Budget:     enforcer,
		Recorder:   recorder,
		Notifier:   notifier,
		Metrics:    m,
		Workers:    cfg.Engine.WorkerCount(),
	}
	// Only assign when a runner exists: a typed-nil Reviewer would look
	// non-nil to the engine and enable review against a dead tool.
	if reviewTool != nil {
		engCfg.Reviewer = reviewTool
	}
	eng := engine.New(engCfg)

	resolver := deps.NewResolver(gh, st, recorder)
	pol := poller.New(poller.Config{
		Store:    st,
		Upstream: gh,
		Engine:   eng,
		Resolver: resolver,
		Recorder: recorder,
		Metrics:  m,
		Interval: cfg.Poller.IntervalDuration(),
	})

	gwCfg := gateway.Config{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.Port,
		Store:    st,
		Recorder: recorder,
		Poller:   pol,
		Metrics:  m,
		Gatherer: registry,
		Version:  version,
	}
	if cfg.Admin.Enabled() {
		gwCfg.Username = cfg.Admin.Username
		gwCfg.Password = cfg.Admin.Password
	}
	gw := gateway.New(gwCfg)
	notifier.RegisterChannel(gw.Channel())

	eng.Start(ctx)
	if err := pol.Start(ctx); err != nil {
		eng.Stop()
		return fmt.Errorf("failed to start poller: %w", err)
	}

	gwErr := make(chan error, 1)
	go func() { gwErr <- gw.Start(ctx) }()

	gatewayAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	banner.Startup(version, gatewayAddr, len(cfg.Repos))
	for _, rc := range cfg.Repos {
		fmt.Printf("   • %s (%s, up to %d iterations)\n", rc.Repo, strings.ToLower(rc.Mode), rc.MaxIterations)
	}
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\n🛑 Shutting down...")
	case err := <-gwErr:
		// The listener failed before any signal (port in use, bad bind
		// address). Unwind the services that did start.
		pol.Stop()
		eng.Stop()
		return fmt.Errorf("gateway failed: %w", err)
	}

	pol.Stop()
	eng.Stop()
	cancel()
	if err := <-gwErr; err != nil {
		logging.WithComponent("start").Error("gateway shutdown failed", slog.String("error", err.Error()))
	}

	fmt.Println("✅ Stopped")
	return nil
}

// newGitHubClient builds the upstream client from config, honoring the
// API URL override used against GitHub Enterprise or test servers.
func newGitHubClient(cfg *config.Config) *github.Client {
	if cfg.GitHub == nil {
		return github.NewClient("")
	}
	if cfg.GitHub.APIURL != "" {
		return github.NewClientWithBaseURL(cfg.GitHub.Token, cfg.GitHub.APIURL)
	}
	return github.NewClient(cfg.GitHub.Token)
}

// seedRepos mirrors the configured repos into the store. The store row is
// what the poller and engine read at runtime; config values win on every
// boot so edits to the file take effect on restart.
func seedRepos(ctx context.Context, cfg *config.Config, st *store.Store, gh *github.Client) error {
	logger := logging.WithComponent("start")
	for _, rc := range cfg.Repos {
		row := repoFromConfig(rc)
		if row.DefaultBranch == "" {
			row.DefaultBranch = detectDefaultBranch(ctx, gh, rc.Owner(), rc.Name())
		}
		if err := st.UpsertRepo(row); err != nil {
			return fmt.Errorf("failed to register repo %s: %w", rc.Repo, err)
		}
		logger.Info("Watching repo",
			slog.String("repo", row.FullName()),
			slog.String("mode", row.Mode),
			slog.String("branch", row.DefaultBranch),
		)
	}
	return nil
}

// repoFromConfig converts a config repo declaration into its store row.
func repoFromConfig(rc *config.RepoConfig) *store.Repo {
	return &store.Repo{
		Owner:                 rc.Owner(),
		Name:                  rc.Name(),
		DefaultBranch:         rc.Branch,
		Mode:                  rc.Mode,
		MaxIterations:         rc.MaxIterations,
		MaxReviewIterations:   rc.MaxReviewIterations,
		CIEnabled:             rc.CI(),
		CITimeoutMinutes:      rc.CITimeoutMinutes,
		AutoMerge:             rc.AutoMerge,
		ReviewEnabled:         rc.ReviewEnabled,
		SecurityReviewEnabled: rc.SecurityReviewEnabled,
		AllowedPaths:          strings.Join(rc.AllowedPaths, ","),
	}
}

// detectDefaultBranch asks the upstream service for the repo's default
// branch; falls back to "main" when the lookup fails so the daemon can
// still start offline.
func detectDefaultBranch(ctx context.Context, gh *github.Client, owner, name string) string {
	detectCtx, detectCancel := context.WithTimeout(ctx, 15*time.Second)
	defer detectCancel()

	repo, err := gh.GetRepository(detectCtx, owner, name)
	if err != nil || repo.DefaultBranch == "" {
		logging.WithComponent("start").Warn("failed to detect default branch, assuming main",
			slog.String("repo", owner+"/"+name))
		return "main"
	}
	return repo.DefaultBranch
}
