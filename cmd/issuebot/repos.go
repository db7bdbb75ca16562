package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/issuebot/issuebot/internal/config"
	"github.com/issuebot/issuebot/internal/store"
)

func newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage watched repositories",
	}
	cmd.AddCommand(newReposListCmd(), newReposAddCmd(), newReposRemoveCmd())
	return cmd
}

// openStore loads config and opens the store it points at. Callers own
// closing the returned store.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	st, err := store.NewStoreFromPath(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, cfg, nil
}

func newReposListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List watched repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			repos, err := st.ListRepos()
			if err != nil {
				return fmt.Errorf("failed to list repos: %w", err)
			}
			if len(repos) == 0 {
				fmt.Println("No repositories watched. Add one with 'issuebot repos add owner/name'.")
				return nil
			}
			for _, r := range repos {
				fmt.Println(describeRepo(r))
			}
			return nil
		},
	}
}

// describeRepo renders one line of `repos list` output.
func describeRepo(r *store.Repo) string {
	opts := []string{
		strings.ToLower(r.Mode),
		fmt.Sprintf("max %d iterations", r.MaxIterations),
	}
	if r.CIEnabled {
		opts = append(opts, fmt.Sprintf("ci %dm", r.CITimeoutMinutes))
	}
	if r.AutoMerge {
		opts = append(opts, "auto-merge")
	}
	if r.ReviewEnabled {
		opts = append(opts, "review")
	}
	return fmt.Sprintf("• %s  branch %s  (%s)", r.FullName(), r.DefaultBranch, strings.Join(opts, ", "))
}

func newReposAddCmd() *cobra.Command {
	var (
		branch         string
		mode           string
		maxIterations  int
		maxReview      int
		noCI           bool
		ciTimeout      int
		autoMerge      bool
		reviewEnabled  bool
		securityReview bool
		allowedPaths   []string
	)

	cmd := &cobra.Command{
		Use:   "add owner/name",
		Short: "Watch a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}
			mode = strings.ToUpper(mode)
			if mode != config.ModeAutonomous && mode != config.ModeApprovalGated {
				return fmt.Errorf("invalid mode %q: want %s or %s", mode, config.ModeAutonomous, config.ModeApprovalGated)
			}

			st, cfg, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if branch == "" {
				branch = "main"
				if cfg.GitHub != nil && cfg.GitHub.Token != "" && cfg.GitHub.Token != "${GITHUB_TOKEN}" {
					gh := newGitHubClient(cfg)
					ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
					repo, err := gh.GetRepository(ctx, owner, name)
					cancel()
					if err == nil && repo.DefaultBranch != "" {
						branch = repo.DefaultBranch
					} else {
						fmt.Printf("⚠️  Could not detect default branch, assuming %q (override with --branch)\n", branch)
					}
				}
			}

			row := &store.Repo{
				Owner:                 owner,
				Name:                  name,
				DefaultBranch:         branch,
				Mode:                  mode,
				MaxIterations:         maxIterations,
				MaxReviewIterations:   maxReview,
				CIEnabled:             !noCI,
				CITimeoutMinutes:      ciTimeout,
				AutoMerge:             autoMerge,
				ReviewEnabled:         reviewEnabled,
				SecurityReviewEnabled: securityReview,
				AllowedPaths:          strings.Join(allowedPaths, ","),
			}
			if err := st.UpsertRepo(row); err != nil {
				return fmt.Errorf("failed to add repo: %w", err)
			}

			fmt.Printf("✅ Watching %s/%s (%s, branch %s)\n", owner, name, strings.ToLower(mode), branch)
			fmt.Println("   A running daemon picks it up on the next poll cycle.")
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Default branch (autodetected when empty)")
	cmd.Flags().StringVar(&mode, "mode", config.ModeAutonomous, "Resolution mode: AUTONOMOUS or APPROVAL_GATED")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 5, "Implementation iteration budget")
	cmd.Flags().IntVar(&maxReview, "max-review-iterations", 2, "Review redo budget")
	cmd.Flags().BoolVar(&noCI, "no-ci", false, "Skip waiting for CI checks")
	cmd.Flags().IntVar(&ciTimeout, "ci-timeout", 15, "CI wait budget in minutes")
	cmd.Flags().BoolVar(&autoMerge, "auto-merge", false, "Merge passing pull requests without human sign-off")
	cmd.Flags().BoolVar(&reviewEnabled, "review", false, "Run the independent reviewer on each iteration")
	cmd.Flags().BoolVar(&securityReview, "security-review", false, "Fail reviews that raise security findings")
	cmd.Flags().StringSliceVar(&allowedPaths, "allowed-paths", nil, "Restrict changes to these path prefixes")

	return cmd
}

func newReposRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove owner/name",
		Short: "Stop watching a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.RemoveRepo(owner, name); err != nil {
				return err
			}
			fmt.Printf("✅ Stopped watching %s/%s\n", owner, name)
			return nil
		},
	}
}

// splitRepoArg parses an owner/name argument.
func splitRepoArg(arg string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(arg, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repo %q: want owner/name", arg)
	}
	return owner, name, nil
}
