package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/issuebot/issuebot/internal/banner"
	"github.com/issuebot/issuebot/internal/config"
	"github.com/issuebot/issuebot/internal/dashboard"
	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/store"
)

// Console accents, same muted palette as the dashboard.
var (
	statusOKStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7ec699"))
	statusDimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// newGatewayClient builds a client for the configured gateway address,
// carrying admin credentials when they are set.
func newGatewayClient(cfg *config.Config) *dashboard.Client {
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	username, password := "", ""
	if cfg.Admin.Enabled() {
		username = cfg.Admin.Username
		password = cfg.Admin.Password
	}
	return dashboard.NewClient(addr, username, password)
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and tracked issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			client := newGatewayClient(cfg)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status, err := client.FetchStatus(ctx)
			if err != nil {
				addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
				fmt.Printf("%s issuebot is not running (gateway %s unreachable)\n\n", statusDimStyle.Render("○"), addr)
				fmt.Printf("   Config: %d repo(s), store %s\n", len(cfg.Repos), cfg.Store.Path)
				fmt.Println("   Start it with 'issuebot start'.")
				return nil
			}

			issues, err := client.FetchIssues(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch issues: %w", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(map[string]any{
					"status": status,
					"issues": issues,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			printStatus(os.Stdout, status, issues)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// printStatus renders the human-readable status report.
func printStatus(w io.Writer, status *dashboard.Status, issues []dashboard.Issue) {
	fmt.Fprintf(w, "%s issuebot %s\n\n", statusOKStyle.Render("✓"), status.Version)

	if status.Poller.Running {
		line := fmt.Sprintf("running (every %s)", status.Poller.Interval)
		if status.Poller.NextRun != "" {
			line += ", next run " + status.Poller.NextRun
		}
		fmt.Fprintf(w, "   Poller:  %s\n", statusOKStyle.Render(line))
	} else {
		fmt.Fprintf(w, "   Poller:  %s\n", statusDimStyle.Render("stopped"))
	}
	fmt.Fprintf(w, "   Repos:   %d watched\n", status.Repos)
	fmt.Fprintf(w, "   Issues:  %s\n", summarizeCounts(status.Issues))
	fmt.Fprintf(w, "   Cost:    $%.2f across %d tool calls (%d in / %d out tokens)\n",
		status.Cost.EstimatedCost, status.Cost.Invocations,
		status.Cost.InputTokens, status.Cost.OutputTokens)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "   Tracked issues:")
	if len(issues) == 0 {
		fmt.Fprintln(w, "      "+statusDimStyle.Render("(none)"))
		return
	}
	for _, is := range issues {
		fmt.Fprintf(w, "      %s\n", describeIssue(is))
	}
}

// describeIssue renders one tracked-issue line for the status report.
func describeIssue(is dashboard.Issue) string {
	line := fmt.Sprintf("#%-5d %-20s %-18s %s", is.IssueNumber, is.Repo, is.Status, is.Title)
	if is.Iteration > 0 {
		line += fmt.Sprintf("  (it %d)", is.Iteration)
	}
	if is.BlockedBy != "" {
		line += "  blocked by " + is.BlockedBy
	}
	return line
}

// summarizeCounts renders non-zero per-status counts in lifecycle order.
func summarizeCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, s := range store.KnownStatuses {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(s)))
		}
	}
	if len(parts) == 0 {
		return "none tracked"
	}
	return strings.Join(parts, ", ")
}

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Open the terminal dashboard",
		Long: `Dashboard connects to a running daemon's gateway and renders live
status, tracked issues, and the event feed. Quit with q.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Stray log lines corrupt the alternate-screen display.
			logging.Suppress()

			addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
			username, password := "", ""
			if cfg.Admin.Enabled() {
				username = cfg.Admin.Username
				password = cfg.Admin.Password
			}
			return dashboard.Run(addr, username, password, version)
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()

			if _, err := os.Stat(path); err == nil {
				if !force {
					return showExistingConfig(path)
				}
				backupPath := path + ".bak"
				if err := os.Rename(path, backupPath); err != nil {
					return fmt.Errorf("failed to back up config: %w", err)
				}
				fmt.Printf("📦 Backed up existing config to %s\n\n", backupPath)
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			banner.Print()
			fmt.Printf("   ✅ Config written to %s\n\n", displayPath(path))
			fmt.Println("   Next steps:")
			fmt.Println("   1. Set GITHUB_TOKEN (or edit github.token)")
			fmt.Println("   2. Add repositories: issuebot repos add owner/name")
			fmt.Println("   3. Run: issuebot start")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reinitialize config (backs up existing to .bak)")
	return cmd
}

func showExistingConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	display := displayPath(path)
	fmt.Printf("⚠️  Config already exists: %s\n\n", display)
	fmt.Printf("   Repos:    %d configured\n", len(cfg.Repos))
	fmt.Printf("   Gateway:  %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Printf("   Store:    %s\n\n", cfg.Store.Path)
	fmt.Println("   Options:")
	fmt.Printf("   • Edit:   $EDITOR %s\n", display)
	fmt.Println("   • Reset:  issuebot init --force")
	fmt.Println("   • Start:  issuebot start")
	return nil
}

// displayPath shortens a home-prefixed path to ~ for console output.
func displayPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show issuebot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("issuebot %s\n", version)
			if buildTime != "unknown" {
				fmt.Printf("Built: %s\n", buildTime)
			}
		},
	}
}
