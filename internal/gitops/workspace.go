package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/store"
)

// gitRunner abstracts git execution so workspace logic is testable without
// a git binary.
type gitRunner interface {
	run(ctx context.Context, dir string, args ...string) (string, error)
}

// execGit shells out to the git binary.
type execGit struct{}

func (execGit) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w: %s", args[0], err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// Manager creates per-issue workspaces under a common root.
type Manager struct {
	root   string
	token  string
	git    gitRunner
	logger *slog.Logger
}

// NewManager creates a workspace manager. The token is injected into clone
// URLs for authenticated fetch and push.
func NewManager(root, token string) *Manager {
	return &Manager{
		root:   root,
		token:  token,
		git:    execGit{},
		logger: logging.WithComponent("gitops"),
	}
}

// Workspace returns the working copy handle for one issue. Nothing touches
// the filesystem until Prepare.
func (m *Manager) Workspace(repo *store.Repo, issueNumber int) *Workspace {
	base := filepath.Join(m.root, fmt.Sprintf("%s-%s", repo.Owner, repo.Name), fmt.Sprintf("issue-%d", issueNumber))
	return &Workspace{
		Dir:  filepath.Join(base, "repo"),
		base: base,
		m:    m,
		repo: repo,
	}
}

// Workspace is one issue's isolated checkout. Workers on different issues
// of the same repository never share a working copy.
type Workspace struct {
	Dir  string
	base string
	m    *Manager
	repo *store.Repo
}

// Path returns the checkout directory.
func (w *Workspace) Path() string {
	return w.Dir
}

// Exists reports whether the checkout is already on disk.
func (w *Workspace) Exists() bool {
	_, err := os.Stat(filepath.Join(w.Dir, ".git"))
	return err == nil
}

// Prepare clones the repository on first use and fetches upstream refs on
// every later one.
func (w *Workspace) Prepare(ctx context.Context, cloneURL string) error {
	if w.Exists() {
		if _, err := w.m.git.run(ctx, w.Dir, "fetch", "origin", "--prune"); err != nil {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(w.base, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	authURL, err := w.m.authURL(cloneURL)
	if err != nil {
		return err
	}
	if _, err := w.m.git.run(ctx, "", "clone", authURL, w.Dir); err != nil {
		return err
	}
	w.m.logger.Info("Workspace cloned",
		slog.String("repo", w.repo.FullName()),
		slog.String("dir", w.Dir),
	)
	return nil
}

// EnsureBranch checks out the working branch, creating it from the upstream
// default branch when it does not exist yet. Existing branch history is
// kept: later iterations build on earlier ones.
func (w *Workspace) EnsureBranch(ctx context.Context, branch string) error {
	if _, err := w.m.git.run(ctx, w.Dir, "checkout", branch); err == nil {
		return nil
	}
	base := "origin/" + w.repo.DefaultBranch
	if _, err := w.m.git.run(ctx, w.Dir, "checkout", "-b", branch, base); err != nil {
		return fmt.Errorf("failed to create branch %s from %s: %w", branch, base, err)
	}
	return nil
}

// CommitAll stages and commits everything in the working copy. A clean tree
// is not an error; it reports committed=false so the caller can decide
// whether an empty iteration matters.
func (w *Workspace) CommitAll(ctx context.Context, message string) (bool, error) {
	status, err := w.m.git.run(ctx, w.Dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}

	if _, err := w.m.git.run(ctx, w.Dir, "add", "-A"); err != nil {
		return false, err
	}
	if _, err := w.m.git.run(ctx, w.Dir,
		"-c", "user.name=issuebot",
		"-c", "user.email=issuebot@localhost",
		"commit", "-m", message,
	); err != nil {
		return false, err
	}
	return true, nil
}

// Push publishes the working branch. Any branch that fails the safety check
// is refused before git runs.
func (w *Workspace) Push(ctx context.Context, branch string) error {
	if !IsSafeBranch(branch, w.repo.DefaultBranch) {
		return fmt.Errorf("%w: %q (default %q)", ErrUnsafeBranch, branch, w.repo.DefaultBranch)
	}
	if _, err := w.m.git.run(ctx, w.Dir, "push", "-u", "origin", branch); err != nil {
		return err
	}
	return nil
}

// Diff returns the full diff of the working branch against the upstream
// default branch.
func (w *Workspace) Diff(ctx context.Context) (string, error) {
	return w.m.git.run(ctx, w.Dir, "diff", "origin/"+w.repo.DefaultBranch+"...HEAD")
}

// ChangedFiles lists paths the working branch touches relative to the
// upstream default branch.
func (w *Workspace) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := w.m.git.run(ctx, w.Dir, "diff", "--name-only", "origin/"+w.repo.DefaultBranch+"...HEAD")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Remove deletes the issue workspace from disk.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.base)
}

// authURL injects the token into an https clone URL. Non-https URLs pass
// through untouched so ssh remotes keep working.
func (m *Manager) authURL(cloneURL string) (string, error) {
	if m.token == "" || !strings.HasPrefix(cloneURL, "https://") {
		return cloneURL, nil
	}
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("invalid clone URL: %w", err)
	}
	u.User = url.UserPassword("x-access-token", m.token)
	return u.String(), nil
}
