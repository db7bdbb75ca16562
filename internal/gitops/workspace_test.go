package gitops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/store"
)

type fakeGit struct {
	calls [][]string
	out   map[string]string
	fail  map[string]error
}

func (f *fakeGit) run(_ context.Context, _ string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	key := strings.Join(args, " ")
	if err, ok := f.fail[key]; ok {
		return "", err
	}
	return f.out[key], nil
}

// verb returns the git subcommand, skipping -c config pairs.
func verb(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

func (f *fakeGit) verbs() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = verb(c)
	}
	return out
}

func newTestWorkspace(t *testing.T, fake *fakeGit) *Workspace {
	t.Helper()
	if fake.out == nil {
		fake.out = map[string]string{}
	}
	if fake.fail == nil {
		fake.fail = map[string]error{}
	}
	m := &Manager{
		root:   t.TempDir(),
		token:  "tok",
		git:    fake,
		logger: logging.WithComponent("gitops"),
	}
	repo := &store.Repo{Owner: "acme", Name: "widgets", DefaultBranch: "main"}
	return m.Workspace(repo, 42)
}

func TestPrepareClonesWhenMissing(t *testing.T) {
	fake := &fakeGit{}
	w := newTestWorkspace(t, fake)

	if err := w.Prepare(context.Background(), "https://github.com/acme/widgets.git"); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if len(fake.calls) != 1 || fake.calls[0][0] != "clone" {
		t.Fatalf("expected single clone call, got %v", fake.calls)
	}
	if !strings.Contains(fake.calls[0][1], "x-access-token:tok@github.com") {
		t.Errorf("expected token in clone URL, got %q", fake.calls[0][1])
	}
	if fake.calls[0][2] != w.Dir {
		t.Errorf("expected clone into %q, got %q", w.Dir, fake.calls[0][2])
	}
}

func TestPrepareFetchesWhenPresent(t *testing.T) {
	fake := &fakeGit{}
	w := newTestWorkspace(t, fake)
	if err := os.MkdirAll(filepath.Join(w.Dir, ".git"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	if err := w.Prepare(context.Background(), "https://github.com/acme/widgets.git"); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if got := fake.verbs(); len(got) != 1 || got[0] != "fetch" {
		t.Fatalf("expected single fetch call, got %v", got)
	}
}

func TestEnsureBranchCreatesFromDefault(t *testing.T) {
	fake := &fakeGit{
		fail: map[string]error{
			"checkout issuebot/issue-42-add-widget": errors.New("unknown branch"),
		},
	}
	w := newTestWorkspace(t, fake)

	if err := w.EnsureBranch(context.Background(), "issuebot/issue-42-add-widget"); err != nil {
		t.Fatalf("EnsureBranch failed: %v", err)
	}

	last := fake.calls[len(fake.calls)-1]
	want := []string{"checkout", "-b", "issuebot/issue-42-add-widget", "origin/main"}
	if strings.Join(last, " ") != strings.Join(want, " ") {
		t.Errorf("expected branch created from origin/main, got %v", last)
	}
}

func TestEnsureBranchReusesExisting(t *testing.T) {
	fake := &fakeGit{}
	w := newTestWorkspace(t, fake)

	if err := w.EnsureBranch(context.Background(), "issuebot/issue-42-add-widget"); err != nil {
		t.Fatalf("EnsureBranch failed: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single checkout, got %v", fake.calls)
	}
}

func TestCommitAllSkipsCleanTree(t *testing.T) {
	fake := &fakeGit{out: map[string]string{"status --porcelain": "\n"}}
	w := newTestWorkspace(t, fake)

	committed, err := w.CommitAll(context.Background(), "Iteration 1")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if committed {
		t.Error("expected no commit for clean tree")
	}
	if got := fake.verbs(); len(got) != 1 || got[0] != "status" {
		t.Errorf("expected only status call, got %v", got)
	}
}

func TestCommitAllStagesAndCommits(t *testing.T) {
	fake := &fakeGit{out: map[string]string{"status --porcelain": " M parser.go\n"}}
	w := newTestWorkspace(t, fake)

	committed, err := w.CommitAll(context.Background(), "Iteration 1")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if !committed {
		t.Error("expected commit for dirty tree")
	}
	want := []string{"status", "add", "commit"}
	if got := fake.verbs(); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPushRefusesUnsafeBranch(t *testing.T) {
	fake := &fakeGit{}
	w := newTestWorkspace(t, fake)

	for _, branch := range []string{"main", "master", "feature/x", "issuebot/issue-42-Add"} {
		if err := w.Push(context.Background(), branch); !errors.Is(err, ErrUnsafeBranch) {
			t.Errorf("Push(%q): expected ErrUnsafeBranch, got %v", branch, err)
		}
	}
	if len(fake.calls) != 0 {
		t.Errorf("expected no git calls for refused pushes, got %v", fake.calls)
	}
}

func TestPushSafeBranch(t *testing.T) {
	fake := &fakeGit{}
	w := newTestWorkspace(t, fake)

	if err := w.Push(context.Background(), "issuebot/issue-42-add-widget"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	want := "push -u origin issuebot/issue-42-add-widget"
	if got := strings.Join(fake.calls[0], " "); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestChangedFiles(t *testing.T) {
	fake := &fakeGit{out: map[string]string{
		"diff --name-only origin/main...HEAD": "a.go\n\nb/c.go\n",
	}}
	w := newTestWorkspace(t, fake)

	files, err := w.ChangedFiles(context.Background())
	if err != nil {
		t.Fatalf("ChangedFiles failed: %v", err)
	}
	if len(files) != 2 || files[0] != "a.go" || files[1] != "b/c.go" {
		t.Errorf("unexpected files %v", files)
	}
}

func TestAuthURLPassthrough(t *testing.T) {
	m := &Manager{token: "tok"}

	ssh := "git@github.com:acme/widgets.git"
	if got, err := m.authURL(ssh); err != nil || got != ssh {
		t.Errorf("expected ssh URL untouched, got %q (%v)", got, err)
	}

	m.token = ""
	https := "https://github.com/acme/widgets.git"
	if got, err := m.authURL(https); err != nil || got != https {
		t.Errorf("expected URL untouched without token, got %q (%v)", got, err)
	}
}
