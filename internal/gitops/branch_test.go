package gitops

import (
	"strings"
	"testing"
)

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Add OAuth2 support", "add-oauth2-support"},
		{"Fix: crash on empty input!!", "fix-crash-on-empty-input"},
		{"  [Bug] parser / lexer  ", "bug-parser-lexer"},
		{"CamelCaseTitle", "camelcasetitle"},
		{"___", "issue"},
		{"", "issue"},
		{"Añadir widget", "a-adir-widget"},
	}
	for _, tt := range tests {
		if got := Slug(tt.title); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestSlugBoundsLength(t *testing.T) {
	got := Slug(strings.Repeat("very long title ", 20))
	if len(got) > maxSlugLen {
		t.Errorf("slug length %d exceeds %d: %q", len(got), maxSlugLen, got)
	}
	if strings.HasSuffix(got, "-") || strings.HasPrefix(got, "-") {
		t.Errorf("slug has dangling hyphen: %q", got)
	}
}

func TestBranchName(t *testing.T) {
	got := BranchName(42, "Add OAuth2 support")
	want := "issuebot/issue-42-add-oauth2-support"
	if got != want {
		t.Errorf("BranchName = %q, want %q", got, want)
	}
	if !IsSafeBranch(got, "main") {
		t.Errorf("generated branch %q must pass the safety check", got)
	}
}

func TestIsSafeBranch(t *testing.T) {
	tests := []struct {
		branch        string
		defaultBranch string
		want          bool
	}{
		{"issuebot/issue-42-add-oauth2", "main", true},
		{"issuebot/issue-1-x", "main", true},
		{"main", "main", false},
		{"master", "main", false},
		{"develop", "develop", false},
		{"issuebot/issue-42-Add", "main", false},
		{"feature/issue-42-x", "main", false},
		{"issuebot/issue--x", "main", false},
		{"issuebot/issue-42-", "main", false},
		{"", "main", false},
	}
	for _, tt := range tests {
		if got := IsSafeBranch(tt.branch, tt.defaultBranch); got != tt.want {
			t.Errorf("IsSafeBranch(%q, %q) = %v, want %v", tt.branch, tt.defaultBranch, got, tt.want)
		}
	}
}
