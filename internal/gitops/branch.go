// Package gitops manages per-issue working copies: clone/fetch, branch
// creation, commits, and pushes, with a safety gate that keeps automated
// pushes off protected branches.
package gitops

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeBranch is returned when a push targets anything but a bot-owned
// working branch.
var ErrUnsafeBranch = errors.New("refusing to push to unsafe branch")

// branchPattern is the only shape a bot-owned working branch may have.
var branchPattern = regexp.MustCompile(`^issuebot/issue-\d+-[a-z0-9-]+$`)

// maxSlugLen bounds the title-derived part of a branch name.
const maxSlugLen = 48

// BranchName derives the working branch for an issue.
func BranchName(issueNumber int, title string) string {
	return fmt.Sprintf("issuebot/issue-%d-%s", issueNumber, Slug(title))
}

// Slug lowercases the title and squeezes everything that is not a letter or
// digit into single hyphens.
func Slug(title string) string {
	var b strings.Builder
	lastHyphen := true // swallow leading separators
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "issue"
	}
	return s
}

// IsSafeBranch reports whether branch is a bot-owned working branch that is
// safe to push. The repository default branch and the usual protected names
// are never safe, whatever they are called.
func IsSafeBranch(branch, defaultBranch string) bool {
	switch branch {
	case "", "main", "master", defaultBranch:
		return false
	}
	return branchPattern.MatchString(branch)
}
