// Package deps resolves blocker dependencies between issues: parsing
// "Blocked by" declarations from issue bodies, walking the transitive
// blocker graph with cycle detection, and ordering queued issues with a
// restricted Kahn topological sort.
package deps

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	blockedByLine = regexp.MustCompile(`(?i)^\s*\*\*blocked by:\*\*(.*)$`)
	issueRef      = regexp.MustCompile(`#(\d+)`)
	struckSpan    = regexp.MustCompile(`~~[^~]*~~`)
)

// ParseBlockedBy extracts blocker issue numbers from an issue body.
// Only the first line matching `**Blocked by:** <refs>` (case-insensitive)
// counts; struck-through spans (~~#N~~) mean the blocker is resolved and are
// skipped. References come back in written order.
func ParseBlockedBy(body string) []int {
	for _, line := range strings.Split(body, "\n") {
		m := blockedByLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		refs := struckSpan.ReplaceAllString(m[1], "")

		blockers := []int{}
		for _, match := range issueRef.FindAllStringSubmatch(refs, -1) {
			if num, err := strconv.Atoi(match[1]); err == nil && num > 0 {
				blockers = append(blockers, num)
			}
		}
		return blockers
	}
	return []int{}
}

// ParseBlockerCSV parses a stored comma-separated blocker list. Unparseable
// or non-positive entries are dropped.
func ParseBlockerCSV(csv string) []int {
	if strings.TrimSpace(csv) == "" {
		return []int{}
	}
	parts := strings.Split(csv, ",")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

// FormatBlockerCSV renders blocker numbers as the stored CSV form.
func FormatBlockerCSV(blockers []int) string {
	if len(blockers) == 0 {
		return ""
	}
	parts := make([]string, len(blockers))
	for i, n := range blockers {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
